package tstore

import "strings"

// RelationPrefix — пространство имён реляций устройств. По нему же
// работает обход сирот, поэтому менять его — значит осиротить всё.
const RelationPrefix = "device_"

// RelationName — детерминированное имя реляции для идентификатора
// устройства. Все символы вне [a-z0-9_] заменяются подчёркиванием
// (постгресовые идентификаторы без кавычек складываются в нижний
// регистр, поэтому сразу приводим). Функция тотальна и без побочных
// эффектов; разные сырые id могут дать одно имя — коллизию ловит
// репозиторий при создании устройства, не мы.
func RelationName(deviceID string) string {
	var b strings.Builder
	b.Grow(len(RelationPrefix) + len(deviceID))
	b.WriteString(RelationPrefix)
	for _, r := range strings.ToLower(deviceID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
