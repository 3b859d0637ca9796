package tstore

import (
	"context"
	"fmt"
	"strings"

	"energo/internal/logs"
)

// Таблицы ядра, которые обход сирот не трогает ни при каком совпадении
// имён. Реестр устройств и таблицы доступа сюда входят обязательно.
var protectedTables = map[string]struct{}{
	"devices":                 {},
	"users":                   {},
	"user_device_permissions": {},
}

// ReclaimOrphans — стартовый (и ручной) обход: сносит реляции, чьё
// устройство больше не существует. liveIDs — снимок реестра на момент
// начала обхода; устройство, созданное во время обхода, в снимок не
// попадает и теоретически может с ним гоняться, поэтому штатный запуск —
// до приёма трафика. Обход только удаляет, никогда не создаёт.
//
// Каждый снос независим: отказ по одной реляции логируется и не
// прерывает остальные. Возвращает число снесённых.
func (m *Manager) ReclaimOrphans(ctx context.Context, liveIDs []string) (int, error) {
	keep := make(map[string]struct{}, len(liveIDs))
	for _, id := range liveIDs {
		keep[RelationName(id)] = struct{}{}
	}

	var existing []string
	err := m.db.WithContext(ctx).
		// \_ — чтобы "devices" не попала под шаблон как device+любой символ
		Raw(`SELECT tablename FROM pg_tables WHERE schemaname = current_schema() AND tablename LIKE 'device\_%'`).
		Scan(&existing).Error
	if err != nil {
		return 0, fmt.Errorf("%w: list device relations: %v", ErrStorage, err)
	}

	dropped := 0
	for _, rel := range Orphans(existing, keep) {
		if err := m.db.WithContext(ctx).Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE`, rel)).Error; err != nil {
			logs.Logger.Errorf("orphan sweep: drop %s: %v", rel, err)
			continue
		}
		logs.Logger.Infof("orphan sweep: dropped %s", rel)
		dropped++
	}
	return dropped, nil
}

// Orphans — чистая часть обхода: какие из существующих реляций сироты.
// Защищённые таблицы и всё вне префикса не трогаем.
func Orphans(existing []string, keep map[string]struct{}) []string {
	var out []string
	for _, rel := range existing {
		if !strings.HasPrefix(rel, RelationPrefix) {
			continue
		}
		if _, ok := protectedTables[rel]; ok {
			continue
		}
		if _, ok := keep[rel]; ok {
			continue
		}
		out = append(out, rel)
	}
	return out
}
