package regdecode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// Типы данных регистров (Modbus holding registers, 16 бит на слово).
// Порядок слов для многорегистровых типов фиксирован: big-endian
// (старшее слово первым) — это контракт протокола, не настройка.
type DataType string

const (
	Uint16  DataType = "uint16"
	Int16   DataType = "int16"
	Uint32  DataType = "uint32"
	Float32 DataType = "float32"
	Float64 DataType = "float64"
	String  DataType = "string"
	// PF — четырёхквадрантный коэффициент мощности: знаковое int16,
	// делённое на 1000 (знак кодирует квадрант).
	PF DataType = "pf"
)

var (
	ErrWordCount   = errors.New("register word count mismatch")
	ErrUnknownType = errors.New("unknown register data type")
	ErrNotNumeric  = errors.New("data type does not decode to a number")
)

// Valid сообщает, известен ли тип данных.
func (t DataType) Valid() bool {
	switch t {
	case Uint16, Int16, Uint32, Float32, Float64, String, PF:
		return true
	}
	return false
}

// RegisterCount — сколько регистров требует тип.
// Для String количество задаёт вызывающая сторона, возвращаем 0.
func (t DataType) RegisterCount() int {
	switch t {
	case Uint16, Int16, PF:
		return 1
	case Uint32, Float32:
		return 2
	case Float64:
		return 4
	default:
		return 0
	}
}

// Decode преобразует сырые регистры в числовое значение.
// Несовпадение количества слов с типом — ошибка, молчаливых
// умолчаний здесь быть не должно.
func Decode(t DataType, words []uint16) (float64, error) {
	if n := t.RegisterCount(); n > 0 && len(words) != n {
		return 0, fmt.Errorf("%w: %s needs %d, got %d", ErrWordCount, t, n, len(words))
	}
	switch t {
	case Uint16:
		return float64(words[0]), nil
	case Int16:
		return float64(int16(words[0])), nil
	case Uint32:
		u := uint32(words[0])<<16 | uint32(words[1])
		return float64(u), nil
	case Float32:
		u := uint32(words[0])<<16 | uint32(words[1])
		return float64(math.Float32frombits(u)), nil
	case Float64:
		u := uint64(words[0])<<48 | uint64(words[1])<<32 |
			uint64(words[2])<<16 | uint64(words[3])
		return math.Float64frombits(u), nil
	case PF:
		return float64(int16(words[0])) / 1000, nil
	case String:
		return 0, fmt.Errorf("%w: %s", ErrNotNumeric, t)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

// DecodeString собирает строку из регистров: по два байта на слово
// (старший байт первым), обрезка по первому NUL, битые UTF-8
// последовательности выбрасываются, а не роняют декодирование.
func DecodeString(words []uint16) (string, error) {
	if len(words) == 0 {
		return "", fmt.Errorf("%w: string needs at least 1 register", ErrWordCount)
	}
	buf := make([]byte, 0, len(words)*2)
	for _, w := range words {
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], w)
		buf = append(buf, b[0], b[1])
	}
	if i := strings.IndexByte(string(buf), 0); i >= 0 {
		buf = buf[:i]
	}
	s := strings.ToValidUTF8(string(buf), "")
	return strings.ReplaceAll(s, "�", ""), nil
}

// Mapping — одна строка регистровой карты устройства, достаточная
// для декодирования (имя параметра, тип, число регистров для строк).
type Mapping struct {
	Name     string
	DataType DataType
	Count    int
}

// DecodeByMap декодирует пачку сырых слов по регистровой карте.
// На вход — имя параметра → слова; параметры без карты и строковые
// типы отклоняются: в измерения попадают только числа.
func DecodeByMap(mappings []Mapping, raw map[string][]uint16) (map[string]float64, error) {
	byName := make(map[string]Mapping, len(mappings))
	for _, m := range mappings {
		byName[m.Name] = m
	}
	out := make(map[string]float64, len(raw))
	for name, words := range raw {
		m, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("parameter %q is not in the register map", name)
		}
		if m.DataType == String {
			return nil, fmt.Errorf("parameter %q: %w", name, ErrNotNumeric)
		}
		v, err := Decode(m.DataType, words)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}
