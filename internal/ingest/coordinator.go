package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"energo/internal/bus"
	"energo/internal/logs"
	"energo/internal/regdecode"
	"energo/internal/repo"
	"energo/internal/tstore"
)

var (
	ErrEmptyReading = errors.New("reading has no known fields")
	ErrUnknownField = errors.New("unknown field")
	ErrPermission   = errors.New("permission denied")
)

// PermissionChecker — внешняя проверка доступа; для ядра важен только
// булев результат.
type PermissionChecker interface {
	CanWrite(ctx context.Context, deviceID string) bool
}

// AllowAll — заглушка по умолчанию, пока внешняя система доступа
// не подключена.
type AllowAll struct{}

func (AllowAll) CanWrite(context.Context, string) bool { return true }

// Reading — частичное показание: любое подмножество известных колонок
// плюс необязательная метка времени (иначе — серверное время).
type Reading struct {
	Timestamp *time.Time
	Fields    map[string]float64
}

// Result — что фактически записано.
type Result struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// Coordinator валидирует показание, коммитит его в реляцию устройства
// и после коммита асинхронно публикует копию в поток.
type Coordinator struct {
	db      *gorm.DB
	devices *repo.DeviceStore
	bus     bus.Publisher
	perms   PermissionChecker
}

func NewCoordinator(db *gorm.DB, devices *repo.DeviceStore, pub bus.Publisher, perms PermissionChecker) *Coordinator {
	if perms == nil {
		perms = AllowAll{}
	}
	return &Coordinator{db: db, devices: devices, bus: pub, perms: perms}
}

// Ingest — основной путь записи. Порядок строгий: устройство → доступ →
// валидация полей → INSERT (только присутствующие колонки, остальные
// остаются NULL) → ответ вызывающему. Публикация в поток уходит в
// отдельной горутине уже после коммита: её отказ логируется и никогда
// не доходит до вызывающего.
func (c *Coordinator) Ingest(ctx context.Context, deviceID string, r Reading) (*Result, error) {
	if _, err := c.devices.GetByDeviceID(ctx, deviceID); err != nil {
		return nil, err
	}
	if !c.perms.CanWrite(ctx, deviceID) {
		return nil, ErrPermission
	}
	if err := ValidateFields(r.Fields); err != nil {
		return nil, err
	}

	sql, args := buildInsert(tstore.RelationName(deviceID), r)
	var res Result
	row := c.db.WithContext(ctx).Raw(sql, args...).Row()
	if err := row.Scan(&res.ID, &res.Timestamp); err != nil {
		return nil, fmt.Errorf("%w: insert into %s: %v", tstore.ErrStorage, tstore.RelationName(deviceID), err)
	}

	go c.publish(deviceID, res, r.Fields)
	return &res, nil
}

// IngestRaw — приём сырых регистров: слова декодируются по регистровой
// карте устройства и дальше идут обычным путём. Ошибка декодирования —
// класс валидации, молча подставлять «какое-то» значение нельзя.
func (c *Coordinator) IngestRaw(ctx context.Context, deviceID string, raw map[string][]uint16) (*Result, error) {
	d, err := c.devices.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	mappings, err := d.Mappings()
	if err != nil {
		return nil, fmt.Errorf("%w: register map of %s: %v", repo.ErrBadRegisterMap, deviceID, err)
	}
	rm := make([]regdecode.Mapping, 0, len(mappings))
	for _, m := range mappings {
		rm = append(rm, regdecode.Mapping{
			Name:     m.Name,
			DataType: regdecode.DataType(m.DataType),
			Count:    m.Count,
		})
	}
	fields, err := regdecode.DecodeByMap(rm, raw)
	if err != nil {
		return nil, err
	}
	return c.Ingest(ctx, deviceID, Reading{Fields: fields})
}

// ValidateFields: хотя бы одно известное поле, ни одного неизвестного.
func ValidateFields(fields map[string]float64) error {
	if len(fields) == 0 {
		return ErrEmptyReading
	}
	for name := range fields {
		if !tstore.KnownColumn(name) {
			return fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
	}
	return nil
}

// buildInsert собирает INSERT только из присутствующих колонок в
// каноническом порядке. Имя реляции безопасно по построению, значения —
// через плейсхолдеры. Без метки времени колонку ts не пишем вовсе:
// её подставит DEFAULT now() на сервере.
func buildInsert(rel string, r Reading) (string, []any) {
	cols := make([]string, 0, len(r.Fields)+1)
	args := make([]any, 0, len(r.Fields)+1)
	if r.Timestamp != nil {
		cols = append(cols, "ts")
		args = append(args, r.Timestamp.UTC())
	}
	for _, c := range tstore.MeasurementColumns {
		if v, ok := r.Fields[c]; ok {
			cols = append(cols, c)
			args = append(args, v)
		}
	}
	ph := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id, ts",
		rel, strings.Join(cols, ", "), ph)
	return sql, args
}

// publish — fire-and-forget копия в поток. Отдельный контекст: жизнь
// публикации не привязана к HTTP-запросу, который уже получил ответ.
func (c *Coordinator) publish(deviceID string, res Result, fields map[string]float64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	payload, err := json.Marshal(struct {
		DeviceID  string             `json:"device_id"`
		ID        int64              `json:"id"`
		Timestamp time.Time          `json:"timestamp"`
		Fields    map[string]float64 `json:"fields"`
	}{deviceID, res.ID, res.Timestamp, fields})
	if err != nil {
		logs.Logger.Errorf("ingest: marshal stream payload for %s: %v", deviceID, err)
		return
	}
	if err := c.bus.Publish(ctx, deviceID, payload); err != nil {
		logs.Logger.Warnf("ingest: stream publish for %s (non-critical): %v", deviceID, err)
	}
}
