package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"energo/internal/tstore"
)

// ErrNoData — в реляции нет ни одной строки под условие.
var ErrNoData = errors.New("no data")

// Service — чтение рядов: диапазон, последняя точка, агрегаты.
// Существование устройства проверяет слой выше; сюда приходят только
// живые идентификаторы.
type Service struct {
	db           *gorm.DB
	defaultLimit int
	maxLimit     int
}

func NewService(db *gorm.DB, defaultLimit, maxLimit int) *Service {
	if defaultLimit <= 0 {
		defaultLimit = 1000
	}
	if maxLimit <= 0 {
		maxLimit = 10000
	}
	return &Service{db: db, defaultLimit: defaultLimit, maxLimit: maxLimit}
}

// RangeOpts — границы по времени (начало включительно, конец нет,
// обе опциональны) и пагинация.
type RangeOpts struct {
	Start  *time.Time
	End    *time.Time
	Limit  int
	Offset int
}

// Range отдаёт строки от новых к старым. Лимит по умолчанию обязателен:
// неограниченных сканов отсюда не бывает.
func (s *Service) Range(ctx context.Context, deviceID string, opts RangeOpts) ([]map[string]any, error) {
	sql, args := buildRangeSQL(tstore.RelationName(deviceID), opts, s.defaultLimit, s.maxLimit)
	var rows []map[string]any
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: range query: %v", tstore.ErrStorage, err)
	}
	return rows, nil
}

// Latest — единственная самая свежая строка, NULL-колонки как есть.
func (s *Service) Latest(ctx context.Context, deviceID string) (map[string]any, error) {
	rel := tstore.RelationName(deviceID)
	var rows []map[string]any
	err := s.db.WithContext(ctx).
		Raw(fmt.Sprintf("SELECT * FROM %s ORDER BY ts DESC LIMIT 1", rel)).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("%w: latest query: %v", tstore.ErrStorage, err)
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	return rows[0], nil
}

// Stats — сводка одной агрегатной выборкой, без выкачивания строк.
type Stats struct {
	Count          int64      `json:"count"`
	FirstTimestamp *time.Time `json:"first_timestamp"`
	LastTimestamp  *time.Time `json:"last_timestamp"`
	AvgPower       *float64   `json:"avg_power"`
	MaxPower       *float64   `json:"max_power"`
	MinPower       *float64   `json:"min_power"`
	AvgPowerFactor *float64   `json:"avg_power_factor"`
	AvgFrequency   *float64   `json:"avg_frequency"`
}

func (s *Service) Stats(ctx context.Context, deviceID string, start, end *time.Time) (*Stats, error) {
	rel := tstore.RelationName(deviceID)
	sql := fmt.Sprintf(`SELECT
    count(*)    AS count,
    min(ts)     AS first_timestamp,
    max(ts)     AS last_timestamp,
    avg(p_total) AS avg_power,
    max(p_total) AS max_power,
    min(p_total) AS min_power,
    avg(pf_avg) AS avg_power_factor,
    avg(freq)   AS avg_frequency
FROM %s`, rel)
	where, args := timeBounds(start, end)
	sql += where

	var st Stats
	if err := s.db.WithContext(ctx).Raw(sql, args...).Scan(&st).Error; err != nil {
		return nil, fmt.Errorf("%w: stats query: %v", tstore.ErrStorage, err)
	}
	return &st, nil
}

func buildRangeSQL(rel string, opts RangeOpts, defaultLimit, maxLimit int) (string, []any) {
	sql := fmt.Sprintf("SELECT * FROM %s", rel)
	where, args := timeBounds(opts.Start, opts.End)
	sql += where

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	sql += " ORDER BY ts DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)
	return sql, args
}

func timeBounds(start, end *time.Time) (string, []any) {
	var (
		where string
		args  []any
	)
	switch {
	case start != nil && end != nil:
		where = " WHERE ts >= ? AND ts < ?"
		args = []any{start.UTC(), end.UTC()}
	case start != nil:
		where = " WHERE ts >= ?"
		args = []any{start.UTC()}
	case end != nil:
		where = " WHERE ts < ?"
		args = []any{end.UTC()}
	}
	return where, args
}
