package tstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"energo/internal/logs"
)

// ErrStorage — DDL/DML отказ, не объяснимый валидацией или отсутствием
// объекта. Наружу уходит как 5xx; повторять или нет — решает вызывающий.
var ErrStorage = errors.New("storage error")

// Manager управляет жизненным циклом реляций устройств: создание,
// преобразование в гипертаблицу, индексы, сжатие, retention, снос.
type Manager struct {
	db *gorm.DB

	chunkDays         int // интервал чанка гипертаблицы
	compressAfterDays int // порог сжатия, задаётся один раз при создании
	retentionDays     int // retention по умолчанию
}

type Options struct {
	ChunkDays         int
	CompressAfterDays int
	RetentionDays     int
}

func NewManager(db *gorm.DB, opts Options) *Manager {
	if opts.ChunkDays <= 0 {
		opts.ChunkDays = 1
	}
	if opts.CompressAfterDays <= 0 {
		opts.CompressAfterDays = 7
	}
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 90
	}
	return &Manager{
		db:                db,
		chunkDays:         opts.ChunkDays,
		compressAfterDays: opts.CompressAfterDays,
		retentionDays:     opts.RetentionDays,
	}
}

func (m *Manager) RetentionDays() int { return m.retentionDays }

// createStep — один шаг настройки реляции. DDL с изменением структуры
// партиций не откатывается транзакцией, поэтому создание — это явная
// цепочка absent → created → partitioned → compressed, где каждый шаг
// идемпотентен, а восстановление после сбоя — повторный вызов, не rollback.
type createStep struct {
	name       string
	sql        string
	bestEffort bool // сжатие — оптимизация, его отказ не валит создание
}

// CreateStore гарантирует реляцию устройства со всеми её атрибутами.
// Повторный вызов на уже настроенной реляции — no-op: каждый шаг
// выполнен с IF NOT EXISTS / if_not_exists. Конкурентные вызовы для
// одного устройства безопасны по той же причине.
func (m *Manager) CreateStore(ctx context.Context, deviceID string) error {
	rel := RelationName(deviceID)
	for _, s := range m.createSteps(rel) {
		if err := m.db.WithContext(ctx).Exec(s.sql).Error; err != nil {
			if s.bestEffort {
				logs.Logger.Warnf("tstore: %s on %s failed (non-critical): %v", s.name, rel, err)
				continue
			}
			return fmt.Errorf("%w: %s on %s: %v", ErrStorage, s.name, rel, err)
		}
	}
	logs.Logger.Debugf("tstore: relation %s ready", rel)
	return nil
}

func (m *Manager) createSteps(rel string) []createStep {
	cols := make([]string, 0, len(MeasurementColumns))
	for _, c := range MeasurementColumns {
		cols = append(cols, fmt.Sprintf("    %s DOUBLE PRECISION", c))
	}
	// id не primary key: уникальный констрейнт гипертаблицы обязан
	// включать колонку партиционирования, а нам хватает identity.
	createTable := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n"+
			"    id BIGINT GENERATED BY DEFAULT AS IDENTITY NOT NULL,\n"+
			"    ts TIMESTAMPTZ NOT NULL DEFAULT now(),\n%s\n)",
		rel, strings.Join(cols, ",\n"))

	return []createStep{
		{name: "create_table", sql: createTable},
		{name: "create_hypertable", sql: fmt.Sprintf(
			`SELECT create_hypertable('%s', 'ts', chunk_time_interval => INTERVAL '%d day', if_not_exists => TRUE)`,
			rel, m.chunkDays)},
		{name: "index_ts", sql: fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_ts ON %s (ts DESC)`, rel, rel)},
		// частичные индексы по двум самым фильтруемым измерениям
		{name: "index_p_total", sql: fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_p_total ON %s (ts DESC, p_total) WHERE p_total IS NOT NULL`, rel, rel)},
		{name: "index_pf_avg", sql: fmt.Sprintf(
			`CREATE INDEX IF NOT EXISTS idx_%s_pf_avg ON %s (ts DESC, pf_avg) WHERE pf_avg IS NOT NULL`, rel, rel)},
		{name: "enable_compression", bestEffort: true, sql: fmt.Sprintf(
			`ALTER TABLE %s SET (timescaledb.compress, timescaledb.compress_orderby = 'ts DESC')`, rel)},
		{name: "compression_policy", bestEffort: true, sql: fmt.Sprintf(
			`SELECT add_compression_policy('%s', INTERVAL '%d days', if_not_exists => TRUE)`,
			rel, m.compressAfterDays)},
	}
}

// DropStore сносит реляцию устройства. Отсутствие — не ошибка.
func (m *Manager) DropStore(ctx context.Context, deviceID string) error {
	rel := RelationName(deviceID)
	if err := m.db.WithContext(ctx).Exec(fmt.Sprintf(`DROP TABLE IF EXISTS %s CASCADE`, rel)).Error; err != nil {
		return fmt.Errorf("%w: drop %s: %v", ErrStorage, rel, err)
	}
	logs.Logger.Debugf("tstore: relation %s dropped", rel)
	return nil
}
