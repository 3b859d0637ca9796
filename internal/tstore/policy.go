package tstore

import (
	"context"
	"fmt"
)

// SetRetention вешает на реляцию фоновую задачу, сбрасывающую чанки
// старше days. Идемпотентно: повторная установка того же периода —
// no-op за счёт if_not_exists. Смена периода — снять и поставить заново.
func (m *Manager) SetRetention(ctx context.Context, deviceID string, days int) error {
	if days <= 0 {
		days = m.retentionDays
	}
	rel := RelationName(deviceID)
	sql := fmt.Sprintf(`SELECT add_retention_policy('%s', INTERVAL '%d days', if_not_exists => TRUE)`, rel, days)
	if err := m.db.WithContext(ctx).Exec(sql).Error; err != nil {
		return fmt.Errorf("%w: add_retention_policy %s: %v", ErrStorage, rel, err)
	}
	return nil
}

// RemoveRetention снимает retention-задачу по имени реляции.
// Отсутствие задачи — не ошибка.
func (m *Manager) RemoveRetention(ctx context.Context, deviceID string) error {
	rel := RelationName(deviceID)
	sql := fmt.Sprintf(`SELECT remove_retention_policy('%s', if_exists => TRUE)`, rel)
	if err := m.db.WithContext(ctx).Exec(sql).Error; err != nil {
		return fmt.Errorf("%w: remove_retention_policy %s: %v", ErrStorage, rel, err)
	}
	return nil
}
