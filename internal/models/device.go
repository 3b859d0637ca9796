package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Device — запись реестра устройств. Инвариант ядра: реляция
// измерений существует тогда и только тогда, когда существует эта
// запись. Поэтому никакого gorm.DeletedAt: мягкое удаление оставило
// бы строку в таблице, и обход сирот считал бы реляцию живой.
type Device struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DeviceID string `gorm:"uniqueIndex;size:128;not null" json:"device_id"`
	Name     string `gorm:"size:255" json:"name"`
	Type     string `gorm:"size:64"  json:"type"`
	Address  string `gorm:"size:255" json:"address"`

	// Регистровая карта: упорядоченный список параметров протокола.
	RegisterMap datatypes.JSON `json:"register_map,omitempty"`

	// Участвует ли устройство в сводных итогах.
	IncludeInTotals bool `json:"include_in_totals"`
}

// RegisterMapping — один параметр регистровой карты.
type RegisterMapping struct {
	Name        string `json:"name"`
	Address     uint16 `json:"address"`
	DataType    string `json:"data_type"`
	Count       int    `json:"count,omitempty"` // только для строковых параметров
	Description string `json:"description,omitempty"`
}

// Mappings разбирает JSON-карту в типизированный список.
func (d *Device) Mappings() ([]RegisterMapping, error) {
	if len(d.RegisterMap) == 0 {
		return nil, nil
	}
	var out []RegisterMapping
	if err := json.Unmarshal(d.RegisterMap, &out); err != nil {
		return nil, err
	}
	return out, nil
}
