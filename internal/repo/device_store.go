package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"energo/internal/logs"
	"energo/internal/models"
	"energo/internal/regdecode"
	"energo/internal/tstore"
)

var (
	ErrNotFound       = errors.New("device not found")
	ErrExists         = errors.New("device already exists")
	ErrNameCollision  = errors.New("device id collides with an existing relation name")
	ErrBadRegisterMap = errors.New("bad register map")
)

// DeviceStore — реестр устройств поверх gorm плюс связка с жизненным
// циклом реляций: создание/удаление записи и реляции — одна логическая
// операция, реляция готова до первого приёма показаний.
type DeviceStore struct {
	db  *gorm.DB
	tsm *tstore.Manager
}

func NewDeviceStore(db *gorm.DB, tsm *tstore.Manager) *DeviceStore {
	return &DeviceStore{db: db, tsm: tsm}
}

type CreateInput struct {
	DeviceID        string
	Name            string
	Type            string
	Address         string
	RegisterMap     []models.RegisterMapping
	IncludeInTotals bool
}

// Create регистрирует устройство и сразу же готовит его реляцию.
// Если DDL не прошёл — запись реестра снимается обратно и ошибка
// уходит вызывающему: половинчатого состояния «запись есть, реляции
// нет» мы не оставляем.
func (s *DeviceStore) Create(ctx context.Context, in CreateInput) (*models.Device, error) {
	if strings.TrimSpace(in.DeviceID) == "" {
		in.DeviceID = uuid.NewString()
	}
	if err := validateRegisterMap(in.RegisterMap); err != nil {
		return nil, err
	}

	// Коллизия санитизированных имён: два разных id, дающих одну
	// реляцию, молча перемешали бы чужие данные. Ловим до создания.
	rel := tstore.RelationName(in.DeviceID)
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Device{}).Pluck("device_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("%w: list device ids: %v", tstore.ErrStorage, err)
	}
	for _, id := range ids {
		if id == in.DeviceID {
			return nil, ErrExists
		}
		if tstore.RelationName(id) == rel {
			return nil, fmt.Errorf("%w: %q vs %q", ErrNameCollision, in.DeviceID, id)
		}
	}

	var regMap datatypes.JSON
	if len(in.RegisterMap) > 0 {
		raw, err := json.Marshal(in.RegisterMap)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRegisterMap, err)
		}
		regMap = raw
	}

	d := models.Device{
		DeviceID:        in.DeviceID,
		Name:            in.Name,
		Type:            in.Type,
		Address:         in.Address,
		RegisterMap:     regMap,
		IncludeInTotals: in.IncludeInTotals,
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(&d).Error; err != nil {
		return nil, fmt.Errorf("%w: create device: %v", tstore.ErrStorage, err)
	}

	if err := s.tsm.CreateStore(ctx, d.DeviceID); err != nil {
		// Откат регистрации: без реляции устройство не существует.
		if delErr := s.db.WithContext(ctx).Delete(&d).Error; delErr != nil {
			logs.Logger.Errorf("repo: rollback of device %s after store failure: %v", d.DeviceID, delErr)
		}
		return nil, err
	}

	// Политики — best-effort, их отказ создание не отменяет.
	if err := s.tsm.SetRetention(ctx, d.DeviceID, 0); err != nil {
		logs.Logger.Warnf("repo: default retention for %s: %v", d.DeviceID, err)
	}

	logs.Logger.Infof("device %s registered, relation %s", d.DeviceID, rel)
	return &d, nil
}

// Delete снимает устройство с учёта вместе с его реляцией. Если снос
// реляции не прошёл, запись остаётся: пара «запись+реляция» живёт или
// умирает целиком, хвост доберёт повторный вызов.
func (s *DeviceStore) Delete(ctx context.Context, deviceID string) error {
	d, err := s.GetByDeviceID(ctx, deviceID)
	if err != nil {
		return err
	}

	if err := s.tsm.RemoveRetention(ctx, deviceID); err != nil {
		logs.Logger.Warnf("repo: remove retention for %s: %v", deviceID, err)
	}
	if err := s.tsm.DropStore(ctx, deviceID); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(d).Error; err != nil {
		return fmt.Errorf("%w: delete device %s: %v", tstore.ErrStorage, deviceID, err)
	}
	logs.Logger.Infof("device %s deleted", deviceID)
	return nil
}

func (s *DeviceStore) GetByDeviceID(ctx context.Context, deviceID string) (*models.Device, error) {
	var d models.Device
	err := s.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&d).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get device %s: %v", tstore.ErrStorage, deviceID, err)
	}
	return &d, nil
}

func (s *DeviceStore) List(ctx context.Context) ([]models.Device, error) {
	var out []models.Device
	if err := s.db.WithContext(ctx).Order("device_id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", tstore.ErrStorage, err)
	}
	return out, nil
}

// LiveIDs — снимок идентификаторов для обхода сирот.
func (s *DeviceStore) LiveIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.WithContext(ctx).Model(&models.Device{}).Pluck("device_id", &ids).Error; err != nil {
		return nil, fmt.Errorf("%w: list device ids: %v", tstore.ErrStorage, err)
	}
	return ids, nil
}

// validateRegisterMap проверяет, что карта декодируема: известные типы,
// для строк задано число регистров, имена не пустые и не повторяются.
func validateRegisterMap(mappings []models.RegisterMapping) error {
	seen := make(map[string]struct{}, len(mappings))
	for _, m := range mappings {
		if strings.TrimSpace(m.Name) == "" {
			return fmt.Errorf("%w: empty parameter name", ErrBadRegisterMap)
		}
		if _, dup := seen[m.Name]; dup {
			return fmt.Errorf("%w: duplicate parameter %q", ErrBadRegisterMap, m.Name)
		}
		seen[m.Name] = struct{}{}
		dt := regdecode.DataType(m.DataType)
		if !dt.Valid() {
			return fmt.Errorf("%w: parameter %q: unknown data type %q", ErrBadRegisterMap, m.Name, m.DataType)
		}
		if dt == regdecode.String && m.Count <= 0 {
			return fmt.Errorf("%w: parameter %q: string type needs count", ErrBadRegisterMap, m.Name)
		}
	}
	return nil
}
