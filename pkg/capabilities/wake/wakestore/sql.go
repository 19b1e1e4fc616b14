package wakestore

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kart-io/sentinel-agent/pkg/capabilities"
	"github.com/kart-io/sentinel-agent/pkg/capabilities/wake"
	"github.com/kart-io/sentinel-agent/pkg/codec"
	"github.com/kart-io/sentinel-agent/pkg/errors"
)

// registrationModel is the wake_registrations row.
type registrationModel struct {
	Key       string `gorm:"primaryKey;size:255"`
	Kind      string `gorm:"size:128;not null"`
	Config    string `gorm:"type:text;not null"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (registrationModel) TableName() string {
	return "wake_registrations"
}

// SQL keeps registrations in a relational table through gorm.
type SQL struct {
	db *gorm.DB
}

var _ wake.Store = (*SQL)(nil)

// NewSQL migrates the table and returns the store.
func NewSQL(ctx context.Context, db *gorm.DB) (*SQL, error) {
	if err := db.WithContext(ctx).AutoMigrate(&registrationModel{}); err != nil {
		return nil, errors.ErrStore.WithCause(err)
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Put(ctx context.Context, reg wake.Registration) error {
	cfg, err := codec.Marshal(reg.Config)
	if err != nil {
		return errors.ErrStore.WithCause(err)
	}

	row := registrationModel{Key: reg.Key, Kind: string(reg.Kind), Config: string(cfg)}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"kind", "config", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.ErrStore.WithCause(err)
	}
	return nil
}

func (s *SQL) Get(ctx context.Context, key string) (wake.Registration, error) {
	var row registrationModel
	err := s.db.WithContext(ctx).Where(&registrationModel{Key: key}).First(&row).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return wake.Registration{}, errors.ErrRecordNotFound.WithMessagef("registration %q not found", key)
	}
	if err != nil {
		return wake.Registration{}, errors.ErrStore.WithCause(err)
	}
	return row.registration()
}

func (s *SQL) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Delete(&registrationModel{Key: key}).Error; err != nil {
		return errors.ErrStore.WithCause(err)
	}
	return nil
}

func (s *SQL) List(ctx context.Context) ([]wake.Registration, error) {
	var rows []registrationModel
	if err := s.db.WithContext(ctx).Order(clause.OrderByColumn{Column: clause.Column{Name: "key"}}).Find(&rows).Error; err != nil {
		return nil, errors.ErrStore.WithCause(err)
	}

	regs := make([]wake.Registration, 0, len(rows))
	for _, row := range rows {
		reg, err := row.registration()
		if err != nil {
			return nil, err
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

func (m registrationModel) registration() (wake.Registration, error) {
	var cfg capabilities.Config
	if err := codec.Unmarshal([]byte(m.Config), &cfg); err != nil {
		return wake.Registration{}, errors.ErrStore.WithCause(err)
	}
	return wake.Registration{Key: m.Key, Kind: capabilities.Kind(m.Kind), Config: cfg}, nil
}
