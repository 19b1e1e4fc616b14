package taskstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kart-io/sentinel-agent/pkg/errors"
	"github.com/kart-io/sentinel-agent/pkg/scheduling"
)

// taskModel is the scheduled_tasks row.
type taskModel struct {
	OwnerKey  string    `gorm:"primaryKey;size:255"`
	ID        string    `gorm:"primaryKey;size:26"`
	Due       time.Time `gorm:"index;not null"`
	Payload   []byte
	Cron      string `gorm:"size:128"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (taskModel) TableName() string {
	return "scheduled_tasks"
}

func (m taskModel) task() scheduling.Task {
	return scheduling.Task{
		ID:       m.ID,
		OwnerKey: m.OwnerKey,
		Due:      m.Due,
		Payload:  m.Payload,
		Cron:     m.Cron,
	}
}

// SQL keeps task records in a relational table through gorm.
type SQL struct {
	db *gorm.DB
}

var _ scheduling.TaskStore = (*SQL)(nil)

// NewSQL migrates the table and returns the store.
func NewSQL(ctx context.Context, db *gorm.DB) (*SQL, error) {
	if err := db.WithContext(ctx).AutoMigrate(&taskModel{}); err != nil {
		return nil, errors.ErrStore.WithCause(err)
	}
	return &SQL{db: db}, nil
}

func (s *SQL) Save(ctx context.Context, task scheduling.Task) error {
	row := taskModel{
		OwnerKey: task.OwnerKey,
		ID:       task.ID,
		Due:      task.Due.UTC(),
		Payload:  task.Payload,
		Cron:     task.Cron,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_key"}, {Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"due", "payload", "cron", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return errors.ErrStore.WithCause(err)
	}
	return nil
}

func (s *SQL) Delete(ctx context.Context, ownerKey, id string) error {
	err := s.db.WithContext(ctx).
		Where(&taskModel{OwnerKey: ownerKey, ID: id}).
		Delete(&taskModel{}).Error
	if err != nil {
		return errors.ErrStore.WithCause(err)
	}
	return nil
}

func (s *SQL) List(ctx context.Context, ownerKey string) ([]scheduling.Task, error) {
	var rows []taskModel
	err := s.db.WithContext(ctx).
		Where(&taskModel{OwnerKey: ownerKey}).
		Order("due").Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, errors.ErrStore.WithCause(err)
	}

	tasks := make([]scheduling.Task, 0, len(rows))
	for _, row := range rows {
		tasks = append(tasks, row.task())
	}
	return tasks, nil
}
