package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/igorsilveira/sqlagent/pkg/a2a"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Open opens the sqlite database at dsn. The same handle backs the task
// store and the audit log.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// sqlite has a single writer and :memory: databases are per connection.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		Close(db)
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type TaskRecord struct {
	ID        string    `gorm:"primaryKey;column:id"`
	SessionID string    `gorm:"column:session_id;not null;index:idx_tasks_session"`
	State     string    `gorm:"column:state;not null"`
	Data      string    `gorm:"column:data;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;index:idx_tasks_updated"`
}

func (TaskRecord) TableName() string {
	return "tasks"
}

// TaskStore persists A2A tasks as JSON documents in sqlite.
type TaskStore struct {
	db *gorm.DB
}

func NewTaskStore(db *gorm.DB) (*TaskStore, error) {
	if err := db.AutoMigrate(&TaskRecord{}); err != nil {
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}
	return &TaskStore{db: db}, nil
}

func (s *TaskStore) Save(ctx context.Context, task *a2a.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("store: marshaling task: %w", err)
	}

	updated := task.Status.Timestamp
	if updated.IsZero() {
		updated = time.Now().UTC()
	}
	rec := &TaskRecord{
		ID:        task.ID,
		SessionID: task.SessionID,
		State:     string(task.Status.State),
		Data:      string(data),
		UpdatedAt: updated,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(rec).Error
}

func (s *TaskStore) Get(ctx context.Context, id string) (*a2a.Task, error) {
	var rec TaskRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("task %q: %w", id, a2a.ErrTaskNotFound)
	}
	if err != nil {
		return nil, err
	}
	return decode(rec)
}

func (s *TaskStore) List(ctx context.Context, filter a2a.TaskFilter) ([]*a2a.Task, error) {
	q := s.db.WithContext(ctx)
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	q = q.Order("updated_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []TaskRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}

	tasks := make([]*a2a.Task, 0, len(recs))
	for _, rec := range recs {
		t, err := decode(rec)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// Prune deletes tasks last updated before the cutoff and reports how many
// were removed.
func (s *TaskStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("updated_at < ?", before).Delete(&TaskRecord{})
	return res.RowsAffected, res.Error
}

func decode(rec TaskRecord) (*a2a.Task, error) {
	var t a2a.Task
	if err := json.Unmarshal([]byte(rec.Data), &t); err != nil {
		return nil, fmt.Errorf("store: decoding task %s: %w", rec.ID, err)
	}
	return &t, nil
}
