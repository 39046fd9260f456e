// Package oplog stores the audit trail of user-visible actions.
package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionChatSend   = "chat_send"
	ActionChatDelete = "chat_delete"
	ActionNotifySend = "notify_send"
)

// OperationLog is a single audit row.
type OperationLog struct {
	ID        uint           `gorm:"column:id;primaryKey"`
	SpaceID   *uint          `gorm:"column:space_id;index"`
	UserID    string         `gorm:"column:user_id;size:190;index"`
	Action    string         `gorm:"column:action;size:64;not null;index"`
	Page      string         `gorm:"column:page;size:64"`
	Detail    datatypes.JSON `gorm:"column:detail"`
	IP        string         `gorm:"column:ip;size:64"`
	UserAgent string         `gorm:"column:user_agent;size:512"`
	CreatedAt time.Time      `gorm:"column:created_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (OperationLog) TableName() string {
	return "operation_logs"
}

// Entry describes an action to be recorded.
type Entry struct {
	SpaceID   uint
	UserID    string
	Action    string
	Page      string
	Detail    map[string]interface{}
	IP        string
	UserAgent string
}

// Build converts an entry into a row stamped at the provided time.
func Build(entry Entry, at time.Time) (OperationLog, error) {
	row := OperationLog{
		UserID:    entry.UserID,
		Action:    entry.Action,
		Page:      entry.Page,
		IP:        entry.IP,
		UserAgent: truncate(entry.UserAgent, 512),
		CreatedAt: at.UTC(),
	}
	if entry.SpaceID != 0 {
		spaceID := entry.SpaceID
		row.SpaceID = &spaceID
	}
	if entry.Detail != nil {
		encoded, err := json.Marshal(entry.Detail)
		if err != nil {
			return OperationLog{}, fmt.Errorf("oplog: encode detail: %w", err)
		}
		row.Detail = datatypes.JSON(encoded)
	}
	return row, nil
}

// Write inserts the entry using tx, participating in the caller's transaction.
func Write(tx *gorm.DB, entry Entry, at time.Time) error {
	row, err := Build(entry, at)
	if err != nil {
		return err
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("oplog: insert %s: %w", entry.Action, err)
	}
	return nil
}

// RecorderConfig describes the dependencies of a Recorder.
type RecorderConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
	Clock    func() time.Time
}

// Recorder writes audit rows outside of any caller transaction. Failures are
// logged and never surface to the caller.
type Recorder struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(cfg RecorderConfig) (*Recorder, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("oplog: database connection required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Recorder{db: cfg.Database, logger: logger, now: clock}, nil
}

// Record persists the entry, logging and swallowing any failure.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	if r == nil {
		return
	}
	if err := Write(r.db.WithContext(ctx), entry, r.now()); err != nil {
		r.logger.Warn("operation log write failed",
			zap.String("action", entry.Action),
			zap.Uint("space_id", entry.SpaceID),
			zap.Error(err),
		)
	}
}

func truncate(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
