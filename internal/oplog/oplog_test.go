package oplog

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&OperationLog{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	return db
}

func TestRecordPersistsDetail(t *testing.T) {
	db := openTestDatabase(t)
	recorder, err := NewRecorder(RecorderConfig{
		Database: db,
		Clock:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}

	recorder.Record(context.Background(), Entry{
		SpaceID:   3,
		UserID:    "u1",
		Action:    ActionChatSend,
		Detail:    map[string]interface{}{"message_id": 42, "message_type": "text"},
		IP:        "10.0.0.1",
		UserAgent: strings.Repeat("a", 600),
	})

	var row OperationLog
	if err := db.Take(&row).Error; err != nil {
		t.Fatalf("expected a stored row: %v", err)
	}
	if row.SpaceID == nil || *row.SpaceID != 3 || row.Action != ActionChatSend {
		t.Fatalf("unexpected row %+v", row)
	}
	if len(row.UserAgent) != 512 {
		t.Fatalf("expected user agent to be truncated, got %d chars", len(row.UserAgent))
	}
	var detail map[string]interface{}
	if err := json.Unmarshal(row.Detail, &detail); err != nil {
		t.Fatalf("detail is not valid json: %v", err)
	}
	if detail["message_type"] != "text" || detail["message_id"].(float64) != 42 {
		t.Fatalf("unexpected detail %v", detail)
	}
	if !row.CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("expected clock timestamp, got %v", row.CreatedAt)
	}
}

func TestRecordSwallowsFailures(t *testing.T) {
	db := openTestDatabase(t)
	if err := db.Migrator().DropTable(&OperationLog{}); err != nil {
		t.Fatalf("failed to drop table: %v", err)
	}
	core, logs := observer.New(zapcore.WarnLevel)
	recorder, err := NewRecorder(RecorderConfig{Database: db, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}

	recorder.Record(context.Background(), Entry{Action: ActionNotifySend})

	if logs.FilterMessage("operation log write failed").Len() != 1 {
		t.Fatalf("expected a warning for the failed write")
	}
}
