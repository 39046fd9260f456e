package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationClampNotifyCooldowns  = "2026-03-01_clamp_notify_cooldowns"
	migrationNormalizeNotifyLabels = "2026-03-01_normalize_notify_labels"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationClampNotifyCooldowns, apply: clampNotifyCooldowns},
		{name: migrationNormalizeNotifyLabels, apply: normalizeNotifyLabels},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

func clampNotifyCooldowns(db *gorm.DB) error {
	if err := db.Model(&notify.Channel{}).
		Where("cooldown_seconds < ?", 0).
		Update("cooldown_seconds", 0).Error; err != nil {
		return err
	}
	return db.Model(&notify.Channel{}).
		Where("cooldown_seconds > ?", notify.MaxCooldownSeconds).
		Update("cooldown_seconds", notify.MaxCooldownSeconds).Error
}

func normalizeNotifyLabels(db *gorm.DB) error {
	providers := []string{notify.ProviderFeishu, notify.ProviderPushbear, notify.ProviderPushdeer, notify.ProviderWebhook}
	if err := db.Model(&notify.Channel{}).
		Where("provider NOT IN ?", providers).
		Update("provider", notify.ProviderFeishu).Error; err != nil {
		return err
	}
	disguises := []string{notify.DisguiseMarket, notify.DisguiseOps, notify.DisguiseSecurity, notify.DisguiseCustom}
	return db.Model(&notify.Channel{}).
		Where("disguise_type NOT IN ?", disguises).
		Update("disguise_type", notify.DisguiseMarket).Error
}
