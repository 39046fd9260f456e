// Package notify delivers out-of-band notifications to external push
// providers when activity happens in a space.
package notify

import (
	"strings"
	"time"
)

// Providers supported by the dispatcher.
const (
	ProviderFeishu   = "feishu"
	ProviderPushbear = "pushbear"
	ProviderPushdeer = "pushdeer"
	ProviderWebhook  = "webhook"
)

// Disguise templates.
const (
	DisguiseMarket   = "market"
	DisguiseOps      = "ops"
	DisguiseSecurity = "security"
	DisguiseCustom   = "custom"
)

// Event categories. Only chat and feed events are dispatched to channels.
const (
	CategoryChat = "chat"
	CategoryFeed = "feed"
	CategoryTest = "test"
)

const (
	// DefaultCooldownSeconds is the cooldown of newly created channels.
	DefaultCooldownSeconds = 600
	// MaxCooldownSeconds bounds stored cooldowns.
	MaxCooldownSeconds = 86400
)

// Channel is one user's push destination within a space.
type Channel struct {
	ID              uint       `gorm:"column:id;primaryKey"`
	SpaceID         uint       `gorm:"column:space_id;not null;index"`
	UserID          string     `gorm:"column:user_id;size:190;not null;index"`
	Provider        string     `gorm:"column:provider;size:32;not null"`
	Target          string     `gorm:"column:target;type:text;not null"`
	Remark          string     `gorm:"column:remark;size:190"`
	Enabled         bool       `gorm:"column:enabled;not null"`
	NotifyChat      bool       `gorm:"column:notify_chat;not null"`
	NotifyFeed      bool       `gorm:"column:notify_feed;not null"`
	CooldownSeconds int        `gorm:"column:cooldown_seconds;not null"`
	DisguiseType    string     `gorm:"column:disguise_type;size:32;not null"`
	CustomTitle     string     `gorm:"column:custom_title;size:190"`
	CustomBody      string     `gorm:"column:custom_body;type:text"`
	SkipWhenOnline  bool       `gorm:"column:skip_when_online;not null"`
	LastNotifiedAt  *time.Time `gorm:"column:last_notified_at"`
	CreatedAt       time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Channel) TableName() string {
	return "notify_channels"
}

// NewChannel returns a channel populated with the creation defaults.
func NewChannel(spaceID uint, userID, provider, target string) Channel {
	return Channel{
		SpaceID:         spaceID,
		UserID:          userID,
		Provider:        NormalizeProvider(provider),
		Target:          strings.TrimSpace(target),
		Enabled:         true,
		NotifyChat:      true,
		NotifyFeed:      true,
		CooldownSeconds: DefaultCooldownSeconds,
		DisguiseType:    DisguiseMarket,
		SkipWhenOnline:  true,
	}
}

// NormalizeProvider maps unknown providers to feishu.
func NormalizeProvider(value string) string {
	provider := strings.ToLower(strings.TrimSpace(value))
	switch provider {
	case ProviderFeishu, ProviderPushbear, ProviderPushdeer, ProviderWebhook:
		return provider
	default:
		return ProviderFeishu
	}
}

// NormalizeDisguise maps unknown disguise types to market.
func NormalizeDisguise(value string) string {
	disguise := strings.ToLower(strings.TrimSpace(value))
	switch disguise {
	case DisguiseMarket, DisguiseOps, DisguiseSecurity, DisguiseCustom:
		return disguise
	default:
		return DisguiseMarket
	}
}

// NormalizeCooldown clamps a cooldown into [0, MaxCooldownSeconds].
func NormalizeCooldown(seconds int) int {
	if seconds < 0 {
		return 0
	}
	if seconds > MaxCooldownSeconds {
		return MaxCooldownSeconds
	}
	return seconds
}
