package spaces

import (
	"strings"
	"time"
)

// Space is a shared channel scoping messages, membership and notify channels.
type Space struct {
	ID          uint       `gorm:"column:id;primaryKey"`
	Code        string     `gorm:"column:code;size:64;uniqueIndex"`
	OwnerUserID string     `gorm:"column:owner_user_id;size:190;index"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt   *time.Time `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (Space) TableName() string {
	return "spaces"
}

// Member records a non-owner user admitted to a space and their read cursor.
type Member struct {
	ID                uint       `gorm:"column:id;primaryKey"`
	SpaceID           uint       `gorm:"column:space_id;not null;uniqueIndex:uq_space_member,priority:1"`
	UserID            string     `gorm:"column:user_id;size:190;not null;uniqueIndex:uq_space_member,priority:2"`
	JoinedAt          time.Time  `gorm:"column:joined_at;autoCreateTime"`
	LastReadMessageID *uint      `gorm:"column:last_read_message_id"`
	LastReadAt        *time.Time `gorm:"column:last_read_at"`
}

// TableName provides the explicit table binding for GORM.
func (Member) TableName() string {
	return "space_members"
}

// Profile carries the per-space display alias and avatar of a user.
type Profile struct {
	ID        uint      `gorm:"column:id;primaryKey"`
	SpaceID   uint      `gorm:"column:space_id;not null;uniqueIndex:uq_space_user,priority:1"`
	UserID    string    `gorm:"column:user_id;size:190;not null;uniqueIndex:uq_space_user,priority:2"`
	Alias     string    `gorm:"column:alias;size:190;not null;default:''"`
	AvatarURL string    `gorm:"column:avatar_url;size:512"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Profile) TableName() string {
	return "user_aliases"
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
