package chat

import "time"

// Message types accepted by the ingest pipeline.
const (
	TypeText  = "text"
	TypeImage = "image"
	TypeAudio = "audio"
	TypeVideo = "video"
	TypeLive  = "live"
)

// Message is a persisted chat message. Reply-to fields are denormalized
// copies taken at send time.
type Message struct {
	ID             uint       `gorm:"column:id;primaryKey"`
	SpaceID        uint       `gorm:"column:space_id;not null;index:idx_messages_space_id_id,priority:1"`
	UserID         string     `gorm:"column:user_id;size:190;not null;index"`
	Content        string     `gorm:"column:content;type:text;not null"`
	MessageType    string     `gorm:"column:message_type;size:32;not null;default:text"`
	MediaURL       string     `gorm:"column:media_url;type:text"`
	MediaDuration  *int       `gorm:"column:media_duration"`
	ReplyToID      *uint      `gorm:"column:reply_to_id"`
	ReplyToUserID  string     `gorm:"column:reply_to_user_id;size:190"`
	ReplyToContent string     `gorm:"column:reply_to_content;type:text"`
	ReplyToType    string     `gorm:"column:reply_to_type;size:32"`
	CreatedAt      time.Time  `gorm:"column:created_at;not null"`
	DeletedAt      *time.Time `gorm:"column:deleted_at;index"`
}

// TableName provides the explicit table binding for GORM.
func (Message) TableName() string {
	return "messages"
}
