package chat

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/spaces"
)

// Payload is the broadcast and history representation of a message.
// Absent optional values serialize as null.
type Payload struct {
	ID               uint            `json:"id"`
	UserID           string          `json:"user_id"`
	Alias            *string         `json:"alias"`
	AvatarURL        *string         `json:"avatar_url"`
	Content          string          `json:"content"`
	MessageType      string          `json:"message_type"`
	MediaURL         *string         `json:"media_url"`
	LiveCoverURL     *string         `json:"live_cover_url"`
	LiveVideoURL     *string         `json:"live_video_url"`
	MediaDuration    *int            `json:"media_duration"`
	CreatedAt        string          `json:"created_at"`
	CreatedAtMillis  int64           `json:"created_at_ts"`
	ClientID         json.RawMessage `json:"client_id"`
	ReplyToID        *uint           `json:"reply_to_id"`
	ReplyToUserID    *string         `json:"reply_to_user_id"`
	ReplyToContent   *string         `json:"reply_to_content"`
	ReplyToType      *string         `json:"reply_to_type"`
	ReplyToAlias     *string         `json:"reply_to_alias"`
	ReplyToAvatarURL *string         `json:"reply_to_avatar_url"`
}

func (s *Service) buildPayload(message Message, profiles map[string]spaces.Profile) Payload {
	payload := Payload{
		ID:              message.ID,
		UserID:          message.UserID,
		Content:         message.Content,
		MessageType:     message.MessageType,
		MediaDuration:   message.MediaDuration,
		CreatedAt:       message.CreatedAt.UTC().Format(time.RFC3339),
		CreatedAtMillis: message.CreatedAt.UnixMilli(),
		ReplyToID:       message.ReplyToID,
		ReplyToUserID:   optional(message.ReplyToUserID),
		ReplyToContent:  optional(message.ReplyToContent),
		ReplyToType:     optional(message.ReplyToType),
	}

	if strings.EqualFold(message.MessageType, TypeLive) {
		cover, video := s.media.LiveMedia(message.MediaURL)
		payload.LiveCoverURL = optional(cover)
		payload.LiveVideoURL = optional(video)
		payload.MediaURL = optional(cover)
	} else {
		payload.MediaURL = optional(s.media.MessageMedia(message.MediaURL, message.MessageType))
	}

	if profile, ok := profiles[message.UserID]; ok {
		payload.Alias = optional(profile.Alias)
		payload.AvatarURL = optional(s.media.Avatar(profile.AvatarURL))
	}
	if message.ReplyToUserID != "" {
		if profile, ok := profiles[message.ReplyToUserID]; ok {
			payload.ReplyToAlias = optional(profile.Alias)
			payload.ReplyToAvatarURL = optional(s.media.Avatar(profile.AvatarURL))
		}
	}
	return payload
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
