package chat

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Frame is an inbound socket frame. Frames carrying an event are control
// frames; all others are chat messages.
//
// Numeric and boolean fields are kept raw because clients send them as
// numbers, numeric strings or garbage. Unparseable values read as absent.
type Frame struct {
	Event             string          `json:"event"`
	Typing            json.RawMessage `json:"typing"`
	LastReadMessageID json.RawMessage `json:"last_read_message_id"`

	Content        string          `json:"content"`
	MessageType    string          `json:"message_type"`
	MediaURL       string          `json:"media_url"`
	LiveCoverURL   string          `json:"live_cover_url"`
	LiveVideoURL   string          `json:"live_video_url"`
	MediaDuration  json.RawMessage `json:"media_duration"`
	ClientID       json.RawMessage `json:"client_id"`
	ReplyToID      json.RawMessage `json:"reply_to_id"`
	ReplyToUserID  string          `json:"reply_to_user_id"`
	ReplyToContent string          `json:"reply_to_content"`
	ReplyToType    string          `json:"reply_to_type"`
}

// Input is a chat message submission, independent of its transport.
type Input struct {
	Content        string
	MessageType    string
	MediaURL       string
	LiveCoverURL   string
	LiveVideoURL   string
	MediaDuration  *int
	ClientID       json.RawMessage
	ReplyToID      *uint
	ReplyToUserID  string
	ReplyToContent string
	ReplyToType    string
}

// IsControl reports whether the frame is a control frame.
func (f Frame) IsControl() bool {
	return f.Event != ""
}

// TypingFlag interprets the typing field by truthiness.
func (f Frame) TypingFlag() bool {
	return truthy(f.Typing)
}

// ReadCursor returns the announced read cursor, or 0 when absent or invalid.
func (f Frame) ReadCursor() uint {
	value, ok := looseInt(f.LastReadMessageID)
	if !ok || value <= 0 {
		return 0
	}
	return uint(value)
}

// Input converts a chat frame into an ingest submission.
func (f Frame) Input() Input {
	input := Input{
		Content:        f.Content,
		MessageType:    f.MessageType,
		MediaURL:       f.MediaURL,
		LiveCoverURL:   f.LiveCoverURL,
		LiveVideoURL:   f.LiveVideoURL,
		ClientID:       f.ClientID,
		ReplyToUserID:  f.ReplyToUserID,
		ReplyToContent: f.ReplyToContent,
		ReplyToType:    f.ReplyToType,
	}
	if duration, ok := looseInt(f.MediaDuration); ok && duration >= math.MinInt32 && duration <= math.MaxInt32 {
		value := int(duration)
		input.MediaDuration = &value
	}
	if replyTo, ok := looseInt(f.ReplyToID); ok && replyTo > 0 {
		value := uint(replyTo)
		input.ReplyToID = &value
	}
	return input
}

func looseInt(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return 0, false
	}
	switch value := decoded.(type) {
	case float64:
		if math.IsNaN(value) || math.IsInf(value, 0) || math.Abs(value) > math.MaxInt64/2 {
			return 0, false
		}
		return int64(value), true
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func truthy(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return false
	}
	switch value := decoded.(type) {
	case bool:
		return value
	case float64:
		return value != 0
	case string:
		return value != ""
	case []interface{}:
		return len(value) > 0
	case map[string]interface{}:
		return len(value) > 0
	default:
		return false
	}
}
