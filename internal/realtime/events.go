package realtime

// Event names carried in the "event" field of control frames and notices.
const (
	EventPresence       = "presence"
	EventTyping         = "typing"
	EventRead           = "read"
	EventReadUpdate     = "read_update"
	EventMessageDeleted = "message_deleted"
)

// PresenceEvent announces the current online snapshot of a space.
type PresenceEvent struct {
	Event         string   `json:"event"`
	OnlineUserIDs []string `json:"online_user_ids"`
	OnlineCount   int      `json:"online_count"`
}

// TypingEvent announces that a user started or stopped composing.
type TypingEvent struct {
	Event  string `json:"event"`
	UserID string `json:"user_id"`
	Typing bool   `json:"typing"`
}

// ReadUpdateEvent announces a member's read cursor.
type ReadUpdateEvent struct {
	Event             string `json:"event"`
	UserID            string `json:"user_id"`
	LastReadMessageID uint   `json:"last_read_message_id"`
}

// MessageDeletedEvent announces a soft-deleted message.
type MessageDeletedEvent struct {
	Event     string `json:"event"`
	MessageID uint   `json:"message_id"`
}

func NewTypingEvent(userID string, typing bool) TypingEvent {
	return TypingEvent{Event: EventTyping, UserID: userID, Typing: typing}
}

func NewReadUpdateEvent(userID string, lastReadMessageID uint) ReadUpdateEvent {
	return ReadUpdateEvent{Event: EventReadUpdate, UserID: userID, LastReadMessageID: lastReadMessageID}
}

func NewMessageDeletedEvent(messageID uint) MessageDeletedEvent {
	return MessageDeletedEvent{Event: EventMessageDeleted, MessageID: messageID}
}
