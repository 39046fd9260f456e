// Package chat implements the message ingest pipeline and message history.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/media"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/notify"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/oplog"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/realtime"
	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/spaces"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 100
	maxMessageTypeLen   = 32
)

var (
	// ErrMessageRejected marks a submission that failed validation. Socket
	// callers drop it silently.
	ErrMessageRejected = errors.New("chat: message rejected")
	// ErrMessageNotFound indicates the message does not exist or was deleted.
	ErrMessageNotFound = errors.New("chat: message not found")
	// ErrForbidden indicates the actor may not modify the message.
	ErrForbidden = errors.New("chat: action not permitted")

	errMissingDatabase = errors.New("database handle is required")
	errMissingHub      = errors.New("realtime hub is required")
	errMissingSpaces   = errors.New("space service is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries a stable "<operation>.<reason>" code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew = "chat.service.new"
	opIngest     = "chat.ingest"
	opReadCursor = "chat.read_cursor"
	opDelete     = "chat.delete"
	opHistory    = "chat.history"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// Notifier accepts notification events without blocking.
type Notifier interface {
	Enqueue(event notify.Event) bool
}

// IngestObserver receives ingest outcomes for metrics.
type IngestObserver interface {
	MessageIngested(messageType, result string)
}

// Origin identifies who submitted a message and from where.
type Origin struct {
	SpaceID   uint
	UserID    string
	IP        string
	UserAgent string
}

// ServiceConfig describes the dependencies of the chat service.
type ServiceConfig struct {
	Database *gorm.DB
	Hub      *realtime.Hub
	Spaces   *spaces.Service
	Media    *media.Resolver
	Notifier Notifier
	Recorder *oplog.Recorder
	Observer IngestObserver
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service persists and fans out chat messages.
type Service struct {
	db       *gorm.DB
	hub      *realtime.Hub
	spaces   *spaces.Service
	media    *media.Resolver
	notifier Notifier
	recorder *oplog.Recorder
	observer IngestObserver
	clock    func() time.Time
	logger   *zap.Logger
}

// NewService constructs the chat service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Hub == nil {
		return nil, newServiceError(opServiceNew, "missing_hub", errMissingHub)
	}
	if cfg.Spaces == nil {
		return nil, newServiceError(opServiceNew, "missing_spaces", errMissingSpaces)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	resolver := cfg.Media
	if resolver == nil {
		resolver = media.NewResolver(media.Config{})
	}
	return &Service{
		db:       cfg.Database,
		hub:      cfg.Hub,
		spaces:   cfg.Spaces,
		media:    resolver,
		notifier: cfg.Notifier,
		recorder: cfg.Recorder,
		observer: cfg.Observer,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Ingest validates, persists and broadcasts a chat message, then schedules
// notifications. The origin must already be admitted to the space.
func (s *Service) Ingest(ctx context.Context, origin Origin, input Input) (Payload, error) {
	message, err := s.prepare(origin, input)
	if err != nil {
		s.observe(message.MessageType, "rejected")
		return Payload{}, err
	}

	if err := s.db.WithContext(ctx).Create(&message).Error; err != nil {
		s.logError(opIngest, "persist_failed", err,
			zap.Uint("space_id", origin.SpaceID),
			zap.String("user_id", origin.UserID),
		)
		s.observe(message.MessageType, "failed")
		return Payload{}, newServiceError(opIngest, "persist_failed", err)
	}
	s.observe(message.MessageType, "persisted")

	lookup := []string{message.UserID}
	if message.ReplyToUserID != "" {
		lookup = append(lookup, message.ReplyToUserID)
	}
	profiles, err := s.spaces.LookupProfiles(ctx, message.SpaceID, lookup)
	if err != nil {
		s.logger.Warn("profile lookup failed",
			zap.String("operation", opIngest),
			zap.Uint("space_id", message.SpaceID),
			zap.Error(err),
		)
		profiles = nil
	}

	s.hub.SetTyping(message.SpaceID, message.UserID, false)
	s.hub.BroadcastTyping(message.SpaceID, message.UserID, false)

	payload := s.buildPayload(message, profiles)
	payload.ClientID = input.ClientID
	s.hub.Broadcast(message.SpaceID, payload)

	if s.notifier != nil {
		s.notifier.Enqueue(notify.Event{
			SpaceID:      message.SpaceID,
			Category:     notify.CategoryChat,
			SenderUserID: message.UserID,
			SenderAlias:  profiles[message.UserID].Alias,
		})
	}

	s.recorder.Record(ctx, oplog.Entry{
		SpaceID: message.SpaceID,
		UserID:  message.UserID,
		Action:  oplog.ActionChatSend,
		Page:    "chat",
		Detail: map[string]interface{}{
			"message_id":   message.ID,
			"message_type": message.MessageType,
		},
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
	})

	return payload, nil
}

func (s *Service) prepare(origin Origin, input Input) (Message, error) {
	messageType := strings.ToLower(strings.TrimSpace(input.MessageType))
	if messageType == "" {
		messageType = TypeText
	}
	message := Message{
		SpaceID:        origin.SpaceID,
		UserID:         strings.TrimSpace(origin.UserID),
		Content:        input.Content,
		MessageType:    messageType,
		MediaURL:       media.Strip(strings.TrimSpace(input.MediaURL)),
		MediaDuration:  input.MediaDuration,
		ReplyToID:      input.ReplyToID,
		ReplyToUserID:  strings.TrimSpace(input.ReplyToUserID),
		ReplyToContent: input.ReplyToContent,
		ReplyToType:    input.ReplyToType,
		CreatedAt:      s.clock().UTC(),
	}
	if message.UserID == "" {
		return message, fmt.Errorf("%w: sender required", ErrMessageRejected)
	}
	if len(messageType) > maxMessageTypeLen {
		return message, fmt.Errorf("%w: unknown message type", ErrMessageRejected)
	}

	switch messageType {
	case TypeText:
		message.Content = strings.TrimSpace(message.Content)
		if message.Content == "" {
			return message, fmt.Errorf("%w: empty text", ErrMessageRejected)
		}
	case TypeLive:
		encoded, ok := media.EncodeLive(input.LiveCoverURL, input.LiveVideoURL)
		if !ok {
			return message, fmt.Errorf("%w: live media requires cover and video", ErrMessageRejected)
		}
		message.MediaURL = encoded
	default:
		if message.MediaURL == "" {
			return message, fmt.Errorf("%w: media reference required", ErrMessageRejected)
		}
	}
	return message, nil
}

// UpdateReadCursor records that userID has read up to messageID and
// broadcasts the stored cursor. A zero messageID is ignored.
func (s *Service) UpdateReadCursor(ctx context.Context, spaceID uint, userID string, messageID uint) error {
	if messageID == 0 || strings.TrimSpace(userID) == "" {
		return nil
	}
	cursor, err := s.spaces.UpdateReadCursor(ctx, spaceID, userID, messageID)
	if errors.Is(err, spaces.ErrSpaceNotFound) {
		return nil
	}
	if err != nil {
		s.logError(opReadCursor, "update_failed", err,
			zap.Uint("space_id", spaceID),
			zap.String("user_id", userID),
		)
		return newServiceError(opReadCursor, "update_failed", err)
	}
	s.hub.Broadcast(spaceID, realtime.NewReadUpdateEvent(userID, cursor))
	return nil
}

// Delete soft-deletes a message when actorUserID authored it or owns the
// space, then announces the deletion to the space.
func (s *Service) Delete(ctx context.Context, messageID uint, actorUserID string, origin Origin) error {
	var message Message
	err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", messageID).
		Take(&message).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrMessageNotFound
	}
	if err != nil {
		s.logError(opDelete, "message_select_failed", err, zap.Uint("message_id", messageID))
		return newServiceError(opDelete, "message_select_failed", err)
	}

	space, err := s.spaces.Find(ctx, message.SpaceID)
	if err != nil {
		return err
	}
	if message.UserID != actorUserID && space.OwnerUserID != actorUserID {
		return ErrForbidden
	}

	deletedAt := s.clock().UTC()
	if err := s.db.WithContext(ctx).
		Model(&Message{}).
		Where("id = ?", message.ID).
		Update("deleted_at", deletedAt).Error; err != nil {
		s.logError(opDelete, "message_update_failed", err, zap.Uint("message_id", messageID))
		return newServiceError(opDelete, "message_update_failed", err)
	}

	s.hub.Broadcast(message.SpaceID, realtime.NewMessageDeletedEvent(message.ID))
	s.recorder.Record(ctx, oplog.Entry{
		SpaceID:   message.SpaceID,
		UserID:    actorUserID,
		Action:    oplog.ActionChatDelete,
		Page:      "chat",
		Detail:    map[string]interface{}{"message_id": message.ID},
		IP:        origin.IP,
		UserAgent: origin.UserAgent,
	})
	return nil
}

// HistoryPage is one page of messages in ascending id order.
type HistoryPage struct {
	Messages      []Payload `json:"messages"`
	LastMessageID *uint     `json:"last_message_id"`
	HasMore       bool      `json:"has_more"`
	NextBeforeID  *uint     `json:"next_before_id"`
}

// History returns up to limit live messages older than beforeID (newest when
// beforeID is 0). Limits outside 1..100 are clamped; 0 selects the default.
func (s *Service) History(ctx context.Context, spaceID uint, beforeID uint, limit int) (HistoryPage, error) {
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	query := s.db.WithContext(ctx).
		Where("space_id = ? AND deleted_at IS NULL", spaceID)
	if beforeID > 0 {
		query = query.Where("id < ?", beforeID)
	}
	var rows []Message
	if err := query.Order("id DESC").Limit(limit + 1).Find(&rows).Error; err != nil {
		s.logError(opHistory, "message_select_failed", err, zap.Uint("space_id", spaceID))
		return HistoryPage{}, newServiceError(opHistory, "message_select_failed", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	userIDs := make([]string, 0, len(rows))
	for _, row := range rows {
		userIDs = append(userIDs, row.UserID)
		if row.ReplyToUserID != "" {
			userIDs = append(userIDs, row.ReplyToUserID)
		}
	}
	profiles, err := s.spaces.LookupProfiles(ctx, spaceID, userIDs)
	if err != nil {
		s.logError(opHistory, "profile_lookup_failed", err, zap.Uint("space_id", spaceID))
		return HistoryPage{}, newServiceError(opHistory, "profile_lookup_failed", err)
	}

	page := HistoryPage{Messages: make([]Payload, 0, len(rows)), HasMore: hasMore}
	for index := len(rows) - 1; index >= 0; index-- {
		page.Messages = append(page.Messages, s.buildPayload(rows[index], profiles))
	}
	if len(page.Messages) > 0 {
		last := page.Messages[len(page.Messages)-1].ID
		page.LastMessageID = &last
		if hasMore {
			first := page.Messages[0].ID
			page.NextBeforeID = &first
		}
	}
	return page, nil
}

func (s *Service) observe(messageType, result string) {
	if s.observer == nil {
		return
	}
	s.observer.MessageIngested(metricMessageType(messageType), result)
}

// metricMessageType folds client-chosen types into a fixed label set.
func metricMessageType(messageType string) string {
	switch messageType {
	case TypeText, TypeImage, TypeAudio, TypeVideo, TypeLive:
		return messageType
	default:
		return "other"
	}
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("chat service error", attrs...)
}
