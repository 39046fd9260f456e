package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/spaces"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TestSenderAlias is the source shown on manual test notifications.
const TestSenderAlias = "测试"

var (
	// ErrChannelNotFound indicates the channel does not exist.
	ErrChannelNotFound = errors.New("notify: channel not found")
	// ErrForbidden indicates the actor does not own the channel.
	ErrForbidden = errors.New("notify: channel belongs to another user")
	// ErrDeliveryFailed indicates the provider did not accept the test message.
	ErrDeliveryFailed = errors.New("notify: delivery failed")
)

// ServiceConfig describes the dependencies of the notify service.
type ServiceConfig struct {
	Database   *gorm.DB
	Spaces     *spaces.Service
	Dispatcher *Dispatcher
	Logger     *zap.Logger
}

// Service exposes user-initiated notification actions.
type Service struct {
	db         *gorm.DB
	spaces     *spaces.Service
	dispatcher *Dispatcher
	logger     *zap.Logger
}

// NewService constructs the notify service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s: %w", opTestChannel, errMissingDatabase)
	}
	if cfg.Spaces == nil || cfg.Dispatcher == nil {
		return nil, fmt.Errorf("%s: spaces and dispatcher are required", opTestChannel)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, spaces: cfg.Spaces, dispatcher: cfg.Dispatcher, logger: logger}, nil
}

// TestChannel sends a sample notification through a channel the actor owns,
// bypassing presence and cooldown. Channel state is left untouched.
func (s *Service) TestChannel(ctx context.Context, channelID uint, actorUserID string) error {
	var channel Channel
	err := s.db.WithContext(ctx).Where("id = ?", channelID).Take(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrChannelNotFound
	}
	if err != nil {
		return fmt.Errorf("%s: load channel: %w", opTestChannel, err)
	}
	if _, err := s.spaces.Authorize(ctx, channel.SpaceID, actorUserID); err != nil {
		return err
	}
	if channel.UserID != actorUserID {
		return ErrForbidden
	}

	title, body := Render(channel, TestSenderAlias)
	err = s.dispatcher.deliver(ctx, channel, Notification{
		Title:     title,
		Body:      body,
		EventType: CategoryTest,
		Timestamp: s.dispatcher.clock().UTC(),
	})
	provider := NormalizeProvider(channel.Provider)
	if err != nil {
		s.dispatcher.observer.NotificationOutcome(provider, ResultFailed)
		s.logger.Warn("test notification failed",
			zap.String("operation", opTestChannel),
			zap.Uint("channel_id", channel.ID),
			zap.String("provider", provider),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	s.dispatcher.observer.NotificationOutcome(provider, ResultSent)
	return nil
}
