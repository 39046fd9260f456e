package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/wormhole/backend/internal/oplog"
	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Dispatch outcomes reported per channel.
const (
	ResultSent            = "sent"
	ResultFailed          = "failed"
	ResultSkippedSelf     = "skipped_self"
	ResultSkippedOnline   = "skipped_online"
	ResultSkippedCooldown = "skipped_cooldown"
)

const (
	opDispatch    = "notify.dispatch"
	opTestChannel = "notify.test_channel"

	defaultRetryInterval = 500 * time.Millisecond
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// Event is a notification trigger raised by activity in a space.
type Event struct {
	SpaceID      uint
	Category     string
	SenderUserID string
	SenderAlias  string
	// Force bypasses the online and cooldown checks.
	Force bool
}

// Outcome is the dispatch result for a single channel.
type Outcome struct {
	ChannelID uint
	Provider  string
	Result    string
}

// PresenceChecker reports whether a user currently has a live connection.
type PresenceChecker interface {
	IsOnline(spaceID uint, userID string) bool
}

// Observer receives delivery metrics.
type Observer interface {
	NotificationOutcome(provider, result string)
	NotificationObserveDuration(provider string, seconds float64)
	NotificationDropped()
}

type noopObserver struct{}

func (noopObserver) NotificationOutcome(string, string) {}

func (noopObserver) NotificationObserveDuration(string, float64) {}

func (noopObserver) NotificationDropped() {}

// DispatcherConfig describes the dependencies of a Dispatcher.
type DispatcherConfig struct {
	Database *gorm.DB
	Presence PresenceChecker
	Senders  map[string]Sender
	Observer Observer
	Logger   *zap.Logger
	Clock    func() time.Time
	// MaxAttempts bounds provider calls per channel; values below 1 mean one.
	MaxAttempts   int
	RetryInterval time.Duration
}

// Dispatcher fans an event out to the eligible notify channels of a space.
type Dispatcher struct {
	db            *gorm.DB
	presence      PresenceChecker
	senders       map[string]Sender
	observer      Observer
	logger        *zap.Logger
	clock         func() time.Time
	maxAttempts   int
	retryInterval time.Duration
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("%s: %w", opDispatch, errMissingDatabase)
	}
	senders := cfg.Senders
	if senders == nil {
		senders = NewSenders(SenderConfig{})
	}
	observer := cfg.Observer
	if observer == nil {
		observer = noopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	interval := cfg.RetryInterval
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	return &Dispatcher{
		db:            cfg.Database,
		presence:      cfg.Presence,
		senders:       senders,
		observer:      observer,
		logger:        logger,
		clock:         clock,
		maxAttempts:   attempts,
		retryInterval: interval,
	}, nil
}

// Dispatch delivers event to every enabled channel subscribed to its
// category. Failures are logged and reported in the outcomes; they never
// abort the remaining channels. Channel state and audit rows are committed
// together after all deliveries.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) []Outcome {
	if event.Category != CategoryChat && event.Category != CategoryFeed {
		return nil
	}

	query := d.db.WithContext(ctx).Where("space_id = ? AND enabled = ?", event.SpaceID, true)
	if event.Category == CategoryChat {
		query = query.Where("notify_chat = ?", true)
	} else {
		query = query.Where("notify_feed = ?", true)
	}
	var channels []Channel
	if err := query.Order("id ASC").Find(&channels).Error; err != nil {
		d.logError(opDispatch, "channel_select_failed", err, zap.Uint("space_id", event.SpaceID))
		return nil
	}
	if len(channels) == 0 {
		return nil
	}

	now := d.clock().UTC()
	outcomes := make([]Outcome, 0, len(channels))
	delivered := make([]Channel, 0, len(channels))
	for _, channel := range channels {
		result := d.evaluate(channel, event, now)
		if result == "" {
			title, body := Render(channel, event.SenderAlias)
			err := d.deliver(ctx, channel, Notification{
				Title:     title,
				Body:      body,
				EventType: event.Category,
				Timestamp: now,
			})
			if err != nil {
				d.logger.Warn("notification delivery failed",
					zap.String("operation", opDispatch),
					zap.Uint("channel_id", channel.ID),
					zap.String("provider", NormalizeProvider(channel.Provider)),
					zap.Error(err),
				)
				result = ResultFailed
			} else {
				result = ResultSent
				delivered = append(delivered, channel)
			}
		}
		provider := NormalizeProvider(channel.Provider)
		d.observer.NotificationOutcome(provider, result)
		outcomes = append(outcomes, Outcome{ChannelID: channel.ID, Provider: provider, Result: result})
	}

	if len(delivered) > 0 {
		d.commit(ctx, event, delivered, now)
	}
	return outcomes
}

// evaluate returns the skip reason for channel, or "" when it should be sent.
func (d *Dispatcher) evaluate(channel Channel, event Event, now time.Time) string {
	if event.SenderUserID != "" && channel.UserID == event.SenderUserID {
		return ResultSkippedSelf
	}
	if event.Force {
		return ""
	}
	if channel.SkipWhenOnline && d.presence != nil && d.presence.IsOnline(event.SpaceID, channel.UserID) {
		return ResultSkippedOnline
	}
	cooldown := NormalizeCooldown(channel.CooldownSeconds)
	if cooldown > 0 && channel.LastNotifiedAt != nil {
		elapsed := now.Sub(channel.LastNotifiedAt.UTC())
		if elapsed < time.Duration(cooldown)*time.Second {
			return ResultSkippedCooldown
		}
	}
	return ""
}

func (d *Dispatcher) commit(ctx context.Context, event Event, delivered []Channel, now time.Time) {
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, channel := range delivered {
			if err := tx.Model(&Channel{}).
				Where("id = ?", channel.ID).
				Update("last_notified_at", now).Error; err != nil {
				return fmt.Errorf("update channel %d: %w", channel.ID, err)
			}
			if err := oplog.Write(tx, oplog.Entry{
				SpaceID: event.SpaceID,
				UserID:  channel.UserID,
				Action:  oplog.ActionNotifySend,
				Page:    "notify",
				Detail: map[string]interface{}{
					"provider":   channel.Provider,
					"event_type": event.Category,
					"channel_id": channel.ID,
				},
			}, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		d.logError(opDispatch, "commit_failed", err, zap.Uint("space_id", event.SpaceID))
	}
}

// deliver sends one notification, retrying with exponential backoff up to
// the configured attempt budget.
func (d *Dispatcher) deliver(ctx context.Context, channel Channel, notification Notification) error {
	provider := NormalizeProvider(channel.Provider)
	sender, ok := d.senders[provider]
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownProvider, provider)
	}

	started := d.clock()
	defer func() {
		d.observer.NotificationObserveDuration(provider, d.clock().Sub(started).Seconds())
	}()

	if d.maxAttempts == 1 {
		return sender.Send(ctx, channel.Target, notification)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.retryInterval
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := sender.Send(ctx, channel.Target, notification)
		if errors.Is(err, errEmptyTarget) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(d.maxAttempts)))
	return err
}

func (d *Dispatcher) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	d.logger.Error("notify dispatcher error", attrs...)
}
