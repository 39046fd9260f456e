package spaces

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrMissingIdentity indicates no verified user identifier was supplied.
	ErrMissingIdentity = errors.New("spaces: user identity required")
	// ErrSpaceNotFound indicates the space does not exist or was deleted.
	ErrSpaceNotFound = errors.New("spaces: space not found")
	// ErrNotMember indicates the user is neither the owner nor a member.
	ErrNotMember = errors.New("spaces: user is not a member")
)

// ServiceConfig describes the dependencies required for space lookups.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
}

// Service answers admission, display-profile and read-cursor questions.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService constructs the space service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("spaces: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock}, nil
}

// Find returns the live space with the provided identifier.
func (s *Service) Find(ctx context.Context, spaceID uint) (Space, error) {
	var space Space
	err := s.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", spaceID).
		Take(&space).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Space{}, ErrSpaceNotFound
	}
	if err != nil {
		return Space{}, fmt.Errorf("spaces: load space %d: %w", spaceID, err)
	}
	return space, nil
}

// Authorize admits userID into the space when they own it or are a member.
func (s *Service) Authorize(ctx context.Context, spaceID uint, userID string) (Space, error) {
	userID = normalize(userID)
	if userID == "" {
		return Space{}, ErrMissingIdentity
	}
	space, err := s.Find(ctx, spaceID)
	if err != nil {
		return Space{}, err
	}
	if space.OwnerUserID == userID {
		return space, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&Member{}).
		Where("space_id = ? AND user_id = ?", spaceID, userID).
		Count(&count).Error; err != nil {
		return Space{}, fmt.Errorf("spaces: check membership: %w", err)
	}
	if count == 0 {
		return Space{}, ErrNotMember
	}
	return space, nil
}

// LookupProfiles loads display profiles for the given users in one query.
// Users without a stored profile are absent from the result.
func (s *Service) LookupProfiles(ctx context.Context, spaceID uint, userIDs []string) (map[string]Profile, error) {
	unique := make([]string, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		userID = normalize(userID)
		if userID == "" {
			continue
		}
		if _, ok := seen[userID]; ok {
			continue
		}
		seen[userID] = struct{}{}
		unique = append(unique, userID)
	}
	profiles := make(map[string]Profile, len(unique))
	if len(unique) == 0 {
		return profiles, nil
	}

	var rows []Profile
	if err := s.db.WithContext(ctx).
		Where("space_id = ? AND user_id IN ?", spaceID, unique).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("spaces: lookup profiles: %w", err)
	}
	for _, row := range rows {
		profiles[row.UserID] = row
	}
	return profiles, nil
}

// UpdateReadCursor advances the member's read cursor to messageID and returns
// the stored cursor. The cursor never moves backwards; a missing member row
// is created.
func (s *Service) UpdateReadCursor(ctx context.Context, spaceID uint, userID string, messageID uint) (uint, error) {
	userID = normalize(userID)
	if userID == "" {
		return 0, ErrMissingIdentity
	}
	var stored uint
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.findWith(tx, spaceID); err != nil {
			return err
		}
		now := s.now().UTC()
		var member Member
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("space_id = ? AND user_id = ?", spaceID, userID).
			Take(&member).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cursor := messageID
			member = Member{
				SpaceID:           spaceID,
				UserID:            userID,
				LastReadMessageID: &cursor,
				LastReadAt:        &now,
			}
			if err := tx.Create(&member).Error; err != nil {
				return fmt.Errorf("spaces: create member cursor: %w", err)
			}
			stored = cursor
			return nil
		}
		if err != nil {
			return fmt.Errorf("spaces: load member: %w", err)
		}
		cursor := messageID
		if member.LastReadMessageID != nil && *member.LastReadMessageID > cursor {
			cursor = *member.LastReadMessageID
		}
		if err := tx.Model(&Member{}).
			Where("id = ?", member.ID).
			Updates(map[string]interface{}{
				"last_read_message_id": cursor,
				"last_read_at":         now,
			}).Error; err != nil {
			return fmt.Errorf("spaces: update member cursor: %w", err)
		}
		stored = cursor
		return nil
	})
	if err != nil {
		return 0, err
	}
	return stored, nil
}

func (s *Service) findWith(tx *gorm.DB, spaceID uint) (Space, error) {
	var space Space
	err := tx.Where("id = ? AND deleted_at IS NULL", spaceID).Take(&space).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Space{}, ErrSpaceNotFound
	}
	if err != nil {
		return Space{}, fmt.Errorf("spaces: load space %d: %w", spaceID, err)
	}
	return space, nil
}
