package services

import (
	"context"
	"errors"
	"time"

	"github.com/feedlogapp/feedlog-backend/internal/database"
	apperrors "github.com/feedlogapp/feedlog-backend/internal/errors"
	"gorm.io/gorm"
)

// SessionInput carries the fields a caller may set when logging a session
type SessionInput struct {
	Timestamp     time.Time
	AmountML      float64
	AmountEntered float64
	UnitEntered   string
	SessionType   string
	Side          string
	Source        string
	Notes         string
	AmountLeftML  *float64
	AmountRightML *float64
	DurationMin   *float64
}

// SessionUpdate is a partial update; nil fields are left untouched
type SessionUpdate struct {
	Timestamp     *time.Time
	AmountML      *float64
	AmountEntered *float64
	UnitEntered   *string
	SessionType   *string
	Side          *string
	Source        *string
	Notes         *string
	AmountLeftML  *float64
	AmountRightML *float64
	DurationMin   *float64
}

// SessionStats summarizes the store for the stats endpoint and the AI prompts
type SessionStats struct {
	TotalSessions int64      `json:"total_sessions"`
	FeedingCount  int64      `json:"feeding_count"`
	PumpingCount  int64      `json:"pumping_count"`
	TotalAmountML float64    `json:"total_amount_ml"`
	LastSessionAt *time.Time `json:"last_session_at,omitempty"`
}

type SessionService struct {
	db *gorm.DB
}

func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{
		db: db,
	}
}

func (s *SessionService) AddSession(ctx context.Context, input SessionInput) (*database.FeedingSession, error) {
	if input.Timestamp.IsZero() {
		return nil, apperrors.NewValidationError("timestamp is required")
	}
	if input.AmountML < 0 || input.AmountML > MaxAmountML {
		return nil, apperrors.NewValidationError("amount_ml out of range")
	}
	if input.DurationMin != nil && (*input.DurationMin < 0 || *input.DurationMin > MaxDurationMin) {
		return nil, apperrors.NewValidationError("duration_min out of range")
	}

	session := &database.FeedingSession{
		Timestamp:     input.Timestamp,
		AmountML:      input.AmountML,
		AmountEntered: input.AmountEntered,
		UnitEntered:   input.UnitEntered,
		SessionType:   normalizeSessionType(input.SessionType),
		Side:          truncate(input.Side, maxShortFieldLength),
		Source:        truncate(input.Source, maxShortFieldLength),
		Notes:         truncate(input.Notes, maxNotesLength),
		AmountLeftML:  input.AmountLeftML,
		AmountRightML: input.AmountRightML,
		DurationMin:   input.DurationMin,
	}
	if session.AmountEntered == 0 {
		session.AmountEntered = input.AmountML
	}
	if session.UnitEntered == "" {
		session.UnitEntered = "ml"
	}

	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	return session, nil
}

// ListSessions returns sessions newest first; limit <= 0 means no limit
func (s *SessionService) ListSessions(ctx context.Context, limit int) ([]database.FeedingSession, error) {
	var sessions []database.FeedingSession
	query := s.db.WithContext(ctx).Order("timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&sessions).Error; err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	return sessions, nil
}

func (s *SessionService) GetSession(ctx context.Context, id uint) (*database.FeedingSession, error) {
	var session database.FeedingSession
	if err := s.db.WithContext(ctx).First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrSessionNotFound
		}
		return nil, apperrors.NewDatabaseError(err)
	}
	return &session, nil
}

func (s *SessionService) UpdateSession(ctx context.Context, id uint, update SessionUpdate) (*database.FeedingSession, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	if update.Timestamp != nil {
		if update.Timestamp.IsZero() {
			return nil, apperrors.NewValidationError("timestamp must be a valid instant")
		}
		session.Timestamp = *update.Timestamp
	}
	if update.AmountML != nil {
		if *update.AmountML < 0 || *update.AmountML > MaxAmountML {
			return nil, apperrors.NewValidationError("amount_ml out of range")
		}
		session.AmountML = *update.AmountML
	}
	if update.AmountEntered != nil {
		session.AmountEntered = *update.AmountEntered
	}
	if update.UnitEntered != nil {
		session.UnitEntered = truncate(*update.UnitEntered, maxShortFieldLength)
	}
	if update.SessionType != nil {
		session.SessionType = normalizeSessionType(*update.SessionType)
	}
	if update.Side != nil {
		session.Side = truncate(*update.Side, maxShortFieldLength)
	}
	if update.Source != nil {
		session.Source = truncate(*update.Source, maxShortFieldLength)
	}
	if update.Notes != nil {
		session.Notes = truncate(*update.Notes, maxNotesLength)
	}
	if update.AmountLeftML != nil {
		session.AmountLeftML = update.AmountLeftML
	}
	if update.AmountRightML != nil {
		session.AmountRightML = update.AmountRightML
	}
	if update.DurationMin != nil {
		if *update.DurationMin < 0 || *update.DurationMin > MaxDurationMin {
			return nil, apperrors.NewValidationError("duration_min out of range")
		}
		session.DurationMin = update.DurationMin
	}

	if err := s.db.WithContext(ctx).Save(session).Error; err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	return session, nil
}

func (s *SessionService) DeleteSession(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&database.FeedingSession{}, id)
	if result.Error != nil {
		return apperrors.NewDatabaseError(result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrSessionNotFound
	}
	return nil
}

// Reset wipes the whole store
func (s *SessionService) Reset(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&database.FeedingSession{}).Error; err != nil {
		return apperrors.NewDatabaseError(err)
	}
	return nil
}

func (s *SessionService) Stats(ctx context.Context) (*SessionStats, error) {
	stats := &SessionStats{}

	if err := s.db.WithContext(ctx).Model(&database.FeedingSession{}).
		Count(&stats.TotalSessions).Error; err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	if err := s.db.WithContext(ctx).Model(&database.FeedingSession{}).
		Where("session_type = ?", database.SessionTypePumping).
		Count(&stats.PumpingCount).Error; err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	stats.FeedingCount = stats.TotalSessions - stats.PumpingCount

	var total struct{ Total float64 }
	if err := s.db.WithContext(ctx).Model(&database.FeedingSession{}).
		Select("COALESCE(SUM(amount_ml), 0) AS total").
		Scan(&total).Error; err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}
	stats.TotalAmountML = total.Total

	var last database.FeedingSession
	err := s.db.WithContext(ctx).Order("timestamp DESC").First(&last).Error
	if err == nil {
		stats.LastSessionAt = &last.Timestamp
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NewDatabaseError(err)
	}

	return stats, nil
}
