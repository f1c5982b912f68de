package service

import (
	"context"
	"time"

	"nobat/internal/booking"
	"nobat/internal/domain"

	"github.com/rs/zerolog"
)

// SessionService wraps the session repository with logging. One session per
// chat holds the whole booking-in-progress.
type SessionService struct {
	repo   domain.SessionRepository
	logger *zerolog.Logger
}

func NewSessionService(repo domain.SessionRepository, logger *zerolog.Logger) *SessionService {
	return &SessionService{
		repo:   repo,
		logger: logger,
	}
}

// GetSession loads a chat's session, creating a fresh one when none exists.
func (s *SessionService) GetSession(ctx context.Context, chatID int64) (*booking.Session, error) {
	session, err := s.repo.GetSession(ctx, chatID)
	if err != nil {
		s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to get session")
		return nil, err
	}
	if session == nil {
		session = booking.NewSession(chatID)
	}
	return session, nil
}

func (s *SessionService) SaveSession(ctx context.Context, session *booking.Session) error {
	return s.repo.SetSession(ctx, session)
}

func (s *SessionService) ClearSession(ctx context.Context, chatID int64) error {
	return s.repo.ClearSession(ctx, chatID)
}

func (s *SessionService) CheckRateLimit(ctx context.Context, chatID int64, limit int, window time.Duration) (bool, error) {
	return s.repo.CheckRateLimit(ctx, chatID, limit, window)
}
