package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/feedlogapp/feedlog-backend/internal/database"
)

// TextGenerator is satisfied by AIService; tests substitute a stub
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// InsightsService turns the session history into AI-generated summaries and
// answers caregiver questions grounded on recent data.
type InsightsService struct {
	sessions *SessionService
	ai       TextGenerator
}

func NewInsightsService(sessions *SessionService, ai TextGenerator) *InsightsService {
	return &InsightsService{
		sessions: sessions,
		ai:       ai,
	}
}

// GenerateInsights summarizes up to the last 50 sessions
func (s *InsightsService) GenerateInsights(ctx context.Context) (string, error) {
	sessions, err := s.sessions.ListSessions(ctx, 50)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "No sessions logged yet. Log a few feedings to get insights.", nil
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful assistant for parents tracking infant feeding.\n")
	sb.WriteString("Summarize patterns in the following feeding/pumping log and point out anything notable.\n")
	sb.WriteString("Keep it short, supportive, and avoid medical advice.\n\nRecent sessions (newest first):\n")
	writeSessionLines(&sb, sessions)

	return s.ai.GenerateText(ctx, sb.String())
}

// Answer responds to a single question using store stats and recent sessions
// as grounding context
func (s *InsightsService) Answer(ctx context.Context, question string) (string, error) {
	stats, err := s.sessions.Stats(ctx)
	if err != nil {
		return "", err
	}
	sessions, err := s.sessions.ListSessions(ctx, 20)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful assistant for parents tracking infant feeding.\n")
	sb.WriteString("Answer the question using only the data below. If the data does not cover it, say so.\n")
	sb.WriteString("Avoid medical advice.\n\n")
	fmt.Fprintf(&sb, "Totals: %d sessions (%d feeding, %d pumping), %.0f ml overall.\n",
		stats.TotalSessions, stats.FeedingCount, stats.PumpingCount, stats.TotalAmountML)
	if len(sessions) > 0 {
		sb.WriteString("\nRecent sessions (newest first):\n")
		writeSessionLines(&sb, sessions)
	}
	fmt.Fprintf(&sb, "\nQuestion: %s\n", question)

	return s.ai.GenerateText(ctx, sb.String())
}

func writeSessionLines(sb *strings.Builder, sessions []database.FeedingSession) {
	for _, sess := range sessions {
		fmt.Fprintf(sb, "- %s: %s %.1f ml", sess.Timestamp.Format("2006-01-02 15:04"), sess.SessionType, sess.AmountML)
		if sess.DurationMin != nil {
			fmt.Fprintf(sb, ", %.0f min", *sess.DurationMin)
		}
		if sess.Side != "" {
			fmt.Fprintf(sb, ", side %s", sess.Side)
		}
		if sess.Notes != "" {
			fmt.Fprintf(sb, " (%s)", sess.Notes)
		}
		sb.WriteString("\n")
	}
}
