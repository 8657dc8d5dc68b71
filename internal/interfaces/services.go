package interfaces

import (
	"context"
	"io"

	"github.com/feedlogapp/feedlog-backend/internal/database"
	"github.com/feedlogapp/feedlog-backend/internal/services"
)

// SessionServiceInterface defines the contract for session CRUD operations
type SessionServiceInterface interface {
	AddSession(ctx context.Context, input services.SessionInput) (*database.FeedingSession, error)
	ListSessions(ctx context.Context, limit int) ([]database.FeedingSession, error)
	GetSession(ctx context.Context, id uint) (*database.FeedingSession, error)
	UpdateSession(ctx context.Context, id uint, update services.SessionUpdate) (*database.FeedingSession, error)
	DeleteSession(ctx context.Context, id uint) error
	Reset(ctx context.Context) error
	Stats(ctx context.Context) (*services.SessionStats, error)
}

// BackupServiceInterface defines the contract for the backup codec
type BackupServiceInterface interface {
	Export(ctx context.Context) ([]byte, error)
	ImportJSON(ctx context.Context, data []byte) (*services.ImportResult, error)
}

// CSVImportServiceInterface defines the contract for tabular imports
type CSVImportServiceInterface interface {
	ImportCSV(ctx context.Context, r io.Reader) (*services.CSVImportResult, error)
}

// InsightsServiceInterface defines the contract for AI-assisted features
type InsightsServiceInterface interface {
	GenerateInsights(ctx context.Context) (string, error)
	Answer(ctx context.Context, question string) (string, error)
}
