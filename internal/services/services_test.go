package services

import (
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/feedlogapp/feedlog-backend/internal/database"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var testDBSeq atomic.Int64

// newTestDB opens an isolated in-memory store per call. The shared-cache DSN
// keeps gorm's pooled connections pointed at the same database; the sequence
// number keeps separate calls (even within one test) from aliasing each other.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s_%d?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"), testDBSeq.Add(1))
	db, err := database.Open(sqlite.Open(dsn))
	require.NoError(t, err)
	return db
}

func seedSession(t *testing.T, db *gorm.DB, timestamp time.Time, sessionType string, amountML float64) *database.FeedingSession {
	t.Helper()
	session := &database.FeedingSession{
		Timestamp:   timestamp,
		AmountML:    amountML,
		SessionType: sessionType,
	}
	require.NoError(t, db.Create(session).Error)
	return session
}

func countSessions(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&database.FeedingSession{}).Count(&count).Error)
	return count
}

func floatPtr(v float64) *float64 {
	return &v
}
