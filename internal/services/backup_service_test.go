package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/feedlogapp/feedlog-backend/internal/database"
	apperrors "github.com/feedlogapp/feedlog-backend/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 3, 10, 8, 30, 0, 0, time.UTC)

func importDoc(records ...string) []byte {
	return []byte(fmt.Sprintf(`{"version": 2, "sessions": [%s]}`, strings.Join(records, ",")))
}

func record(fields string) string {
	return "{" + fields + "}"
}

func TestExportImportRoundTrip(t *testing.T) {
	source := newTestDB(t)
	ctx := context.Background()

	sessions := []*database.FeedingSession{
		{
			Timestamp:     baseTime,
			AmountML:      120,
			AmountEntered: 4,
			UnitEntered:   "oz",
			SessionType:   database.SessionTypeFeeding,
			Side:          "left",
			Source:        "bottle",
			Notes:         "fell asleep halfway",
			DurationMin:   floatPtr(22),
		},
		{
			Timestamp:     baseTime.Add(3 * time.Hour),
			AmountML:      90,
			AmountEntered: 90,
			UnitEntered:   "ml",
			SessionType:   database.SessionTypePumping,
			AmountLeftML:  floatPtr(40),
			AmountRightML: floatPtr(50),
		},
		{
			Timestamp:   baseTime.Add(6 * time.Hour),
			AmountML:    60.5,
			SessionType: database.SessionTypeFeeding,
		},
	}
	for _, sess := range sessions {
		require.NoError(t, source.Create(sess).Error)
	}

	data, err := NewBackupService(source).Export(ctx)
	require.NoError(t, err)

	var doc BackupDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, BackupVersion, doc.Version)
	_, err = time.Parse(time.RFC3339, doc.ExportedAt)
	assert.NoError(t, err)
	assert.Len(t, doc.Sessions, 3)

	target := newTestDB(t)
	result, err := NewBackupService(target).ImportJSON(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Imported)
	assert.Equal(t, 0, result.Skipped)

	var restored []database.FeedingSession
	require.NoError(t, target.Order("timestamp ASC").Find(&restored).Error)
	require.Len(t, restored, 3)

	for i, want := range sessions {
		got := restored[i]
		assert.NotZero(t, got.ID)
		assert.Equal(t, want.Timestamp.UnixMilli(), got.Timestamp.UnixMilli())
		assert.Equal(t, want.AmountML, got.AmountML)
		assert.Equal(t, want.SessionType, got.SessionType)
		assert.Equal(t, want.Side, got.Side)
		assert.Equal(t, want.Source, got.Source)
		assert.Equal(t, want.Notes, got.Notes)
		if want.DurationMin != nil {
			require.NotNil(t, got.DurationMin)
			assert.Equal(t, *want.DurationMin, *got.DurationMin)
		}
		if want.AmountLeftML != nil {
			require.NotNil(t, got.AmountLeftML)
			assert.Equal(t, *want.AmountLeftML, *got.AmountLeftML)
		}
	}
}

func TestImportIdempotence(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewBackupService(db)

	doc := importDoc(
		record(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120`),
		record(`"timestamp": "2025-03-10T11:30:00Z", "amount_ml": 90, "session_type": "pumping"`),
	)

	first, err := svc.ImportJSON(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Imported)
	assert.Equal(t, 0, first.Skipped)

	second, err := svc.ImportJSON(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 2, second.Skipped)

	assert.EqualValues(t, 2, countSessions(t, db))
}

func TestDuplicatePrecision(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	svc := NewBackupService(db)

	seedSession(t, db, baseTime, database.SessionTypeFeeding, 100.0)

	// Within 0.05 ml: collapses onto the stored record at 0.1 precision.
	result, err := svc.ImportJSON(ctx, importDoc(
		record(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 100.04`),
	))
	require.NoError(t, err)
	assert.Equal(t, 0, result.Imported)
	assert.Equal(t, 1, result.Skipped)

	// 0.1 ml away: a distinct record.
	result, err = svc.ImportJSON(ctx, importDoc(
		record(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 100.1`),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 0, result.Skipped)

	// Same key, different session type: not a duplicate.
	result, err = svc.ImportJSON(ctx, importDoc(
		record(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 100, "session_type": "pumping"`),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
}

func TestCeilingEnforcement(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db)

	var sb strings.Builder
	sb.WriteString(`{"version": 2, "sessions": [`)
	for i := 0; i <= MaxImportRecords; i++ {
		if i > 0 {
			sb.WriteString(",")
		}
		fmt.Fprintf(&sb, `{"timestamp": %d, "amount_ml": %d}`, baseTime.UnixMilli()+int64(i)*60000, i%500)
	}
	sb.WriteString("]}")

	result, err := svc.ImportJSON(context.Background(), []byte(sb.String()))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "50000")
	assert.EqualValues(t, 0, countSessions(t, db))
}

func TestMalformedRecordIsolation(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db)

	records := make([]string, 0, 11)
	for i := 0; i < 10; i++ {
		records = append(records, record(fmt.Sprintf(
			`"timestamp": "2025-03-10T%02d:00:00Z", "amount_ml": %d`, 8+i, 50+i)))
	}
	records = append(records, record(`"amount_ml": 75`)) // no timestamp

	result, err := svc.ImportJSON(context.Background(), importDoc(records...))
	require.NoError(t, err)
	assert.Equal(t, 10, result.Imported)
	assert.Equal(t, 1, result.Skipped)
}

func TestIntraBatchDedup(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db)

	same := record(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120`)
	result, err := svc.ImportJSON(context.Background(), importDoc(same, same))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	assert.EqualValues(t, 1, countSessions(t, db))
}

func TestUnknownFieldStripping(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db)

	result, err := svc.ImportJSON(context.Background(), importDoc(
		record(`"id": 999, "timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120, "notes": "ok", "favorite_color": "teal", "nested": {"a": 1}`),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)

	var stored database.FeedingSession
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, "ok", stored.Notes)
	assert.Equal(t, 120.0, stored.AmountML)
	assert.NotEqual(t, uint(999), stored.ID, "inbound ids are never reused")
}

func TestBadTopLevelRejection(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantMsg string
	}{
		{"not json", `not json`, "Invalid JSON format"},
		{"empty object", `{}`, "Invalid backup file format"},
		{"array top level", `[]`, "Invalid backup file format"},
		{"missing sessions", `{"version": 2}`, "Invalid backup file format"},
		{"sessions not array", `{"version": 2, "sessions": {}}`, "Invalid backup file format"},
		{"falsy version", `{"version": 0, "sessions": []}`, "Invalid backup file format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			result, err := NewBackupService(db).ImportJSON(context.Background(), []byte(tt.payload))
			require.Error(t, err)
			assert.Nil(t, result)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.EqualValues(t, 0, countSessions(t, db))
		})
	}
}

func TestFieldValidationRules(t *testing.T) {
	tests := []struct {
		name     string
		fields   string
		imported int
		skipped  int
	}{
		{"negative amount", `"timestamp": "2025-03-10T08:30:00Z", "amount_ml": -5`, 0, 1},
		{"absurd amount", `"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 10001`, 0, 1},
		{"amount as string", `"timestamp": "2025-03-10T08:30:00Z", "amount_ml": "120"`, 0, 1},
		{"missing amount", `"timestamp": "2025-03-10T08:30:00Z"`, 0, 1},
		{"unparsable timestamp", `"timestamp": "yesterday-ish", "amount_ml": 120`, 0, 1},
		{"epoch millis timestamp", fmt.Sprintf(`"timestamp": %d, "amount_ml": 120`, baseTime.UnixMilli()), 1, 0},
		{"duration over one day", `"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120, "duration_min": 1441`, 0, 1},
		{"duration at bound", `"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120, "duration_min": 1440`, 1, 0},
		{"negative duration", `"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120, "duration_min": -1`, 0, 1},
		{"bad created_at", `"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120, "created_at": "garbage"`, 0, 1},
		{"bad updated_at", `"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120, "updated_at": "garbage"`, 0, 1},
		{"non-string notes", `"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120, "notes": 42`, 0, 1},
		{"side amount out of range", `"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120, "amount_left_ml": 10001`, 0, 1},
		{"zero amount ok", `"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 0`, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := newTestDB(t)
			result, err := NewBackupService(db).ImportJSON(context.Background(), importDoc(record(tt.fields)))
			require.NoError(t, err)
			assert.Equal(t, tt.imported, result.Imported)
			assert.Equal(t, tt.skipped, result.Skipped)
		})
	}
}

func TestSessionTypeCoercion(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db)

	result, err := svc.ImportJSON(context.Background(), importDoc(
		record(`"timestamp": "2025-03-10T08:00:00Z", "amount_ml": 10, "session_type": "PUMPING"`),
		record(`"timestamp": "2025-03-10T09:00:00Z", "amount_ml": 20, "session_type": "bottle"`),
		record(`"timestamp": "2025-03-10T10:00:00Z", "amount_ml": 30, "session_type": 7`),
		record(`"timestamp": "2025-03-10T11:00:00Z", "amount_ml": 40`),
	))
	require.NoError(t, err)
	assert.Equal(t, 4, result.Imported)

	var stored []database.FeedingSession
	require.NoError(t, db.Order("timestamp ASC").Find(&stored).Error)
	require.Len(t, stored, 4)
	assert.Equal(t, database.SessionTypePumping, stored[0].SessionType)
	assert.Equal(t, database.SessionTypeFeeding, stored[1].SessionType)
	assert.Equal(t, database.SessionTypeFeeding, stored[2].SessionType)
	assert.Equal(t, database.SessionTypeFeeding, stored[3].SessionType)
}

func TestStringTruncation(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db)

	longNotes := strings.Repeat("n", maxNotesLength+500)
	longSide := strings.Repeat("s", maxShortFieldLength+10)

	result, err := svc.ImportJSON(context.Background(), importDoc(
		record(fmt.Sprintf(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120, "notes": %q, "side": %q`, longNotes, longSide)),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)

	var stored database.FeedingSession
	require.NoError(t, db.First(&stored).Error)
	assert.Len(t, stored.Notes, maxNotesLength)
	assert.Len(t, stored.Side, maxShortFieldLength)
}

func TestMultibyteTruncationKeepsValidUTF8(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db)

	// Two-byte runes straddle the byte limit unless truncation respects
	// rune boundaries.
	longSide := strings.Repeat("é", maxShortFieldLength+10)
	result, err := svc.ImportJSON(context.Background(), importDoc(
		record(fmt.Sprintf(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120, "side": %q`, longSide)),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Imported)

	var stored database.FeedingSession
	require.NoError(t, db.First(&stored).Error)
	assert.True(t, utf8.ValidString(stored.Side))
	assert.Equal(t, maxShortFieldLength, utf8.RuneCountInString(stored.Side))
}

func TestTransactionFailureLeavesNothingPersisted(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db)

	// Force the second insert of the batch to violate a constraint.
	require.NoError(t, db.Exec("CREATE UNIQUE INDEX idx_feeding_sessions_ts ON feeding_sessions(timestamp)").Error)

	result, err := svc.ImportJSON(context.Background(), importDoc(
		record(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 100`),
		record(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 200`),
	))
	require.Error(t, err)
	assert.Nil(t, result)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrorTypeImport, appErr.Type)
	assert.EqualValues(t, 0, countSessions(t, db), "partial batches must never land")
}

func TestImportDefaultsBookkeepingDates(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db)

	before := time.Now().Add(-time.Second)
	_, err := svc.ImportJSON(context.Background(), importDoc(
		record(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120`),
	))
	require.NoError(t, err)

	var stored database.FeedingSession
	require.NoError(t, db.First(&stored).Error)
	assert.True(t, stored.CreatedAt.After(before))
	assert.True(t, stored.UpdatedAt.After(before))
}

func TestImportKeepsProvidedBookkeepingDates(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db)

	_, err := svc.ImportJSON(context.Background(), importDoc(
		record(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 120, "created_at": "2025-01-01T00:00:00Z", "updated_at": "2025-01-02T00:00:00Z"`),
	))
	require.NoError(t, err)

	var stored database.FeedingSession
	require.NoError(t, db.First(&stored).Error)
	assert.Equal(t, int64(1735689600000), stored.CreatedAt.UnixMilli())
	assert.Equal(t, int64(1735776000000), stored.UpdatedAt.UnixMilli())
}

func TestExportExcludesCorruptedDates(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	seedSession(t, db, baseTime, database.SessionTypeFeeding, 100)
	// Simulate a corrupted stored row with no timestamp.
	require.NoError(t, db.Create(&database.FeedingSession{AmountML: 50}).Error)

	data, err := NewBackupService(db).Export(ctx)
	require.NoError(t, err)

	var doc BackupDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Sessions, 1)
	assert.Equal(t, 100.0, doc.Sessions[0].AmountML)
}

func TestImportNeverMutatesExistingRecords(t *testing.T) {
	db := newTestDB(t)
	svc := NewBackupService(db)

	existing := seedSession(t, db, baseTime, database.SessionTypeFeeding, 100)
	existing.Notes = "original"
	require.NoError(t, db.Save(existing).Error)

	_, err := svc.ImportJSON(context.Background(), importDoc(
		record(`"timestamp": "2025-03-10T08:30:00Z", "amount_ml": 100, "notes": "from import"`),
	))
	require.NoError(t, err)

	var stored database.FeedingSession
	require.NoError(t, db.First(&stored, existing.ID).Error)
	assert.Equal(t, "original", stored.Notes)
}
