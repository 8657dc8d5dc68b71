package services

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/feedlogapp/feedlog-backend/internal/database"
	apperrors "github.com/feedlogapp/feedlog-backend/internal/errors"
	"github.com/feedlogapp/feedlog-backend/internal/logger"
	"github.com/feedlogapp/feedlog-backend/internal/utils"
	"gorm.io/gorm"
)

const (
	// BackupVersion is the current backup document format version
	BackupVersion = 2

	// MaxImportRecords caps how many records a single import may carry
	MaxImportRecords = 50000

	// MaxAmountML bounds any canonical or per-side quantity
	MaxAmountML = 10000

	// MaxDurationMin is one day in minutes
	MaxDurationMin = 1440

	maxNotesLength      = 10000
	maxShortFieldLength = 50
)

// BackupDocument is the versioned JSON snapshot written by Export and
// accepted by ImportJSON.
type BackupDocument struct {
	Version    int                       `json:"version"`
	ExportedAt string                    `json:"exported_at"`
	Sessions   []database.FeedingSession `json:"sessions"`
}

// ImportResult reports how an import call ended. Imported and Skipped are
// mutually exhaustive over the records in the document: every record either
// landed or was skipped (duplicate or failed validation).
type ImportResult struct {
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

type BackupService struct {
	db *gorm.DB
}

func NewBackupService(db *gorm.DB) *BackupService {
	return &BackupService{
		db: db,
	}
}

// Export serializes the whole store into a pretty-printed backup document.
// Stored records with a corrupted (zero) timestamp are silently dropped
// rather than failing the export; zero bookkeeping dates are normalized to
// the record's timestamp.
func (s *BackupService) Export(ctx context.Context) ([]byte, error) {
	var sessions []database.FeedingSession
	if err := s.db.WithContext(ctx).Order("timestamp ASC").Find(&sessions).Error; err != nil {
		return nil, apperrors.NewDatabaseError(err)
	}

	exportable := make([]database.FeedingSession, 0, len(sessions))
	dropped := 0
	for _, sess := range sessions {
		if sess.Timestamp.IsZero() {
			dropped++
			continue
		}
		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = sess.Timestamp
		}
		if sess.UpdatedAt.IsZero() {
			sess.UpdatedAt = sess.Timestamp
		}
		exportable = append(exportable, sess)
	}
	if dropped > 0 {
		logger.Warn("Excluded corrupted records from export", "count", dropped)
	}

	doc := BackupDocument{
		Version:    BackupVersion,
		ExportedAt: time.Now().UTC().Format(time.RFC3339),
		Sessions:   exportable,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "EXPORT_FAILED", "Failed to serialize backup")
	}

	return data, nil
}

// ImportJSON validates an untrusted backup document and applies it to the
// store. Structural violations fail the whole call; individual bad records
// are counted as skipped and never abort the batch.
func (s *BackupService) ImportJSON(ctx context.Context, data []byte) (*ImportResult, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, apperrors.ErrInvalidJSON
	}

	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, apperrors.ErrInvalidBackup
	}
	if !truthy(doc["version"]) {
		return nil, apperrors.ErrInvalidBackup
	}
	rawSessions, ok := doc["sessions"].([]any)
	if !ok {
		return nil, apperrors.ErrInvalidBackup
	}
	if len(rawSessions) > MaxImportRecords {
		return nil, apperrors.NewImportError(
			fmt.Sprintf("Backup exceeds the maximum of %d records", MaxImportRecords))
	}

	now := time.Now()
	candidates := make([]*database.FeedingSession, 0, len(rawSessions))
	skipped := 0
	for _, rs := range rawSessions {
		record, ok := rs.(map[string]any)
		if !ok {
			skipped++
			continue
		}
		session, err := sanitizeRecord(record, now)
		if err != nil {
			skipped++
			continue
		}
		candidates = append(candidates, session)
	}

	result, _, err := applyBatch(ctx, s.db, candidates)
	if err != nil {
		return nil, err
	}
	result.Skipped += skipped

	logger.Info("Backup import finished", "imported", result.Imported, "skipped", result.Skipped)
	return result, nil
}

// truthy mirrors the loose version check of the original backup format: any
// non-nil, non-false, non-zero, non-empty value passes.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	}
	return true
}

// sanitizeRecord turns one untrusted record into a FeedingSession. Only
// allow-listed fields are read; anything else in the payload is dropped.
// A returned error means the whole record is rejected.
func sanitizeRecord(record map[string]any, now time.Time) (*database.FeedingSession, error) {
	tsRaw, present := record["timestamp"]
	if !present {
		return nil, fmt.Errorf("missing timestamp")
	}
	timestamp, ok := utils.CoerceInstant(tsRaw)
	if !ok {
		return nil, fmt.Errorf("invalid timestamp")
	}

	amountRaw, present := record["amount_ml"]
	if !present {
		return nil, fmt.Errorf("missing amount_ml")
	}
	amount, ok := asFiniteNumber(amountRaw)
	if !ok || amount < 0 || amount > MaxAmountML {
		return nil, fmt.Errorf("invalid amount_ml")
	}

	session := &database.FeedingSession{
		Timestamp:   timestamp,
		AmountML:    amount,
		SessionType: normalizeSessionType(record["session_type"]),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if v, present := record["amount_entered"]; present && v != nil {
		entered, ok := asFiniteNumber(v)
		if !ok {
			return nil, fmt.Errorf("invalid amount_entered")
		}
		session.AmountEntered = entered
	} else {
		session.AmountEntered = amount
	}

	if v, present := record["unit_entered"]; present && v != nil {
		unit, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("invalid unit_entered")
		}
		session.UnitEntered = truncate(unit, maxShortFieldLength)
	} else {
		session.UnitEntered = "ml"
	}

	if v, present := record["side"]; present && v != nil {
		side, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("invalid side")
		}
		session.Side = truncate(side, maxShortFieldLength)
	}
	if v, present := record["source"]; present && v != nil {
		source, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("invalid source")
		}
		session.Source = truncate(source, maxShortFieldLength)
	}
	if v, present := record["notes"]; present && v != nil {
		notes, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("invalid notes")
		}
		session.Notes = truncate(notes, maxNotesLength)
	}

	if v, present := record["duration_min"]; present && v != nil {
		duration, ok := asFiniteNumber(v)
		if !ok || duration < 0 || duration > MaxDurationMin {
			return nil, fmt.Errorf("invalid duration_min")
		}
		session.DurationMin = &duration
	}
	if v, present := record["amount_left_ml"]; present && v != nil {
		left, ok := asFiniteNumber(v)
		if !ok || left < 0 || left > MaxAmountML {
			return nil, fmt.Errorf("invalid amount_left_ml")
		}
		session.AmountLeftML = &left
	}
	if v, present := record["amount_right_ml"]; present && v != nil {
		right, ok := asFiniteNumber(v)
		if !ok || right < 0 || right > MaxAmountML {
			return nil, fmt.Errorf("invalid amount_right_ml")
		}
		session.AmountRightML = &right
	}

	if v, present := record["created_at"]; present && v != nil {
		createdAt, ok := utils.CoerceInstant(v)
		if !ok {
			return nil, fmt.Errorf("invalid created_at")
		}
		session.CreatedAt = createdAt
	}
	if v, present := record["updated_at"]; present && v != nil {
		updatedAt, ok := utils.CoerceInstant(v)
		if !ok {
			return nil, fmt.Errorf("invalid updated_at")
		}
		session.UpdatedAt = updatedAt
	}

	return session, nil
}

func asFiniteNumber(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int:
		f = float64(t)
	case int64:
		f = float64(t)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func normalizeSessionType(v any) string {
	s, ok := v.(string)
	if !ok {
		return database.SessionTypeFeeding
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case database.SessionTypePumping:
		return database.SessionTypePumping
	default:
		return database.SessionTypeFeeding
	}
}

// truncate limits s to max characters, never splitting a multibyte rune
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

// sessionKey builds the composite identity used for duplicate suppression.
// Amounts are compared at 0.1 ml precision; ties at exactly 0.05 round up
// (half away from zero), matching the web client's Math.round.
func sessionKey(timestamp time.Time, sessionType string, amountML float64) string {
	return fmt.Sprintf("%d|%s|%d",
		timestamp.UnixMilli(), sessionType, int64(math.Round(amountML*10)))
}

// applyBatch deduplicates candidates against the store and against each other,
// then persists the survivors in one all-or-nothing transaction. Returns the
// counts plus the accepted sessions (the CSV path wants per-type tallies).
func applyBatch(ctx context.Context, db *gorm.DB, candidates []*database.FeedingSession) (*ImportResult, []*database.FeedingSession, error) {
	var existing []database.FeedingSession
	if err := db.WithContext(ctx).Find(&existing).Error; err != nil {
		return nil, nil, apperrors.NewDatabaseError(err)
	}

	seen := make(map[string]struct{}, len(existing))
	for _, sess := range existing {
		// Corrupted stored rows never block an import and never match anything.
		if sess.Timestamp.IsZero() {
			continue
		}
		if math.IsNaN(sess.AmountML) || math.IsInf(sess.AmountML, 0) {
			continue
		}
		seen[sessionKey(sess.Timestamp, normalizeSessionType(sess.SessionType), sess.AmountML)] = struct{}{}
	}

	accepted := make([]*database.FeedingSession, 0, len(candidates))
	skipped := 0
	for _, candidate := range candidates {
		key := sessionKey(candidate.Timestamp, candidate.SessionType, candidate.AmountML)
		if _, dup := seen[key]; dup {
			skipped++
			continue
		}
		seen[key] = struct{}{}
		candidate.ID = 0 // the store assigns fresh ids, imported ones are never reused
		accepted = append(accepted, candidate)
	}

	if len(accepted) > 0 {
		err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.CreateInBatches(accepted, 500).Error
		})
		if err != nil {
			return nil, nil, apperrors.Wrap(err, apperrors.ErrorTypeImport, "IMPORT_FAILED", "Failed to import sessions")
		}
	}

	return &ImportResult{Imported: len(accepted), Skipped: skipped}, accepted, nil
}
