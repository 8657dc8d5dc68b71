package services

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/feedlogapp/feedlog-backend/internal/database"
	apperrors "github.com/feedlogapp/feedlog-backend/internal/errors"
	"github.com/feedlogapp/feedlog-backend/internal/logger"
	"gorm.io/gorm"
)

// CSVImportResult extends the JSON import result with per-type counts and
// the per-row warnings collected while parsing.
type CSVImportResult struct {
	Imported        int      `json:"imported"`
	Skipped         int      `json:"skipped"`
	ImportedFeeding int      `json:"imported_feeding"`
	ImportedPumping int      `json:"imported_pumping"`
	Warnings        []string `json:"warnings,omitempty"`
}

type CSVImportService struct {
	db *gorm.DB
}

func NewCSVImportService(db *gorm.DB) *CSVImportService {
	return &CSVImportService{
		db: db,
	}
}

// Column aliases accepted in the header row, all matched case-insensitively.
// Unknown columns are ignored, mirroring the allow-list rule of the JSON path.
var csvColumnAliases = map[string]string{
	"timestamp":       "timestamp",
	"time":            "timestamp",
	"date":            "timestamp",
	"amount_ml":       "amount_ml",
	"amount":          "amount_ml",
	"amount (ml)":     "amount_ml",
	"amount_entered":  "amount_entered",
	"unit":            "unit_entered",
	"unit_entered":    "unit_entered",
	"session_type":    "session_type",
	"type":            "session_type",
	"side":            "side",
	"source":          "source",
	"notes":           "notes",
	"note":            "notes",
	"duration_min":    "duration_min",
	"duration":        "duration_min",
	"amount_left_ml":  "amount_left_ml",
	"left":            "amount_left_ml",
	"amount_right_ml": "amount_right_ml",
	"right":           "amount_right_ml",
	"created_at":      "created_at",
	"updated_at":      "updated_at",
}

var csvNumericFields = map[string]bool{
	"amount_ml":       true,
	"amount_entered":  true,
	"duration_min":    true,
	"amount_left_ml":  true,
	"amount_right_ml": true,
}

// ImportCSV parses delimited rows into records and feeds them through the
// same validation and dedup pipeline as the JSON importer. Row failures are
// collected as warnings; the call only fails hard when no row parsed at all
// and at least one error exists, in which case the first error is surfaced.
func (s *CSVImportService) ImportCSV(ctx context.Context, r io.Reader) (*CSVImportResult, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, apperrors.NewImportError("CSV file is empty")
	}
	if err != nil {
		return nil, apperrors.NewImportError("Failed to parse CSV file")
	}

	columns := mapHeader(header)
	if _, ok := columns["timestamp"]; !ok {
		return nil, apperrors.NewImportError("CSV is missing a timestamp column")
	}
	if _, ok := columns["amount_ml"]; !ok {
		return nil, apperrors.NewImportError("CSV is missing an amount column")
	}

	now := time.Now()
	var candidates []*database.FeedingSession
	var warnings []string
	skipped := 0
	rowNum := 1 // the header

	// Rows are read one at a time so a syntax error in one row only skips
	// that row; the reader resumes at the next line.
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		if rowNum-1 > MaxImportRecords {
			return nil, apperrors.NewImportError(
				fmt.Sprintf("Backup exceeds the maximum of %d records", MaxImportRecords))
		}
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("row %d: %v", rowNum, csvErrMessage(err)))
			skipped++
			continue
		}
		record, err := rowToRecord(row, columns)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("row %d: %v", rowNum, err))
			skipped++
			continue
		}
		session, err := sanitizeRecord(record, now)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("row %d: %v", rowNum, err))
			skipped++
			continue
		}
		candidates = append(candidates, session)
	}

	if len(candidates) == 0 && len(warnings) > 0 {
		return nil, apperrors.NewImportError(warnings[0])
	}

	applied, accepted, err := applyBatch(ctx, s.db, candidates)
	if err != nil {
		return nil, err
	}

	result := &CSVImportResult{
		Imported: applied.Imported,
		Skipped:  applied.Skipped + skipped,
		Warnings: warnings,
	}
	for _, sess := range accepted {
		if sess.SessionType == database.SessionTypePumping {
			result.ImportedPumping++
		} else {
			result.ImportedFeeding++
		}
	}

	if len(warnings) > 0 {
		logger.Warn("CSV import finished with warnings",
			"imported", result.Imported, "skipped", result.Skipped, "warnings", len(warnings))
	} else {
		logger.Info("CSV import finished", "imported", result.Imported, "skipped", result.Skipped)
	}

	return result, nil
}

// csvErrMessage strips the reader's positional prefix so warnings carry a
// single row reference.
func csvErrMessage(err error) string {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return parseErr.Err.Error()
	}
	return err.Error()
}

func mapHeader(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if field, ok := csvColumnAliases[key]; ok {
			if _, taken := columns[field]; !taken {
				columns[field] = i
			}
		}
	}
	return columns
}

// rowToRecord converts one CSV row into the loose record shape the shared
// sanitizer expects. Empty cells are treated as absent fields.
func rowToRecord(row []string, columns map[string]int) (map[string]any, error) {
	record := make(map[string]any, len(columns))
	for field, idx := range columns {
		if idx >= len(row) {
			continue
		}
		cell := strings.TrimSpace(row[idx])
		if cell == "" {
			continue
		}
		if csvNumericFields[field] {
			n, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid %s %q", field, cell)
			}
			record[field] = n
			continue
		}
		record[field] = cell
	}
	return record, nil
}
