package database

import (
	"fmt"
	"time"

	"github.com/feedlogapp/feedlog-backend/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Session type values. Anything else coming in from an import is coerced
// to SessionTypeFeeding.
const (
	SessionTypeFeeding = "feeding"
	SessionTypePumping = "pumping"
)

// FeedingSession is a single logged feeding or pumping event. AmountML is the
// canonical quantity; AmountEntered/UnitEntered preserve what the user typed
// and are display-only.
type FeedingSession struct {
	ID            uint      `gorm:"primarykey" json:"id"`
	Timestamp     time.Time `gorm:"index" json:"timestamp"`
	AmountML      float64   `json:"amount_ml"`
	AmountEntered float64   `json:"amount_entered"`
	UnitEntered   string    `gorm:"size:50" json:"unit_entered"`
	SessionType   string    `gorm:"size:50;default:feeding" json:"session_type"`
	Side          string    `gorm:"size:50" json:"side"`
	Source        string    `gorm:"size:50" json:"source"`
	Notes         string    `json:"notes"`
	AmountLeftML  *float64  `json:"amount_left_ml,omitempty"`
	AmountRightML *float64  `json:"amount_right_ml,omitempty"`
	DurationMin   *float64  `json:"duration_min,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Open connects through the given dialector and migrates the schema. Tests
// pass an in-memory sqlite dialector here.
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&FeedingSession{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return db, nil
}

// NewPostgresDB opens the production PostgreSQL store
func NewPostgresDB(cfg config.DBConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName)

	return Open(postgres.Open(dsn))
}
