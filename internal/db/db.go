package db

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"astromatch-backend/config"
	"astromatch-backend/internal/model"
)

// Init initializes the database connection and runs migrations.
func Init(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Println("Running database migrations...")
	if err := db.AutoMigrate(
		&model.Astrologer{},
		&model.Session{},
		&model.SessionOffer{},
		&model.Bucket{},
		&model.BucketMember{},
		&model.PushSubscription{},
	); err != nil {
		return nil, fmt.Errorf("automigrate failed: %w", err)
	}

	if cfg.EnableReportingDDL {
		log.Println("Reporting DDL is enabled, applying extra indexes...")
		if err := applyReportingDDL(db); err != nil {
			log.Printf("Warning: failed to apply some reporting DDL: %v. Continuing without them.", err)
		}
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// applyReportingDDL adds indexes used by the (external) reporting queries.
// These are partial/composite indexes AutoMigrate cannot express.
func applyReportingDDL(db *gorm.DB) error {
	ddls := []string{
		// The sweeper scans only waiting sessions; keep that path narrow.
		"CREATE INDEX IF NOT EXISTS idx_sessions_waiting ON sessions (created_at) WHERE status = 'waiting';",

		// In-flight counts group by assigned astrologer across three statuses.
		"CREATE INDEX IF NOT EXISTS idx_sessions_inflight ON sessions (assigned_astrologer_id) " +
			"WHERE status IN ('waiting', 'waiting for user', 'live');",

		// Offer history lookups by session and state.
		"CREATE INDEX IF NOT EXISTS idx_session_offers_state ON session_offers (session_id, state);",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}
