package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/branchd-dev/authflow/internal/models"
)

const keySize = 32

// SQLStore persists the credential in sqlite with sealed tokens
type SQLStore struct {
	db     *gorm.DB
	sealer *sealer
}

// NewSQLStore wraps an open, migrated database
func NewSQLStore(db *gorm.DB, key []byte) (*SQLStore, error) {
	s, err := newSealer(key)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: db, sealer: s}, nil
}

// OpenDatabase opens the sqlite file and runs migrations
func OpenDatabase(url string, zlog zerolog.Logger) (*gorm.DB, error) {
	const (
		maxOpenConns    = 1 // Single writer; the session row is tiny
		connMaxLifetime = 300
		busyTimeout     = 5000
	)

	db, err := gorm.Open(sqlite.Open(url), &gorm.Config{
		Logger: logger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			logger.Config{
				LogLevel:                  logger.Error,
				IgnoreRecordNotFoundError: true,
				SlowThreshold:             200 * time.Millisecond,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(connMaxLifetime) * time.Second)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
	}
	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	if err := models.AutoMigrate(db); err != nil {
		closeDB(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// ResolveKey returns the sealing key: SESSION_KEY when set, otherwise the
// key persisted on first run (generated if missing).
func ResolveKey(db *gorm.DB, configured string, zlog zerolog.Logger) ([]byte, error) {
	if configured != "" {
		key, err := hex.DecodeString(configured)
		if err != nil || len(key) != keySize {
			return nil, fmt.Errorf("SESSION_KEY must be %d hex characters", keySize*2)
		}
		return key, nil
	}

	var row models.SealKey
	err := db.First(&row).Error
	if err == nil {
		zlog.Debug().Msg("Loaded sealing key from database")
		return hex.DecodeString(row.Key)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("failed to load sealing key: %w", err)
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate sealing key: %w", err)
	}
	if err := db.Create(&models.SealKey{Key: hex.EncodeToString(key)}).Error; err != nil {
		return nil, fmt.Errorf("failed to persist sealing key: %w", err)
	}
	zlog.Info().Msg("Generated new sealing key")
	return key, nil
}

// Load returns the persisted credential with tokens unsealed
func (s *SQLStore) Load(ctx context.Context) (*models.Credential, error) {
	var cred models.Credential
	if err := s.db.WithContext(ctx).Order("updated_at DESC").First(&cred).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	idToken, err := s.sealer.open(cred.IDToken)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.sealer.open(cred.RefreshToken)
	if err != nil {
		return nil, err
	}
	cred.IDToken = idToken
	cred.RefreshToken = refreshToken
	return &cred, nil
}

// Save replaces the persisted credential
func (s *SQLStore) Save(ctx context.Context, cred *models.Credential) error {
	idToken, err := s.sealer.seal(cred.IDToken)
	if err != nil {
		return err
	}
	refreshToken, err := s.sealer.seal(cred.RefreshToken)
	if err != nil {
		return err
	}

	row := *cred
	row.ID = ""
	row.IDToken = idToken
	row.RefreshToken = refreshToken

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&models.Credential{}).Error; err != nil {
			return fmt.Errorf("failed to clear credential: %w", err)
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("failed to save credential: %w", err)
		}
		return nil
	})
}

// Delete removes the persisted credential
func (s *SQLStore) Delete(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Where("1 = 1").Delete(&models.Credential{}).Error; err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	return nil
}

// Close closes the database connection to flush WAL writes
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
