// Package gormstore implements the storage interfaces on a relational
// database through GORM. SQLite serves development and tests; Postgres
// is the production driver. Token tables share one row shape and are
// selected by kind.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mainhub/authority/storage"
)

// tokenRow is the row shape shared by the code, access_token and
// refresh_token tables. The composite primary key gives the store the
// delete-claim atomicity the single-use guarantee relies on.
type tokenRow struct {
	ClientID  string `gorm:"column:client_id;primaryKey;size:64"`
	UID       string `gorm:"column:uid;primaryKey;size:32"`
	AccountID int64  `gorm:"column:account_id;not null"`
	Scope     string `gorm:"column:scope;size:64;not null"`
	ExpiresAt int64  `gorm:"column:expires_at;not null;index"`
}

type applicationRow struct {
	ID          string `gorm:"column:id;primaryKey;size:64"`
	Secret      string `gorm:"column:secret;size:128"`
	RedirectURI string `gorm:"column:redirect_uri;size:512"`
	Name        string `gorm:"column:name;size:128"`
	LoginURL    string `gorm:"column:login_url;size:512"`
	ExternalID  string `gorm:"column:external_id;size:64"`
}

func (applicationRow) TableName() string { return "application" }

// Store is the relational implementation of storage.TokenStore and
// storage.ApplicationStore.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

var (
	_ storage.TokenStore       = (*Store)(nil)
	_ storage.ApplicationStore = (*Store)(nil)
)

// Open connects to the database named by driver ("sqlite" or
// "postgres") and dsn.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	return db, nil
}

// New creates a store over an open database handle.
func New(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Migrate creates or updates the application table and the three token
// tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&applicationRow{}); err != nil {
		return fmt.Errorf("failed to migrate application table: %w", err)
	}
	for _, kind := range storage.Kinds() {
		if err := s.db.Table(kind.String()).AutoMigrate(&tokenRow{}); err != nil {
			return fmt.Errorf("failed to migrate %s table: %w", kind, err)
		}
	}
	return nil
}

// AddToken inserts a record into the kind's table.
func (s *Store) AddToken(ctx context.Context, kind storage.Kind, rec *storage.TokenRecord) error {
	row := tokenRow{
		ClientID:  rec.ClientID,
		UID:       rec.UID,
		AccountID: rec.AccountID,
		Scope:     rec.Scope,
		ExpiresAt: rec.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Table(kind.String()).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to insert %s record: %w", kind, err)
	}
	return nil
}

// GetToken retrieves a record by composite key.
func (s *Store) GetToken(ctx context.Context, kind storage.Kind, clientID, uid string) (*storage.TokenRecord, error) {
	var row tokenRow
	err := s.db.WithContext(ctx).
		Table(kind.String()).
		Where("client_id = ? AND uid = ?", clientID, uid).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select %s record: %w", kind, err)
	}
	return &storage.TokenRecord{
		ClientID:  row.ClientID,
		UID:       row.UID,
		AccountID: row.AccountID,
		Scope:     row.Scope,
		ExpiresAt: row.ExpiresAt,
	}, nil
}

// DeleteToken removes a record by composite key. The rows-affected
// count decides the claim: when two requests race to consume the same
// code or refresh token, only the one whose DELETE touched the row
// proceeds.
func (s *Store) DeleteToken(ctx context.Context, kind storage.Kind, clientID, uid string) (bool, error) {
	res := s.db.WithContext(ctx).
		Table(kind.String()).
		Where("client_id = ? AND uid = ?", clientID, uid).
		Delete(&tokenRow{})
	if res.Error != nil {
		return false, fmt.Errorf("failed to delete %s record: %w", kind, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// DeleteExpiredTokens purges every record of the kind whose business
// expiry has passed.
func (s *Store) DeleteExpiredTokens(ctx context.Context, kind storage.Kind, now int64) error {
	res := s.db.WithContext(ctx).
		Table(kind.String()).
		Where("expires_at <= ?", now).
		Delete(&tokenRow{})
	if res.Error != nil {
		return fmt.Errorf("failed to purge expired %s records: %w", kind, res.Error)
	}
	if res.RowsAffected > 0 {
		s.logger.Debug("Purged expired records",
			"kind", kind.String(),
			"deleted", res.RowsAffected)
	}
	return nil
}

// GetApplication retrieves an application by id.
func (s *Store) GetApplication(ctx context.Context, id string) (*storage.Application, error) {
	var row applicationRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("failed to select application: %w", err)
	}
	return appFromRow(&row), nil
}

// ListApplications returns the whole client registry.
func (s *Store) ListApplications(ctx context.Context) ([]*storage.Application, error) {
	var rows []applicationRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list applications: %w", err)
	}
	apps := make([]*storage.Application, 0, len(rows))
	for i := range rows {
		apps = append(apps, appFromRow(&rows[i]))
	}
	return apps, nil
}

// SeedApplication inserts an application row if it does not exist yet.
// The registry is maintained out-of-band; this only serves development
// setups and tests.
func (s *Store) SeedApplication(ctx context.Context, app *storage.Application) error {
	row := applicationRow{
		ID:          app.ID,
		Secret:      app.Secret,
		RedirectURI: app.RedirectURI,
		Name:        app.Name,
		LoginURL:    app.LoginURL,
		ExternalID:  app.ExternalID,
	}
	err := s.db.WithContext(ctx).FirstOrCreate(&row, applicationRow{ID: app.ID}).Error
	if err != nil {
		return fmt.Errorf("failed to seed application: %w", err)
	}
	return nil
}

func appFromRow(row *applicationRow) *storage.Application {
	return &storage.Application{
		ID:          row.ID,
		Secret:      row.Secret,
		RedirectURI: row.RedirectURI,
		Name:        row.Name,
		LoginURL:    row.LoginURL,
		ExternalID:  row.ExternalID,
	}
}
