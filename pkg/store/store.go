// Package store persists internal identities and their cached
// aggregates. SQLite backs single-container deployments; postgres backs
// everything else.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/openregistro/registro/pkg/config"
)

var (
	// ErrNotFound is returned when no user matches the lookup.
	ErrNotFound = errors.New("store: user not found")

	// ErrNameTaken is returned when a display name is already in use.
	ErrNameTaken = errors.New("store: display name already taken")
)

// Store provides persistence for internal identities.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// UpsertByExternalID atomically creates-or-fetches the identity row
	// for an upstream identifier. Concurrent first logins converge on a
	// single row; the minted InternalID is immutable afterwards.
	UpsertByExternalID(ctx context.Context, externalID string) (*User, error)

	GetByExternalID(ctx context.Context, externalID string) (*User, error)
	GetByInternalID(ctx context.Context, internalID string) (*User, error)

	// UpdateAggregates writes refreshed cached fields and stamps the
	// last-refresh time.
	UpdateAggregates(ctx context.Context, internalID string, upd AggregateUpdate) error

	SetDisplayName(ctx context.Context, internalID, name string) error
	SetBio(ctx context.Context, internalID, bio string) error

	// Ranks computes 1-based positions among all users for each cached
	// aggregate (count of users with a strictly greater value, plus one).
	Ranks(ctx context.Context, u *User) (Ranks, error)
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(log logrus.FieldLogger, cfg *config.DatabaseConfig) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(&User{}); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

func (s *store) UpsertByExternalID(ctx context.Context, externalID string) (*User, error) {
	candidate := &User{
		ExternalID: externalID,
		InternalID: uuid.NewString(),
	}

	// Insert-if-absent guarded by the unique constraint on external_id:
	// the loser of a concurrent first login silently no-ops and both
	// callers read back the same row.
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_id"}},
			DoNothing: true,
		}).
		Create(candidate).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, fmt.Errorf("upserting user: %w", err)
	}

	return s.GetByExternalID(ctx, externalID)
}

func (s *store) GetByExternalID(ctx context.Context, externalID string) (*User, error) {
	var user User

	err := s.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	return &user, nil
}

func (s *store) GetByInternalID(ctx context.Context, internalID string) (*User, error) {
	var user User

	err := s.db.WithContext(ctx).
		Where("internal_id = ?", internalID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("getting user: %w", err)
	}

	return &user, nil
}

func (s *store) UpdateAggregates(ctx context.Context, internalID string, upd AggregateUpdate) error {
	fields := map[string]interface{}{
		"last_refresh": time.Now().UTC(),
	}

	if upd.School != nil {
		fields["school"] = *upd.School
	}

	if upd.Average != nil {
		fields["average"] = *upd.Average
	}

	if upd.AbsenceHours != nil {
		fields["absence_hours"] = *upd.AbsenceHours
	}

	if upd.DelayCount != nil {
		fields["delay_count"] = *upd.DelayCount
	}

	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("internal_id = ?", internalID).
		Updates(fields).Error
	if err != nil {
		return fmt.Errorf("updating aggregates: %w", err)
	}

	return nil
}

func (s *store) SetDisplayName(ctx context.Context, internalID, name string) error {
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("internal_id = ?", internalID).
		Update("display_name", name).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrNameTaken
	}

	if err != nil {
		return fmt.Errorf("updating display name: %w", err)
	}

	return nil
}

func (s *store) SetBio(ctx context.Context, internalID, bio string) error {
	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where("internal_id = ?", internalID).
		Update("bio", bio).Error
	if err != nil {
		return fmt.Errorf("updating bio: %w", err)
	}

	return nil
}

func (s *store) Ranks(ctx context.Context, u *User) (Ranks, error) {
	ranks := Ranks{}

	count, err := s.countGreater(ctx, "average", u.Average)
	if err != nil {
		return ranks, err
	}

	ranks.Average = count + 1

	count, err = s.countGreater(ctx, "absence_hours", u.AbsenceHours)
	if err != nil {
		return ranks, err
	}

	ranks.AbsenceHours = count + 1

	count, err = s.countGreater(ctx, "delay_count", u.DelayCount)
	if err != nil {
		return ranks, err
	}

	ranks.DelayCount = count + 1

	return ranks, nil
}

func (s *store) countGreater(ctx context.Context, column string, value *float64) (int, error) {
	var v float64
	if value != nil {
		v = *value
	}

	var count int64

	err := s.db.WithContext(ctx).
		Model(&User{}).
		Where(column+" > ?", v).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("counting %s rank: %w", column, err)
	}

	return int(count), nil
}
