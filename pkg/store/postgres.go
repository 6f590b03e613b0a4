package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KVRecord is one persisted key-value row. Values are text (the queue stores
// JSON records and decimal counters). TTL is modeled as an absolute
// expires_at column; expired rows are treated as absent on read and purged
// lazily or by Sweep.
type KVRecord struct {
	Key       string     `gorm:"primaryKey;type:varchar(512)" json:"key"`
	Value     string     `gorm:"type:text;not null" json:"value"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (KVRecord) TableName() string { return "call_queue_kv" }

// AutoMigrate runs GORM auto-migration for the store schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&KVRecord{})
}

// PostgresStore is a Store backed by Postgres, for deployments without Redis.
// Counter arithmetic runs as single upsert statements so it stays atomic
// under concurrent callers. Arithmetic keys are written without TTL; the
// queue only applies arithmetic to its counter keys, which never expire.
type PostgresStore struct {
	db     *gorm.DB
	prefix string
}

func NewPostgresStore(db *gorm.DB, prefix string) *PostgresStore {
	return &PostgresStore{db: db, prefix: prefix}
}

func (s *PostgresStore) key(key string) string {
	return s.prefix + key
}

func notExpired(db *gorm.DB) *gorm.DB {
	return db.Where("expires_at IS NULL OR expires_at > ?", time.Now())
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var rec KVRecord
	err := notExpired(s.db.WithContext(ctx)).
		Where("key = ?", s.key(key)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return []byte(rec.Value), nil
}

func (s *PostgresStore) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = s.key(k)
	}

	var recs []KVRecord
	err := notExpired(s.db.WithContext(ctx)).
		Where("key IN ?", prefixed).
		Find(&recs).Error
	if err != nil {
		return nil, err
	}

	byKey := make(map[string]string, len(recs))
	for _, rec := range recs {
		byKey[rec.Key] = rec.Value
	}
	out := make([][]byte, len(keys))
	for i, pk := range prefixed {
		if v, ok := byKey[pk]; ok {
			out[i] = []byte(v)
		}
	}
	return out, nil
}

func (s *PostgresStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	rec := KVRecord{Key: s.key(key), Value: string(value)}
	if ttl > 0 {
		expiresAt := time.Now().Add(ttl)
		rec.ExpiresAt = &expiresAt
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).
		Create(&rec).Error
}

func (s *PostgresStore) Delete(ctx context.Context, key string) (int64, error) {
	// The expiry predicate keeps the count honest: deleting a row that has
	// already expired reports 0, same as deleting an absent key.
	res := notExpired(s.db.WithContext(ctx)).
		Where("key = ?", s.key(key)).
		Delete(&KVRecord{})
	return res.RowsAffected, res.Error
}

func (s *PostgresStore) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	var v int64
	err := s.db.WithContext(ctx).Raw(
		`INSERT INTO call_queue_kv (key, value, updated_at) VALUES (?, ?, NOW())
		 ON CONFLICT (key) DO UPDATE
		 SET value = ((call_queue_kv.value)::bigint + ?)::text, updated_at = NOW()
		 RETURNING (value)::bigint`,
		s.key(key), strconv.FormatInt(n, 10), n,
	).Scan(&v).Error
	return v, err
}

func (s *PostgresStore) DecrByFloor(ctx context.Context, key string, n int64) (int64, error) {
	var v int64
	err := s.db.WithContext(ctx).Raw(
		`INSERT INTO call_queue_kv (key, value, updated_at) VALUES (?, '0', NOW())
		 ON CONFLICT (key) DO UPDATE
		 SET value = GREATEST((call_queue_kv.value)::bigint - ?, 0)::text, updated_at = NOW()
		 RETURNING (value)::bigint`,
		s.key(key), n,
	).Scan(&v).Error
	return v, err
}

// Sweep purges rows whose TTL has passed and returns how many were removed.
// Reads already treat expired rows as absent; Sweep only reclaims space, so
// callers run it on whatever schedule suits them.
func (s *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at <= ?", time.Now()).
		Delete(&KVRecord{})
	return res.RowsAffected, res.Error
}

func (s *PostgresStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
