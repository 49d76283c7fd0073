package storage

import (
	"context"
	"errors"
	"sort"

	"github.com/angelmondragon/packfinderz-storefront/pkg/db"
	"github.com/angelmondragon/packfinderz-storefront/pkg/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLKV stores entries in the kv_entries table.
type SQLKV struct {
	client *db.Client
}

func NewSQLKV(client *db.Client) *SQLKV {
	return &SQLKV{client: client}
}

func (s *SQLKV) Get(ctx context.Context, key string) (string, error) {
	var entry models.KVEntry
	err := s.client.DB().WithContext(ctx).Where("entry_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entry.Value, nil
}

func (s *SQLKV) Set(ctx context.Context, key, value string) error {
	return upsert(s.client.DB().WithContext(ctx), key, value)
}

func (s *SQLKV) SetMany(ctx context.Context, entries map[string]string) error {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return s.client.WithTx(ctx, func(tx *gorm.DB) error {
		for _, k := range keys {
			if err := upsert(tx, k, entries[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLKV) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.DB().WithContext(ctx).Where("entry_key IN ?", keys).Delete(&models.KVEntry{}).Error
}

func upsert(conn *gorm.DB, key, value string) error {
	return conn.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&models.KVEntry{Key: key, Value: value}).Error
}
