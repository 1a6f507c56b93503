package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opsguard/opsguard/internal/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore persists records through GORM. It works against both the SQLite
// and PostgreSQL connections produced by the db package.
type SQLStore struct {
	db *gorm.DB
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	return sqlDB.Close()
}

func (s *SQLStore) Get(ctx context.Context, collection, key string, out any) (bool, error) {
	var rec model.Record
	err := s.db.WithContext(ctx).
		Where("collection = ? AND key = ?", collection, key).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load record %s/%s: %w", collection, key, err)
	}
	if err := json.Unmarshal(rec.Data, out); err != nil {
		return false, fmt.Errorf("decode record %s/%s: %w", collection, key, err)
	}
	return true, nil
}

func (s *SQLStore) Set(ctx context.Context, collection, key string, record any) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode record %s/%s: %w", collection, key, err)
	}
	rec := model.Record{Collection: collection, Key: key, Data: raw}
	// Full-record upsert: last writer wins on the whole document.
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "collection"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save record %s/%s: %w", collection, key, err)
	}
	return nil
}

func (s *SQLStore) GetAll(ctx context.Context, collection string) (map[string]json.RawMessage, error) {
	var recs []model.Record
	if err := s.db.WithContext(ctx).Where("collection = ?", collection).Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list collection %s: %w", collection, err)
	}
	out := make(map[string]json.RawMessage, len(recs))
	for _, rec := range recs {
		out[rec.Key] = json.RawMessage(rec.Data)
	}
	return out, nil
}
