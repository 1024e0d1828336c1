package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sqlitegorm "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"wg-tunnels/internal/core"
)

// TunnelRecord is the gorm model for one tunnel.
type TunnelRecord struct {
	gorm.Model
	Name            string `gorm:"uniqueIndex;not null"`
	SortIndex       int    `gorm:"index"`
	Config          string `gorm:"not null"`
	OnDemandRules   string // JSON-encoded core.OnDemandRules
	OnDemandEnabled bool
}

func (t *TunnelRecord) toRecord() (Record, error) {
	rec := Record{
		Name:            t.Name,
		SortIndex:       t.SortIndex,
		ConfigText:      t.Config,
		OnDemandEnabled: t.OnDemandEnabled,
	}
	if t.OnDemandRules != "" {
		if err := json.Unmarshal([]byte(t.OnDemandRules), &rec.OnDemand); err != nil {
			return Record{}, fmt.Errorf("[Store] tunnel %q: bad on-demand rules: %w", t.Name, err)
		}
	}
	return rec, nil
}

func (t *TunnelRecord) fromRecord(rec Record) error {
	rules, err := json.Marshal(rec.OnDemand)
	if err != nil {
		return err
	}
	t.Name = rec.Name
	t.Config = rec.ConfigText
	t.OnDemandRules = string(rules)
	t.OnDemandEnabled = rec.OnDemandEnabled
	return nil
}

// SQLiteStore keeps tunnels in a SQLite database through gorm.
type SQLiteStore struct {
	db *gorm.DB
}

// OpenSQLite opens (creating if needed) the database at path and migrates
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("[Store] failed to create dir: %w", err)
	}

	var gormLogger logger.Interface
	if core.Log.Enabled("Store", core.LevelDebug) {
		gormLogger = logger.Default
	} else {
		gormLogger = logger.Discard
	}

	db, err := gorm.Open(sqlitegorm.Open(path+"?_pragma=busy_timeout(5000)"), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("[Store] failed to open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&TunnelRecord{}); err != nil {
		return nil, fmt.Errorf("[Store] failed to migrate schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Record, error) {
	var rows []TunnelRecord
	if err := s.db.WithContext(ctx).Order("sort_index, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("[Store] list: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *SQLiteStore) Add(ctx context.Context, rec Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&TunnelRecord{}).Where("name = ?", rec.Name).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("[Store] add %q: %w", rec.Name, ErrExists)
		}

		var maxIndex sql.NullInt64
		if err := tx.Model(&TunnelRecord{}).Select("MAX(sort_index)").Row().Scan(&maxIndex); err != nil {
			return err
		}
		row := TunnelRecord{}
		if err := row.fromRecord(rec); err != nil {
			return err
		}
		if maxIndex.Valid {
			row.SortIndex = int(maxIndex.Int64) + 1
		}
		return tx.Create(&row).Error
	})
}

func (s *SQLiteStore) Update(ctx context.Context, oldName string, rec Record) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := findByName(tx, oldName)
		if err != nil {
			return fmt.Errorf("[Store] update %q: %w", oldName, err)
		}
		if rec.Name != oldName {
			var count int64
			if err := tx.Model(&TunnelRecord{}).Where("name = ?", rec.Name).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				return fmt.Errorf("[Store] rename %q to %q: %w", oldName, rec.Name, ErrExists)
			}
		}
		if err := row.fromRecord(rec); err != nil {
			return err
		}
		return tx.Save(row).Error
	})
}

func (s *SQLiteStore) Remove(ctx context.Context, name string) error {
	// Unscoped: a soft-deleted row would still hold the unique name.
	res := s.db.WithContext(ctx).Unscoped().Where("name = ?", name).Delete(&TunnelRecord{})
	if res.Error != nil {
		return fmt.Errorf("[Store] remove %q: %w", name, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("[Store] remove %q: %w", name, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Reorder(ctx context.Context, names []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing []string
		if err := tx.Model(&TunnelRecord{}).Pluck("name", &existing).Error; err != nil {
			return err
		}
		if err := checkReorder(existing, names); err != nil {
			return err
		}
		for i, n := range names {
			if err := tx.Model(&TunnelRecord{}).Where("name = ?", n).Update("sort_index", i).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func findByName(tx *gorm.DB, name string) (*TunnelRecord, error) {
	var row TunnelRecord
	err := tx.Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
