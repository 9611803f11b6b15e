package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type advertisementRow struct {
	ID            string    `gorm:"primaryKey;size:64"`
	Name          string    `gorm:"not null"`
	MaxPlayers    int       `gorm:"not null"`
	Private       bool      `gorm:"not null;index"`
	Data          string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime:false"`
	LastHeartbeat time.Time `gorm:"index"`
}

func (advertisementRow) TableName() string { return "advertisements" }

// GormStore keeps advertisements in postgres so a directory restart does not
// forget live sessions.
type GormStore struct {
	db *gorm.DB
}

// OpenGormStore connects with a postgres DSN and migrates the schema.
func OpenGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&advertisementRow{}); err != nil {
		return nil, fmt.Errorf("migrate advertisements: %w", err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Put(ctx context.Context, a Advertisement) error {
	row, err := toRow(a)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Save(&row).Error; err != nil {
		return fmt.Errorf("put %s: %w", a.ID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (Advertisement, error) {
	var row advertisementRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Advertisement{}, fmt.Errorf("get %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Advertisement{}, fmt.Errorf("get %s: %w", id, err)
	}
	return fromRow(row)
}

func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&advertisementRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *GormStore) List(ctx context.Context) ([]Advertisement, error) {
	var rows []advertisementRow
	if err := s.db.WithContext(ctx).Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	out := make([]Advertisement, 0, len(rows))
	for _, row := range rows {
		a, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func (s *GormStore) DeleteStale(ctx context.Context, cutoff time.Time) (int, error) {
	res := s.db.WithContext(ctx).Where("last_heartbeat < ?", cutoff).Delete(&advertisementRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete stale: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func toRow(a Advertisement) (advertisementRow, error) {
	data, err := json.Marshal(a.Data)
	if err != nil {
		return advertisementRow{}, fmt.Errorf("encode data for %s: %w", a.ID, err)
	}
	return advertisementRow{
		ID:            a.ID,
		Name:          a.Name,
		MaxPlayers:    a.MaxPlayers,
		Private:       a.Private,
		Data:          string(data),
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
		LastHeartbeat: a.LastHeartbeat,
	}, nil
}

func fromRow(row advertisementRow) (Advertisement, error) {
	a := Advertisement{
		ID:            row.ID,
		Name:          row.Name,
		MaxPlayers:    row.MaxPlayers,
		Private:       row.Private,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
		LastHeartbeat: row.LastHeartbeat,
	}
	if row.Data != "" {
		if err := json.Unmarshal([]byte(row.Data), &a.Data); err != nil {
			return Advertisement{}, fmt.Errorf("decode data for %s: %w", row.ID, err)
		}
	}
	return a, nil
}
