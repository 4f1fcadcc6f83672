package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkeye/collab/internal/app/chat"
	"github.com/dkeye/collab/internal/domain"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type chatRow struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	RoomID    string    `gorm:"index:idx_chat_room_created,priority:1;size:128;not null"`
	Author    string    `gorm:"size:64;not null"` // domain.MaxAuthorLen
	Body      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"index:idx_chat_room_created,priority:2"`
}

func (chatRow) TableName() string { return "chat_messages" }

// GormStore keeps chat rows in a SQL database through gorm.
type GormStore struct {
	db *gorm.DB
}

var _ chat.Store = (*GormStore)(nil)

// OpenGorm connects with the sqlite or postgres driver and migrates.
func OpenGorm(driver, dsn string) (*GormStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database dir: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDriver, driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql handle: %w", err)
	}
	if driver == DriverSQLite {
		// one writer; also keeps ":memory:" a single database
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}
	return NewGormStore(db)
}

// NewGormStore migrates the chat table on an existing handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&chatRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate chat table: %w", err)
	}
	log.Info().Str("module", "store.gorm").Str("dialect", db.Dialector.Name()).Msg("chat store ready")
	return &GormStore{db: db}, nil
}

func (s *GormStore) Append(ctx context.Context, msg *domain.ChatMessage) error {
	row := chatRow{
		RoomID:    string(msg.RoomID),
		Author:    msg.Author,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	msg.ID = row.ID
	return nil
}

func (s *GormStore) History(ctx context.Context, room domain.RoomID, limit int) ([]domain.ChatMessage, error) {
	q := s.db.WithContext(ctx).Where("room_id = ?", string(room))
	var rows []chatRow
	if limit > 0 {
		// newest page, reversed back to ascending below
		if err := q.Order("created_at desc, id desc").Limit(limit).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to load chat history: %w", err)
		}
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	} else if err := q.Order("created_at asc, id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	out := make([]domain.ChatMessage, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ChatMessage{
			ID:        r.ID,
			RoomID:    domain.RoomID(r.RoomID),
			Author:    r.Author,
			Body:      r.Body,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (s *GormStore) Purge(ctx context.Context, room domain.RoomID) (int64, error) {
	res := s.db.WithContext(ctx).Where("room_id = ?", string(room)).Delete(&chatRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge chat history: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
