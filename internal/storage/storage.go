// Package storage persists relay state in a relational database through gorm
// and mirrors the online set into Redis when one is configured.
package storage

import (
	"context"
	"errors"
	"fmt"
	"peerlink/backend/internal/config"
	"peerlink/backend/internal/models"
	"peerlink/backend/internal/relayerr"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Storage interface {
	// Transaction runs fn against a transaction-scoped Storage. Calls nested
	// inside fn become savepoints.
	Transaction(ctx context.Context, fn func(tx Storage) error) error

	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUsers(ctx context.Context, ids []string) (map[string]*models.User, error)
	SaveUser(ctx context.Context, user *models.User) error
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) (*models.User, error)
	SetAvailability(ctx context.Context, userID string, available bool) (*models.User, error)
	ListOnlineUsers(ctx context.Context) ([]models.User, error)
	ResetPresence(ctx context.Context, at time.Time) (int64, error)
	FriendIDs(ctx context.Context, userID string) ([]string, error)
	SaveGrant(ctx context.Context, granterID, granteeID string) (*models.UserGrant, error)

	CreateRequest(ctx context.Context, req *models.MatchmakingRequest) error
	GetRequest(ctx context.Context, id string) (*models.MatchmakingRequest, error)
	TransitionRequest(ctx context.Context, id string, from, to models.RequestStatus, sessionID string, now time.Time) (bool, error)
	ExpireRequest(ctx context.Context, id string, now time.Time) (bool, error)
	OverdueRequests(ctx context.Context, now time.Time, userIDs ...string) ([]models.MatchmakingRequest, error)
	ListRequestsForUser(ctx context.Context, userID string) ([]models.MatchmakingRequest, error)

	CreateRoom(ctx context.Context, room *models.Room) error
	GetRoom(ctx context.Context, id string) (*models.Room, error)
	GetRoomByCode(ctx context.Context, code string) (*models.Room, error)
	ListRoomsForUser(ctx context.Context, userID string) ([]models.Room, error)
	ClaimSecondSlot(ctx context.Context, roomID, userID string, at time.Time) (bool, error)
	ActivateRoom(ctx context.Context, roomID string) (bool, error)
	LinkRoomSession(ctx context.Context, roomID, sessionID string) (bool, error)
	TouchRoom(ctx context.Context, roomID string, at time.Time) error
	UpsertParticipant(ctx context.Context, roomID, userID string, connected bool, at time.Time) error
	SetParticipantConnected(ctx context.Context, roomID, userID string, connected bool, at time.Time) (bool, error)
	GetParticipants(ctx context.Context, roomID string) ([]models.RoomParticipant, error)

	CreateEvent(ctx context.Context, event *models.Event) error
	GetEventByCode(ctx context.Context, code string) (*models.Event, error)
	AddEventParticipant(ctx context.Context, code, userID string) (*models.Event, error)
}

type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
	log   zerolog.Logger
}

// NewStorageService wraps an open database. rdb may be nil.
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
		log:   log.Logger.With().Str("component", "storage").Logger(),
	}
}

// Models lists every table owned by the relay.
func Models() []any {
	return []any{
		&models.User{},
		&models.UserGrant{},
		&models.MatchmakingRequest{},
		&models.Room{},
		&models.RoomParticipant{},
		&models.Event{},
	}
}

// Open connects to the configured database and migrates the schema.
func Open(cfg config.DB) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("storage: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("storage: connect %s: %w", cfg.Driver, err)
	}
	if cfg.Driver == "sqlite" {
		// One writer at a time; in-memory databases also vanish with their
		// last connection.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		return nil, fmt.Errorf("storage: migrate: %w", err)
	}
	return db, nil
}

func (s *Service) Transaction(ctx context.Context, fn func(tx Storage) error) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Service{DB: tx, Redis: s.Redis, log: s.log})
	})
}

func (s *Service) db(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx)
}

// translate maps gorm errors onto the relay taxonomy.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return relayerr.New(relayerr.ErrNotFound, "%s not found", what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return relayerr.New(relayerr.ErrConflict, "%s already exists", what)
	}
	return fmt.Errorf("storage: %s: %w", what, err)
}

// monotonic keeps a timestamp column from moving backwards.
func monotonic(column string, at time.Time) any {
	return gorm.Expr(fmt.Sprintf("CASE WHEN %[1]s IS NULL OR %[1]s < ? THEN ? ELSE %[1]s END", column), at, at)
}

var gormNotFound = gorm.ErrRecordNotFound
