package channel

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// RoomStore remembers the direct room opened with each chat account so later
// challenges and notifications reuse it.
type RoomStore interface {
	Room(ctx context.Context, chatAccount string) (roomID string, ok bool, err error)
	SaveRoom(ctx context.Context, chatAccount, roomID string) error
}

type InMemoryRoomStore struct {
	mu    sync.RWMutex
	rooms map[string]string
}

func NewInMemoryRoomStore() *InMemoryRoomStore {
	return &InMemoryRoomStore{rooms: make(map[string]string)}
}

func (s *InMemoryRoomStore) Room(_ context.Context, chatAccount string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[chatAccount]
	return room, ok, nil
}

func (s *InMemoryRoomStore) SaveRoom(_ context.Context, chatAccount, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[chatAccount] = roomID
	return nil
}

// PostgresRoomStore keeps rooms in the chat_rooms table.
type PostgresRoomStore struct {
	db *sql.DB
}

func NewPostgresRoomStore(db *sql.DB) *PostgresRoomStore {
	return &PostgresRoomStore{db: db}
}

func (s *PostgresRoomStore) Room(ctx context.Context, chatAccount string) (string, bool, error) {
	var room string
	err := s.db.QueryRowContext(ctx, `SELECT room_id FROM chat_rooms WHERE chat_account = $1`, chatAccount).Scan(&room)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find chat room: %w", err)
	}
	return room, true, nil
}

func (s *PostgresRoomStore) SaveRoom(ctx context.Context, chatAccount, roomID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_rooms (chat_account, room_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (chat_account) DO UPDATE SET room_id = EXCLUDED.room_id`,
		chatAccount, roomID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save chat room: %w", err)
	}
	return nil
}
