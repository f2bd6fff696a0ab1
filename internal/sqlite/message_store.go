// Package sqlite: store.Store поверх SQLite для одиночного инстанса без внешней БД.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/metrics"
	"github.com/cwrk-planet/room-bus/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	last_id     INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_rooms_category ON rooms (category, id);

CREATE TABLE IF NOT EXISTS room_messages (
	room_id             INTEGER NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	id                  INTEGER NOT NULL,
	author_character_id INTEGER NOT NULL,
	body                TEXT NOT NULL,
	created_at          INTEGER NOT NULL,
	PRIMARY KEY (room_id, id)
);
`

// MessageStore: SQLite допускает одного писателя, поэтому запись идёт под writeMu,
// чтение параллельно (WAL).
type MessageStore struct {
	db   *sql.DB
	opts store.Options

	writeMu sync.Mutex
}

var _ store.Store = (*MessageStore)(nil)

// Open открывает (или создаёт) базу и применяет схему.
// Пустой path: ./data/room-bus.db.
func Open(ctx context.Context, path string, opts store.Options) (*MessageStore, error) {
	if path == "" {
		path = "./data/room-bus.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &MessageStore{db: db, opts: opts.WithDefaults()}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MessageStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *MessageStore) Append(ctx context.Context, roomID domain.RoomID, author domain.CharacterID, body string) (domain.Message, error) {
	body, err := store.ValidateBody(body, s.opts.MaxBodyLength)
	if err != nil {
		return domain.Message{}, err
	}
	defer observe("append", time.Now())

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Message{}, domain.StorageError("sqlite.Append", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`UPDATE rooms SET last_id = last_id + 1 WHERE id = ? RETURNING last_id`, int64(roomID)).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Message{}, domain.ErrRoomNotFound
		}
		return domain.Message{}, domain.StorageError("sqlite.Append", err)
	}

	now := s.opts.Now().UTC()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO room_messages (room_id, id, author_character_id, body, created_at) VALUES (?, ?, ?, ?, ?)`,
		int64(roomID), id, int64(author), body, now.UnixNano()); err != nil {
		return domain.Message{}, domain.StorageError("sqlite.Append", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Message{}, domain.StorageError("sqlite.Append", err)
	}

	return domain.Message{
		ID:                domain.MessageID(id),
		RoomID:            roomID,
		AuthorCharacterID: author,
		Body:              body,
		CreatedAt:         now,
	}, nil
}

func (s *MessageStore) ReadSince(ctx context.Context, roomID domain.RoomID, afterID domain.MessageID, limit int) ([]domain.Message, error) {
	defer observe("read_since", time.Now())

	if afterID > store.MaxStoredID {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT room_id, id, author_character_id, body, created_at
		FROM room_messages
		WHERE room_id = ? AND id > ?
		ORDER BY id ASC
		LIMIT ?`, int64(roomID), int64(afterID), store.ClampLimit(limit))
	if err != nil {
		return nil, domain.StorageError("sqlite.ReadSince", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var room, id, author, created int64
		var m domain.Message
		if err := rows.Scan(&room, &id, &author, &m.Body, &created); err != nil {
			return nil, domain.StorageError("sqlite.ReadSince", err)
		}
		m.RoomID = domain.RoomID(room)
		m.ID = domain.MessageID(id)
		m.AuthorCharacterID = domain.CharacterID(author)
		m.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("sqlite.ReadSince", err)
	}
	return out, nil
}

func (s *MessageStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	if err := store.ValidateRoom(room); err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.opts.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO rooms (name, category, description, created_at) VALUES (?, ?, ?, ?)`,
		room.Name, room.Category, room.Description, now.UnixNano())
	if err != nil {
		return domain.StorageError("sqlite.CreateRoom", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.StorageError("sqlite.CreateRoom", err)
	}
	room.ID = domain.RoomID(id)
	room.CreatedAt = now
	return nil
}

func (s *MessageStore) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, category, description, created_at FROM rooms WHERE id = ?`, int64(id))
	rm, err := scanRoom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, domain.StorageError("sqlite.GetRoom", err)
	}
	return rm, nil
}

func (s *MessageStore) ListRooms(ctx context.Context, category string, afterID domain.RoomID, limit int) ([]domain.Room, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, category, description, created_at
		FROM rooms
		WHERE id > ? AND (? = '' OR category = ?)
		ORDER BY id ASC
		LIMIT ?`, int64(afterID), category, category, store.ClampLimit(limit))
	if err != nil {
		return nil, domain.StorageError("sqlite.ListRooms", err)
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, domain.StorageError("sqlite.ListRooms", err)
		}
		rooms = append(rooms, *rm)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("sqlite.ListRooms", err)
	}
	return rooms, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoom(row scanner) (*domain.Room, error) {
	var (
		rm          domain.Room
		id, created int64
	)
	if err := row.Scan(&id, &rm.Name, &rm.Category, &rm.Description, &created); err != nil {
		return nil, err
	}
	rm.ID = domain.RoomID(id)
	rm.CreatedAt = time.Unix(0, created).UTC()
	return &rm, nil
}

func (s *MessageStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *MessageStore) Close() error                   { return s.db.Close() }

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues("sqlite", op).Observe(time.Since(start).Seconds())
}
