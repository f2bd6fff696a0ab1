package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/metrics"
	"github.com/cwrk-planet/room-bus/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

/*
абстрактный слой над *pgxpool.Pool / pgx.Tx
чтобы запросы можно было делать атомарно а не по одному
*/
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// MessageStore: store.Store поверх PostgreSQL.
// id сообщений выдаёт room_sequences: UPDATE берёт блокировку строки комнаты,
// параллельные append в ту же комнату ждут коммита. Откат транзакции возвращает id.
type MessageStore struct {
	db   *pgxpool.Pool
	opts store.Options
}

var _ store.Store = (*MessageStore)(nil)

func NewMessageStore(db *pgxpool.Pool, opts store.Options) *MessageStore {
	return &MessageStore{db: db, opts: opts.WithDefaults()}
}

// Migrate создаёт таблицы, если их ещё нет.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	_, err := db.Exec(ctx, schema)
	return err
}

func (r *MessageStore) Append(ctx context.Context, roomID domain.RoomID, author domain.CharacterID, body string) (domain.Message, error) {
	body, err := store.ValidateBody(body, r.opts.MaxBodyLength)
	if err != nil {
		return domain.Message{}, err
	}
	defer observe("append", time.Now())

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Message{}, domain.StorageError("postgres.Append", err)
	}
	defer tx.Rollback(ctx)

	m, err := appendTx(ctx, tx, roomID, author, body, r.opts.Now().UTC())
	if err != nil {
		return domain.Message{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Message{}, domain.StorageError("postgres.Append", err)
	}
	return m, nil
}

func appendTx(ctx context.Context, q querier, roomID domain.RoomID, author domain.CharacterID, body string, now time.Time) (domain.Message, error) {
	var id int64
	if err := q.QueryRow(ctx, queryNextMessageID, int64(roomID)).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Message{}, domain.ErrRoomNotFound
		}
		return domain.Message{}, mapPgError("postgres.Append", err)
	}
	if _, err := q.Exec(ctx, queryInsertMessage, int64(roomID), id, int64(author), body, now); err != nil {
		return domain.Message{}, mapPgError("postgres.Append", err)
	}
	return domain.Message{
		ID:                domain.MessageID(id),
		RoomID:            roomID,
		AuthorCharacterID: author,
		Body:              body,
		CreatedAt:         now,
	}, nil
}

func (r *MessageStore) ReadSince(ctx context.Context, roomID domain.RoomID, afterID domain.MessageID, limit int) ([]domain.Message, error) {
	defer observe("read_since", time.Now())

	if afterID > store.MaxStoredID {
		return nil, nil
	}
	rows, err := r.db.Query(ctx, queryReadSince, int64(roomID), int64(afterID), store.ClampLimit(limit))
	if err != nil {
		return nil, domain.StorageError("postgres.ReadSince", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		var (
			m              domain.Message
			room, id, auth int64
		)
		if err := rows.Scan(&room, &id, &auth, &m.Body, &m.CreatedAt); err != nil {
			return nil, domain.StorageError("postgres.ReadSince", err)
		}
		m.RoomID = domain.RoomID(room)
		m.ID = domain.MessageID(id)
		m.AuthorCharacterID = domain.CharacterID(auth)
		m.CreatedAt = m.CreatedAt.UTC()
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("postgres.ReadSince", err)
	}
	return out, nil
}

func (r *MessageStore) Ping(ctx context.Context) error { return Ping(ctx, r.db) }

// Close не закрывает пул: им владеет вызывающий.
func (r *MessageStore) Close() error { return nil }

func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23503 - foreign key violation
		if pgErr.Code == "23503" {
			return domain.ErrRoomNotFound
		}
	}

	return domain.StorageError(op, err)
}

func observe(op string, start time.Time) {
	metrics.StoreLatency.WithLabelValues("postgres", op).Observe(time.Since(start).Seconds())
}
