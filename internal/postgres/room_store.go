package postgres

import (
	"context"
	"errors"

	"github.com/cwrk-planet/room-bus/internal/domain"
	"github.com/cwrk-planet/room-bus/internal/store"

	"github.com/jackc/pgx/v5"
)

func (r *MessageStore) CreateRoom(ctx context.Context, room *domain.Room) error {
	if err := store.ValidateRoom(room); err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.StorageError("postgres.CreateRoom", err)
	}
	defer tx.Rollback(ctx)

	var id int64
	if err := tx.QueryRow(ctx, queryCreateRoom, room.Name, room.Category, room.Description).
		Scan(&id, &room.CreatedAt); err != nil {
		return domain.StorageError("postgres.CreateRoom", err)
	}
	if _, err := tx.Exec(ctx, queryCreateRoomSequence, id); err != nil {
		return domain.StorageError("postgres.CreateRoom", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.StorageError("postgres.CreateRoom", err)
	}
	room.ID = domain.RoomID(id)
	room.CreatedAt = room.CreatedAt.UTC()
	return nil
}

func (r *MessageStore) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	rm, err := scanRoom(r.db.QueryRow(ctx, queryGetRoom, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, domain.StorageError("postgres.GetRoom", err)
	}
	return rm, nil
}

func (r *MessageStore) ListRooms(ctx context.Context, category string, afterID domain.RoomID, limit int) ([]domain.Room, error) {
	rows, err := r.db.Query(ctx, queryListRooms, int64(afterID), category, store.ClampLimit(limit))
	if err != nil {
		return nil, domain.StorageError("postgres.ListRooms", err)
	}
	defer rows.Close()

	var rooms []domain.Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, domain.StorageError("postgres.ListRooms", err)
		}
		rooms = append(rooms, *rm)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.StorageError("postgres.ListRooms", err)
	}
	return rooms, nil
}

func scanRoom(row pgx.Row) (*domain.Room, error) {
	var (
		rm domain.Room
		id int64
	)
	if err := row.Scan(&id, &rm.Name, &rm.Category, &rm.Description, &rm.CreatedAt); err != nil {
		return nil, err
	}
	rm.ID = domain.RoomID(id)
	rm.CreatedAt = rm.CreatedAt.UTC()
	return &rm, nil
}
