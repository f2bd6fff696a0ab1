package postgres

import (
	"context"
	"time"

	"github.com/cwrk-planet/room-bus/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PresenceMirror: копия реестра присутствия в room_presence для восстановления после рестарта.
type PresenceMirror struct {
	db *pgxpool.Pool
}

func NewPresenceMirror(db *pgxpool.Pool) *PresenceMirror {
	return &PresenceMirror{db: db}
}

func (r *PresenceMirror) Save(ctx context.Context, e domain.PresenceEntry) error {
	_, err := r.db.Exec(ctx, queryUpsertPresence, int64(e.RoomID), int64(e.CharacterID), e.LastHeartbeatAt)
	return err
}

func (r *PresenceMirror) Remove(ctx context.Context, roomID domain.RoomID, characterID domain.CharacterID) error {
	_, err := r.db.Exec(ctx, queryDeletePresence, int64(roomID), int64(characterID))
	return err
}

func (r *PresenceMirror) Load(ctx context.Context) ([]domain.PresenceEntry, error) {
	rows, err := r.db.Query(ctx, queryLoadPresence)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PresenceEntry, 0, 16)
	for rows.Next() {
		var (
			room, char int64
			at         time.Time
		)
		if err := rows.Scan(&room, &char, &at); err != nil {
			return nil, err
		}
		out = append(out, domain.PresenceEntry{
			RoomID:          domain.RoomID(room),
			CharacterID:     domain.CharacterID(char),
			LastHeartbeatAt: at.UTC(),
		})
	}

	return out, rows.Err()
}
