package domain

import "time"

type PresenceEntry struct {
	RoomID          RoomID      `db:"room_id" json:"room_id"`
	CharacterID     CharacterID `db:"character_id" json:"character_id"`
	LastHeartbeatAt time.Time   `db:"last_heartbeat_at" json:"last_heartbeat_at"`
}

// Expired: запись старше timeout считается отсутствующей, даже если sweep её ещё не удалил.
func (e PresenceEntry) Expired(now time.Time, timeout time.Duration) bool {
	return now.Sub(e.LastHeartbeatAt) > timeout
}
