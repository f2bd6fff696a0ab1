package postgres

const schema = `
CREATE TABLE IF NOT EXISTS rooms (
	id          BIGSERIAL PRIMARY KEY,
	name        TEXT NOT NULL,
	category    TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_rooms_category ON rooms (category, id);

-- счётчик id сообщений на комнату; строка блокируется на время append
CREATE TABLE IF NOT EXISTS room_sequences (
	room_id BIGINT PRIMARY KEY REFERENCES rooms (id) ON DELETE CASCADE,
	last_id BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS room_messages (
	room_id             BIGINT NOT NULL REFERENCES rooms (id) ON DELETE CASCADE,
	id                  BIGINT NOT NULL,
	author_character_id BIGINT NOT NULL,
	body                TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (room_id, id)
);

CREATE TABLE IF NOT EXISTS room_presence (
	room_id           BIGINT NOT NULL,
	character_id      BIGINT NOT NULL,
	last_heartbeat_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (room_id, character_id)
);
`

const (
	queryCreateRoom = `
		INSERT INTO rooms (name, category, description)
		VALUES ($1, $2, $3)
		RETURNING id, created_at`
	queryCreateRoomSequence = `INSERT INTO room_sequences (room_id) VALUES ($1)`
	queryGetRoom            = `SELECT id, name, category, description, created_at FROM rooms WHERE id = $1`
	queryListRooms          = `
		SELECT id, name, category, description, created_at
		FROM rooms
		WHERE id > $1 AND ($2 = '' OR category = $2)
		ORDER BY id ASC
		LIMIT $3`

	queryNextMessageID = `
		UPDATE room_sequences SET last_id = last_id + 1
		WHERE room_id = $1
		RETURNING last_id`
	queryInsertMessage = `
		INSERT INTO room_messages (room_id, id, author_character_id, body, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	queryReadSince = `
		SELECT room_id, id, author_character_id, body, created_at
		FROM room_messages
		WHERE room_id = $1 AND id > $2
		ORDER BY id ASC
		LIMIT $3`

	queryUpsertPresence = `
		INSERT INTO room_presence (room_id, character_id, last_heartbeat_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (room_id, character_id) DO UPDATE SET last_heartbeat_at = EXCLUDED.last_heartbeat_at`
	queryDeletePresence = `DELETE FROM room_presence WHERE room_id = $1 AND character_id = $2`
	queryLoadPresence   = `
		SELECT room_id, character_id, last_heartbeat_at
		FROM room_presence
		ORDER BY room_id, character_id`
)
