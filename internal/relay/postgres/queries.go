package postgres

const schema = `
CREATE TABLE IF NOT EXISTS chat_users (
	id        BIGINT PRIMARY KEY,
	username  TEXT NOT NULL,
	email     TEXT NOT NULL DEFAULT '',
	avatar    TEXT NOT NULL DEFAULT '',
	is_admin  BOOLEAN NOT NULL DEFAULT FALSE,
	active    BOOLEAN NOT NULL DEFAULT TRUE,
	online    BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS message_rooms (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	is_group   BOOLEAN NOT NULL DEFAULT FALSE,
	created_by BIGINT REFERENCES chat_users (id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS message_room_members (
	room_id   TEXT NOT NULL REFERENCES message_rooms (id) ON DELETE CASCADE,
	user_id   BIGINT NOT NULL REFERENCES chat_users (id) ON DELETE CASCADE,
	is_admin  BOOLEAN NOT NULL DEFAULT FALSE,
	last_seen TIMESTAMPTZ,
	PRIMARY KEY (room_id, user_id)
);

CREATE TABLE IF NOT EXISTS messages (
	id           UUID PRIMARY KEY,
	room_id      TEXT NOT NULL REFERENCES message_rooms (id) ON DELETE CASCADE,
	sender_id    BIGINT NOT NULL REFERENCES chat_users (id),
	content      TEXT NOT NULL,
	message_type TEXT NOT NULL DEFAULT 'TEXT',
	sent_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS messages_room_sent_idx ON messages (room_id, sent_at, id);
`

const (
	queryRoomExists = `SELECT 1 FROM message_rooms WHERE id = $1`

	queryIsMember = `SELECT 1 FROM message_room_members WHERE room_id = $1 AND user_id = $2`

	queryInsertMessage = `
		INSERT INTO messages (id, room_id, sender_id, content, message_type, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	queryRoomMessages = `
		SELECT m.id::text, m.content, m.room_id, m.sender_id, u.username, u.avatar, m.sent_at, m.message_type
		FROM messages m
		JOIN chat_users u ON u.id = m.sender_id
		WHERE m.room_id = $1
		ORDER BY m.sent_at, m.id`

	queryUserRooms = `
		SELECT r.id, r.name, r.is_group, COALESCE(r.created_by, 0), r.created_at
		FROM message_rooms r
		JOIN message_room_members rm ON rm.room_id = r.id
		WHERE rm.user_id = $1
		ORDER BY r.created_at, r.id`

	queryRoomMembers = `
		SELECT rm.room_id, rm.user_id, u.username, u.avatar, rm.is_admin, rm.last_seen
		FROM message_room_members rm
		JOIN chat_users u ON u.id = rm.user_id
		WHERE rm.room_id = ANY($1)
		ORDER BY rm.room_id, rm.is_admin DESC, rm.user_id`

	queryLastMessages = `
		SELECT DISTINCT ON (m.room_id)
			m.id::text, m.content, m.room_id, m.sender_id, u.username, u.avatar, m.sent_at, m.message_type
		FROM messages m
		JOIN chat_users u ON u.id = m.sender_id
		WHERE m.room_id = ANY($1)
		ORDER BY m.room_id, m.sent_at DESC, m.id DESC`

	queryGetUser = `
		SELECT id, username, email, avatar, is_admin, active
		FROM chat_users WHERE id = $1`

	querySetOnline = `
		UPDATE chat_users
		SET online = $2, last_seen = now()
		WHERE id = $1 AND online <> $2`

	queryUserExists = `SELECT 1 FROM chat_users WHERE id = $1`

	queryOnlineUsers = `
		SELECT id, username, email, avatar, is_admin, active
		FROM chat_users WHERE online ORDER BY id`

	queryDisableUser = `UPDATE chat_users SET active = FALSE, online = FALSE WHERE id = $1`

	queryUpsertUser = `
		INSERT INTO chat_users (id, username, email, avatar, is_admin, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username, email = EXCLUDED.email, avatar = EXCLUDED.avatar,
		    is_admin = EXCLUDED.is_admin, active = EXCLUDED.active`

	queryUpsertRoom = `
		INSERT INTO message_rooms (id, name, is_group, created_by, created_at)
		VALUES ($1, $2, $3, NULLIF($4, 0), $5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name, is_group = EXCLUDED.is_group`

	queryTouchMember = `
		UPDATE message_room_members SET last_seen = now()
		WHERE room_id = $1 AND user_id = $2`

	queryDeleteMembers = `DELETE FROM message_room_members WHERE room_id = $1`

	queryInsertMember = `
		INSERT INTO message_room_members (room_id, user_id, is_admin)
		VALUES ($1, $2, $3)`
)
