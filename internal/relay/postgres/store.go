package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cwrk-planet/admin-chat/internal/domain"
	"github.com/cwrk-planet/admin-chat/internal/relay"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

type Store struct {
	db  *pgxpool.Pool
	now func() time.Time
}

var (
	_ relay.Store  = (*Store)(nil)
	_ relay.Seeder = (*Store)(nil)
)

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *Store) SaveMessage(ctx context.Context, req domain.MessageRequest) (domain.Message, error) {
	typ := req.MessageType
	if typ == "" {
		typ = domain.TypeText
	}
	m := domain.Message{
		ID:       uuid.NewString(),
		Content:  req.Content,
		RoomID:   req.MessageRoomID,
		SenderID: req.SenderID,
		// microseconds is what timestamptz keeps
		SentAt: domain.NewTimestamp(s.now().UTC().Truncate(time.Microsecond)),
		Type:   typ,
	}

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := exists(ctx, tx, queryRoomExists, domain.ErrRoomNotFound, req.MessageRoomID); err != nil {
			return err
		}
		if err := exists(ctx, tx, queryIsMember, relay.ErrNotMember, req.MessageRoomID, req.SenderID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, queryInsertMessage, m.ID, m.RoomID, m.SenderID, m.Content, m.Type, m.SentAt.Time); err != nil {
			return mapPgError(err)
		}
		return tx.QueryRow(ctx, `SELECT username, avatar FROM chat_users WHERE id = $1`, m.SenderID).
			Scan(&m.SenderName, &m.SenderAvatar)
	})
	if err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func (s *Store) RoomMessages(ctx context.Context, roomID string) ([]domain.Message, error) {
	if err := exists(ctx, s.db, queryRoomExists, domain.ErrRoomNotFound, roomID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx, queryRoomMessages, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) DetailedRooms(ctx context.Context, user domain.UserID) ([]domain.MessageRoom, error) {
	rows, err := s.db.Query(ctx, queryUserRooms, user)
	if err != nil {
		return nil, err
	}
	out := []domain.MessageRoom{}
	index := map[string]int{}
	for rows.Next() {
		var (
			r         domain.MessageRoom
			createdBy int64
			createdAt time.Time
		)
		if err := rows.Scan(&r.ID, &r.Name, &r.IsGroup, &createdBy, &createdAt); err != nil {
			rows.Close()
			return nil, err
		}
		r.CreatedBy = domain.UserID(createdBy)
		r.CreatedAt = domain.NewTimestamp(createdAt.UTC())
		r.Members = []domain.RoomMember{}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]string, len(out))
	for i, r := range out {
		ids[i] = r.ID
	}

	rows, err = s.db.Query(ctx, queryRoomMembers, ids)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var (
			roomID   string
			uid      int64
			member   domain.RoomMember
			lastSeen *time.Time
		)
		if err := rows.Scan(&roomID, &uid, &member.Username, &member.Avatar, &member.IsAdmin, &lastSeen); err != nil {
			rows.Close()
			return nil, err
		}
		member.UserID = domain.UserID(uid)
		if lastSeen != nil {
			member.LastSeen = domain.NewTimestamp(lastSeen.UTC())
		}
		i := index[roomID]
		out[i].Members = append(out[i].Members, member)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(ctx, queryLastMessages, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out[index[m.RoomID]].LastMessage = &m
	}
	return out, rows.Err()
}

func (s *Store) User(ctx context.Context, id domain.UserID) (domain.UserResponse, error) {
	u, err := scanUser(s.db.QueryRow(ctx, queryGetUser, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserResponse{}, relay.ErrUserNotFound
	}
	return u, err
}

func (s *Store) SetOnline(ctx context.Context, id domain.UserID, online bool) (bool, error) {
	tag, err := s.db.Exec(ctx, querySetOnline, id, online)
	if err != nil {
		return false, mapPgError(err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}
	// nothing updated: either already in that state or unknown
	if err := exists(ctx, s.db, queryUserExists, relay.ErrUserNotFound, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) OnlineUsers(ctx context.Context) ([]domain.UserResponse, error) {
	rows, err := s.db.Query(ctx, queryOnlineUsers)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.UserResponse{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) DisableUser(ctx context.Context, id domain.UserID) error {
	tag, err := s.db.Exec(ctx, queryDisableUser, id)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		return relay.ErrUserNotFound
	}
	return nil
}

func (s *Store) TouchMember(ctx context.Context, roomID string, user domain.UserID) error {
	tag, err := s.db.Exec(ctx, queryTouchMember, roomID, user)
	if err != nil {
		return mapPgError(err)
	}
	if tag.RowsAffected() == 0 {
		if err := exists(ctx, s.db, queryRoomExists, domain.ErrRoomNotFound, roomID); err != nil {
			return err
		}
		return relay.ErrNotMember
	}
	return nil
}

// UpsertUser adds or replaces a user.
func (s *Store) UpsertUser(ctx context.Context, u domain.UserResponse) error {
	_, err := s.db.Exec(ctx, queryUpsertUser, u.ID, u.Username, u.Email, u.Avatar, u.IsAdmin, u.Active)
	return mapPgError(err)
}

// UpsertRoom adds or replaces a room together with its member list.
func (s *Store) UpsertRoom(ctx context.Context, r domain.MessageRoom) error {
	createdAt := s.now().UTC()
	if r.CreatedAt.Valid {
		createdAt = r.CreatedAt.Time
	}
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, queryUpsertRoom, r.ID, r.Name, r.IsGroup, r.CreatedBy, createdAt); err != nil {
			return mapPgError(err)
		}
		if _, err := tx.Exec(ctx, queryDeleteMembers, r.ID); err != nil {
			return mapPgError(err)
		}
		for _, m := range r.Members {
			if _, err := tx.Exec(ctx, queryInsertMember, r.ID, m.UserID, m.IsAdmin); err != nil {
				return mapPgError(err)
			}
		}
		return nil
	})
}

func exists(ctx context.Context, q querier, sql string, notFound error, args ...any) error {
	var one int
	err := q.QueryRow(ctx, sql, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound
	}
	return err
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var (
		m      domain.Message
		sender int64
		sentAt time.Time
	)
	if err := row.Scan(&m.ID, &m.Content, &m.RoomID, &sender, &m.SenderName, &m.SenderAvatar, &sentAt, &m.Type); err != nil {
		return domain.Message{}, err
	}
	m.SenderID = domain.UserID(sender)
	m.SentAt = domain.NewTimestamp(sentAt.UTC())
	return m, nil
}

func scanUser(row pgx.Row) (domain.UserResponse, error) {
	var (
		u  domain.UserResponse
		id int64
	)
	if err := row.Scan(&id, &u.Username, &u.Email, &u.Avatar, &u.IsAdmin, &u.Active); err != nil {
		return domain.UserResponse{}, err
	}
	u.ID = domain.UserID(id)
	return u, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 23503 - foreign key violation
		if pgErr.Code == "23503" {
			return fmt.Errorf("%w: %s", relay.ErrUserNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
