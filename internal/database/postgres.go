package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"marketchat/internal/models"
)

func InitDB(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Store wraps the SQL connection with the query surface the chat core
// consumes. The core packages accept narrow interfaces; this is the one
// durable implementation behind all of them.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- Users ---

func (s *Store) CreateUser(ctx context.Context, nickname, email, passwordHash string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (nickname, email, password) VALUES ($1, $2, $3)
		 RETURNING id, nickname, email, created_at`,
		nickname, email, passwordHash,
	).Scan(&u.ID, &u.Nickname, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}

func (s *Store) UserByNickname(ctx context.Context, nickname string) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, nickname, email, password, push_token, created_at FROM users WHERE nickname = $1`,
		nickname,
	).Scan(&u.ID, &u.Nickname, &u.Email, &u.Password, &u.PushToken, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, nickname, email, push_token, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Nickname, &u.Email, &u.PushToken, &u.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (s *Store) UpdatePushToken(ctx context.Context, userID int64, token string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET push_token = $1 WHERE id = $2`, token, userID)
	return err
}

func (s *Store) ClearPushToken(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET push_token = NULL WHERE id = $1`, userID)
	return err
}

// --- Posts ---

func (s *Store) CreatePost(ctx context.Context, authorID int64, title string) (*models.Post, error) {
	var p models.Post
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO posts (author_id, title) VALUES ($1, $2)
		 RETURNING id, author_id, title, created_at`,
		authorID, title,
	).Scan(&p.ID, &p.AuthorID, &p.Title, &p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create post: %w", err)
	}
	return &p, nil
}

func (s *Store) PostByID(ctx context.Context, id int64) (*models.Post, error) {
	var p models.Post
	err := s.db.QueryRowContext(ctx,
		`SELECT id, author_id, title, created_at FROM posts WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.AuthorID, &p.Title, &p.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get post: %w", err)
	}
	return &p, nil
}

// --- Rooms & membership ---

func (s *Store) RoomByID(ctx context.Context, id int64) (*models.Room, error) {
	var r models.Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, post_id, owner_id, requester_id, created_at FROM rooms WHERE id = $1`,
		id,
	).Scan(&r.ID, &r.PostID, &r.OwnerID, &r.RequesterID, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &r, nil
}

func (s *Store) RoomByPostAndRequester(ctx context.Context, postID, requesterID int64) (*models.Room, error) {
	var r models.Room
	err := s.db.QueryRowContext(ctx,
		`SELECT id, post_id, owner_id, requester_id, created_at FROM rooms
		 WHERE post_id = $1 AND requester_id = $2`,
		postID, requesterID,
	).Scan(&r.ID, &r.PostID, &r.OwnerID, &r.RequesterID, &r.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get room: %w", err)
	}
	return &r, nil
}

// CreateRoom inserts the room and both active memberships in one
// transaction so a room never exists half-populated.
func (s *Store) CreateRoom(ctx context.Context, postID, ownerID, requesterID int64) (*models.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	var r models.Room
	err = tx.QueryRowContext(ctx,
		`INSERT INTO rooms (post_id, owner_id, requester_id) VALUES ($1, $2, $3)
		 RETURNING id, post_id, owner_id, requester_id, created_at`,
		postID, ownerID, requesterID,
	).Scan(&r.ID, &r.PostID, &r.OwnerID, &r.RequesterID, &r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}

	for _, userID := range []int64{ownerID, requesterID} {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`,
			r.ID, userID,
		); err != nil {
			return nil, fmt.Errorf("failed to add room member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit room: %w", err)
	}
	return &r, nil
}

func (s *Store) Membership(ctx context.Context, roomID, userID int64) (*models.Membership, error) {
	var m models.Membership
	err := s.db.QueryRowContext(ctx,
		`SELECT room_id, user_id, active, joined_at, left_at FROM room_members
		 WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&m.RoomID, &m.UserID, &m.Active, &m.JoinedAt, &m.LeftAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return &m, nil
}

func (s *Store) IsActiveMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = $1 AND user_id = $2 AND active)`,
		roomID, userID,
	).Scan(&exists)
	return exists, err
}

// ReactivateMembership flips a left membership back to active. Inserting
// when no row exists keeps rejoin idempotent for rooms created before the
// membership table carried the active flag.
func (s *Store) ReactivateMembership(ctx context.Context, roomID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (room_id, user_id)
		 DO UPDATE SET active = TRUE, left_at = NULL`,
		roomID, userID,
	)
	return err
}

func (s *Store) DeactivateMembership(ctx context.Context, roomID, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE room_members SET active = FALSE, left_at = NOW()
		 WHERE room_id = $1 AND user_id = $2 AND active`,
		roomID, userID,
	)
	return err
}

func (s *Store) RoomsForUser(ctx context.Context, userID int64) ([]models.RoomWithUnread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.post_id, r.owner_id, r.requester_id, r.created_at,
		       p.title,
		       COALESCE(unread.cnt, 0),
		       COALESCE(last_msg.content, ''),
		       last_msg.created_at
		FROM rooms r
		JOIN room_members rm ON r.id = rm.room_id
		JOIN posts p ON p.id = r.post_id
		LEFT JOIN LATERAL (
		    SELECT COUNT(*) AS cnt FROM messages m
		    WHERE m.room_id = r.id AND NOT m.is_read AND m.sender_id != $1
		) unread ON true
		LEFT JOIN LATERAL (
		    SELECT content, created_at FROM messages
		    WHERE room_id = r.id ORDER BY created_at DESC, id DESC LIMIT 1
		) last_msg ON true
		WHERE rm.user_id = $1 AND rm.active
		ORDER BY COALESCE(last_msg.created_at, r.created_at) DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rooms: %w", err)
	}
	defer rows.Close()

	var rooms []models.RoomWithUnread
	for rows.Next() {
		var r models.RoomWithUnread
		var lastMsgAt *time.Time
		if err := rows.Scan(&r.ID, &r.PostID, &r.OwnerID, &r.RequesterID, &r.CreatedAt,
			&r.PostTitle, &r.UnreadCount, &r.LastMessage, &lastMsgAt); err != nil {
			return nil, err
		}
		r.LastMessageAt = lastMsgAt
		rooms = append(rooms, r)
	}
	if rooms == nil {
		rooms = []models.RoomWithUnread{}
	}
	return rooms, rows.Err()
}

// --- Messages ---

func (s *Store) CreateMessage(ctx context.Context, roomID, senderID int64, content, msgType string, at time.Time) (*models.MessageView, error) {
	var m models.MessageView
	err := s.db.QueryRowContext(ctx, `
		WITH inserted AS (
		    INSERT INTO messages (room_id, sender_id, content, type, created_at)
		    VALUES ($1, $2, $3, $4, $5)
		    RETURNING id, room_id, sender_id, content, type, is_read, created_at
		)
		SELECT i.id, i.room_id, i.sender_id, i.content, i.type, i.is_read, i.created_at, u.nickname
		FROM inserted i JOIN users u ON i.sender_id = u.id
	`, roomID, senderID, content, msgType, at,
	).Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Type, &m.Read, &m.CreatedAt, &m.SenderNickname)
	if err != nil {
		return nil, fmt.Errorf("failed to create message: %w", err)
	}
	return &m, nil
}

func (s *Store) MessagesPage(ctx context.Context, roomID int64, page, size int) ([]models.MessageView, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.room_id, m.sender_id, m.content, m.type, m.is_read, m.created_at, u.nickname
		FROM messages m JOIN users u ON m.sender_id = u.id
		WHERE m.room_id = $1
		ORDER BY m.created_at DESC, m.id DESC
		OFFSET $2 LIMIT $3
	`, roomID, page*size, size)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []models.MessageView
	for rows.Next() {
		var m models.MessageView
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.Type, &m.Read, &m.CreatedAt, &m.SenderNickname); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	if messages == nil {
		messages = []models.MessageView{}
	}
	return messages, rows.Err()
}

// MarkMessagesRead flips every unread message in the room not authored by
// the reader. Re-running is a no-op since the filter excludes read rows.
func (s *Store) MarkMessagesRead(ctx context.Context, roomID, readerID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET is_read = TRUE
		 WHERE room_id = $1 AND NOT is_read AND sender_id != $2`,
		roomID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	return res.RowsAffected()
}

// --- Notifications ---

func (s *Store) CreateNotification(ctx context.Context, n *models.Notification) error {
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO notifications (type, receiver_id, sender_id, sender_nickname, room_id, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		n.Type, n.ReceiverID, n.SenderID, n.SenderNickname, n.RoomID, n.Content, n.CreatedAt,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (s *Store) UnreadNotifications(ctx context.Context, receiverID int64) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, receiver_id, sender_id, sender_nickname, room_id, content, is_read, created_at
		 FROM notifications
		 WHERE receiver_id = $1 AND NOT is_read
		 ORDER BY created_at DESC, id DESC`,
		receiverID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}
	defer rows.Close()

	var list []models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.ReceiverID, &n.SenderID, &n.SenderNickname,
			&n.RoomID, &n.Content, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, n)
	}
	if list == nil {
		list = []models.Notification{}
	}
	return list, rows.Err()
}

func (s *Store) CountUnreadNotifications(ctx context.Context, receiverID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE receiver_id = $1 AND NOT is_read`,
		receiverID,
	).Scan(&count)
	return count, err
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, receiverID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE receiver_id = $1 AND NOT is_read`,
		receiverID,
	)
	return err
}
