// Package peer is the persistence layer for peer rooms: rooms, messages,
// audit entries and the read-only user replica.
package peer

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"campuswell/internal/models"
	"campuswell/internal/redis"
	"campuswell/internal/storage"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Service implements the room directory, message store and audit log.
type Service struct {
	db        *sqlx.DB
	cache     *roomCache
	publisher *redis.Client
}

// NewService wraps db. rdb may be nil, which disables the room cache and
// the flagged-message publisher.
func NewService(db *sql.DB, dbType string, rdb *redis.Client, cacheTTL time.Duration) (*Service, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	driver, err := storage.DriverName(dbType)
	if err != nil {
		return nil, err
	}
	s := &Service{db: sqlx.NewDb(db, driver)}
	if rdb != nil {
		s.cache = newRoomCache(rdb, cacheTTL)
		s.publisher = rdb
	}
	return s, nil
}

const roomColumns = `id, slug, title, topic, is_minor_safe, created_at`

// RoomBySlug resolves a room, going through the redis cache when enabled.
// Unknown slugs return models.ErrRoomNotFound.
func (s *Service) RoomBySlug(ctx context.Context, slug string) (*models.Room, error) {
	slug = strings.TrimSpace(slug)
	if slug == "" {
		return nil, models.ErrRoomNotFound
	}
	if s.cache != nil {
		return s.cache.get(ctx, slug, s.loadRoom)
	}
	return s.loadRoom(ctx, slug)
}

func (s *Service) loadRoom(ctx context.Context, slug string) (*models.Room, error) {
	var room models.Room
	err := s.db.GetContext(ctx, &room, `SELECT `+roomColumns+` FROM peer_rooms WHERE slug = ?`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load room %s: %w", slug, err)
	}
	return &room, nil
}

// ListRooms returns every room ordered by title.
func (s *Service) ListRooms(ctx context.Context) ([]models.Room, error) {
	rooms := []models.Room{}
	if err := s.db.SelectContext(ctx, &rooms, `SELECT `+roomColumns+` FROM peer_rooms ORDER BY title`); err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	return rooms, nil
}

// CreateRoom inserts room, assigning an id and timestamp when missing.
func (s *Service) CreateRoom(ctx context.Context, room *models.Room) error {
	if room == nil || strings.TrimSpace(room.Slug) == "" || strings.TrimSpace(room.Title) == "" {
		return errors.New("room slug and title are required")
	}
	if room.ID == "" {
		room.ID = uuid.NewString()
	}
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO peer_rooms (id, slug, title, topic, is_minor_safe, created_at)
		 VALUES (:id, :slug, :title, :topic, :is_minor_safe, :created_at)`, room)
	if err != nil {
		return fmt.Errorf("create room: %w", err)
	}
	return nil
}

// UpsertUser mirrors an account from the auth service into the local replica.
func (s *Service) UpsertUser(ctx context.Context, user *models.User) error {
	if user == nil || user.ID == "" {
		return errors.New("user id is required")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Role == "" {
		user.Role = models.RoleStudent
	}
	var age sql.NullString
	if user.AgeBracket != "" {
		age = sql.NullString{String: string(user.AgeBracket), Valid: true}
	}
	var existing int
	if err := s.db.GetContext(ctx, &existing, `SELECT COUNT(1) FROM users WHERE id = ?`, user.ID); err != nil {
		return fmt.Errorf("lookup user: %w", err)
	}
	if existing > 0 {
		_, err := s.db.ExecContext(ctx,
			`UPDATE users SET email = ?, display_name = ?, role = ?, age_bracket = ?, consent_minor_ok = ? WHERE id = ?`,
			user.Email, user.DisplayName, user.Role, age, user.ConsentMinorOK, user.ID)
		if err != nil {
			return fmt.Errorf("update user: %w", err)
		}
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, display_name, role, age_bracket, consent_minor_ok, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Email, user.DisplayName, user.Role, age, user.ConsentMinorOK, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// CreateMessage inserts msg. The author name is resolved before the insert:
// the user replica wins, then msg.Author.DisplayName. A failed replica read
// falls back to the supplied name.
func (s *Service) CreateMessage(ctx context.Context, msg *models.Message) error {
	if msg == nil || msg.RoomID == "" || msg.AuthorID == "" {
		return errors.New("message room and author are required")
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if msg.Flags == nil {
		msg.Flags = []string{}
	}
	flags, err := json.Marshal(msg.Flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}

	msg.Author.ID = msg.AuthorID
	if name := s.replicaName(ctx, msg.AuthorID); name != "" {
		msg.Author.DisplayName = name
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO peer_messages (id, room_id, author_id, author_name, body, flagged, flags, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.RoomID, msg.AuthorID, msg.Author.DisplayName, msg.Body, msg.Flagged, string(flags), msg.CreatedAt,
	); err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *Service) replicaName(ctx context.Context, userID string) string {
	var name string
	err := s.db.GetContext(ctx, &name, `SELECT display_name FROM users WHERE id = ?`, userID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		slog.Warn("author lookup failed", "user", userID, "err", err)
	}
	return name
}

type messageRow struct {
	ID          string         `db:"id"`
	RoomID      string         `db:"room_id"`
	AuthorID    string         `db:"author_id"`
	Body        string         `db:"body"`
	Flagged     bool           `db:"flagged"`
	Flags       string         `db:"flags"`
	CreatedAt   time.Time      `db:"created_at"`
	DisplayName sql.NullString `db:"display_name"`
	AuthorName  string         `db:"author_name"`
	RoomSlug    string         `db:"room_slug"`
	RoomTitle   string         `db:"room_title"`
}

func (r messageRow) toMessage() models.Message {
	flags := []string{}
	if r.Flags != "" {
		if err := json.Unmarshal([]byte(r.Flags), &flags); err != nil {
			flags = []string{}
		}
	}
	name := r.DisplayName.String
	if name == "" {
		name = r.AuthorName
	}
	if name == "" {
		name = "Anonymous"
	}
	return models.Message{
		ID:        r.ID,
		RoomID:    r.RoomID,
		AuthorID:  r.AuthorID,
		Body:      r.Body,
		Flagged:   r.Flagged,
		Flags:     flags,
		CreatedAt: r.CreatedAt,
		Author:    models.Author{ID: r.AuthorID, DisplayName: name},
	}
}

const messageSelect = `SELECT m.id, m.room_id, m.author_id, m.author_name, m.body, m.flagged, m.flags, m.created_at,
		u.display_name, r.slug AS room_slug, r.title AS room_title
	FROM peer_messages m
	JOIN peer_rooms r ON r.id = m.room_id
	LEFT JOIN users u ON u.id = m.author_id`

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

// ListMessages returns the most recent messages of a room, oldest first.
func (s *Service) ListMessages(ctx context.Context, roomID string, limit int) ([]models.Message, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		messageSelect+` WHERE m.room_id = ? ORDER BY m.created_at DESC, m.id DESC LIMIT ?`,
		roomID, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	out := make([]models.Message, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.toMessage()
	}
	return out, nil
}

// ListFlagged returns flagged messages across rooms, newest first.
func (s *Service) ListFlagged(ctx context.Context, limit int) ([]models.FlaggedMessage, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows,
		messageSelect+` WHERE m.flagged = ? ORDER BY m.created_at DESC, m.id DESC LIMIT ?`,
		true, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list flagged messages: %w", err)
	}
	out := make([]models.FlaggedMessage, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.FlaggedMessage{Message: row.toMessage(), RoomSlug: row.RoomSlug, RoomTitle: row.RoomTitle})
	}
	return out, nil
}

// RecordAudit appends an audit entry.
func (s *Service) RecordAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry == nil || entry.Action == "" {
		return errors.New("audit action is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	metadata := string(entry.Metadata)
	if metadata == "" {
		metadata = "{}"
	}
	var actor sql.NullString
	if entry.ActorID != "" {
		actor = sql.NullString{String: entry.ActorID, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, actor_id, action, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		entry.ID, actor, entry.Action, metadata, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("record audit: %w", err)
	}
	return nil
}

type auditRow struct {
	ID        string         `db:"id"`
	ActorID   sql.NullString `db:"actor_id"`
	Action    string         `db:"action"`
	Metadata  string         `db:"metadata"`
	CreatedAt time.Time      `db:"created_at"`
}

// ListAudit returns audit entries newest first, optionally filtered by action.
func (s *Service) ListAudit(ctx context.Context, action string, limit int) ([]models.AuditEntry, error) {
	query := `SELECT id, actor_id, action, metadata, created_at FROM audit_logs`
	args := []interface{}{}
	if action != "" {
		query += ` WHERE action = ?`
		args = append(args, action)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	var rows []auditRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	out := make([]models.AuditEntry, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.AuditEntry{
			ID:        row.ID,
			ActorID:   row.ActorID.String,
			Action:    row.Action,
			Metadata:  json.RawMessage(row.Metadata),
			CreatedAt: row.CreatedAt,
		})
	}
	return out, nil
}
