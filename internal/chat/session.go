package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"campuswell/internal/access"
	"campuswell/internal/auth"
	"campuswell/internal/hub"
	"campuswell/internal/models"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unauthenticated"
	}
}

// Conn is the transport behind a session.
type Conn interface {
	hub.Conn
	Close() error
}

// TokenVerifier turns a handshake credential into an identity.
type TokenVerifier interface {
	VerifyToken(token string) (*auth.Identity, error)
}

// Session is one authenticated connection. Dispatch and Close for a
// session are expected to be called from the connection's read loop.
type Session struct {
	id       string
	identity *auth.Identity
	conn     Conn
	limiter  *rate.Limiter

	mu    sync.Mutex
	state State
}

func (s *Session) ID() string               { return s.id }
func (s *Session) Identity() *auth.Identity { return s.identity }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

type ManagerConfig struct {
	// MessagesPerSecond <= 0 disables rate limiting.
	MessagesPerSecond float64
	Burst             int
}

// Manager binds connections to verified identities and routes their events.
type Manager struct {
	verifier TokenVerifier
	rooms    RoomDirectory
	pipeline *Pipeline
	registry *hub.Registry
	cfg      ManagerConfig
	validate *validator.Validate
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(verifier TokenVerifier, rooms RoomDirectory, pipeline *Pipeline, registry *hub.Registry, cfg ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		verifier: verifier,
		rooms:    rooms,
		pipeline: pipeline,
		registry: registry,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger.With("component", "sessions"),
		sessions: make(map[string]*Session),
	}
}

// Authenticate verifies the handshake token. A failure means the connection
// must be refused.
func (m *Manager) Authenticate(token string) (*auth.Identity, error) {
	if strings.TrimSpace(token) == "" {
		return nil, auth.ErrInvalidToken
	}
	return m.verifier.VerifyToken(token)
}

// Open registers an authenticated connection. Moderators and admins are
// subscribed to the moderator channel here.
func (m *Manager) Open(identity *auth.Identity, conn Conn) *Session {
	s := &Session{
		id:       conn.ID(),
		identity: identity,
		conn:     conn,
		state:    StateAuthenticated,
	}
	if m.cfg.MessagesPerSecond > 0 {
		burst := m.cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(m.cfg.MessagesPerSecond), burst)
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	if identity.Role.IsModerator() {
		m.registry.Join(hub.ModeratorChannel, conn)
	}
	m.logger.Info("session opened", "session", s.id, "user", identity.UserID, "role", identity.Role)
	return s
}

// Dispatch decodes one client frame and runs the matching operation.
func (m *Manager) Dispatch(ctx context.Context, s *Session, raw []byte) {
	if s.State() != StateAuthenticated {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		m.emitError(s, "Rate limit exceeded, please slow down")
		return
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		m.emitError(s, "Invalid message format")
		return
	}
	switch env.Event {
	case EventJoinRoom:
		var p JoinRoomPayload
		if m.decode(s, env.Data, &p) {
			m.JoinRoom(ctx, s, p)
		}
	case EventSendMessage:
		var p SendMessagePayload
		if m.decode(s, env.Data, &p) {
			m.SendMessage(ctx, s, p)
		}
	case EventLeaveRoom:
		var p LeaveRoomPayload
		if m.decode(s, env.Data, &p) {
			m.LeaveRoom(s, p)
		}
	default:
		m.emitError(s, "Unknown event: "+env.Event)
	}
}

func (m *Manager) decode(s *Session, data json.RawMessage, dst interface{}) bool {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		m.emitError(s, "Invalid message format")
		return false
	}
	if err := m.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Slug" && verrs[0].Tag() == "required" {
			m.emitError(s, "Room slug is required")
		} else {
			m.emitError(s, "Invalid message format")
		}
		return false
	}
	return true
}

// JoinRoom subscribes the session to a room after the access check. A
// repeat join only re-confirms to the caller.
func (m *Manager) JoinRoom(ctx context.Context, s *Session, p JoinRoomPayload) {
	if s.State() != StateAuthenticated {
		return
	}
	slug := strings.TrimSpace(p.Slug)
	room, err := m.rooms.RoomBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, models.ErrRoomNotFound) {
			m.emitError(s, "Room not found")
			return
		}
		m.logger.Error("join room lookup failed", "session", s.id, "room", slug, "err", err)
		m.emitError(s, "Failed to join room")
		return
	}
	id := s.identity
	if d := access.CanAccess(id.AgeBracket, id.ConsentMinorOK, room.IsMinorSafe); !d.Allowed {
		m.logger.Info("room access denied", "session", s.id, "user", id.UserID, "room", room.Slug)
		m.emitError(s, d.Reason)
		return
	}
	if p.UserID != "" && p.UserID != id.UserID {
		m.logger.Warn("declared user ignored", "declared", p.UserID, "user", id.UserID, "room", room.Slug)
	}

	channel := hub.RoomChannel(room.Slug)
	first := m.registry.Join(channel, s.conn)
	m.emit(s, EventJoinedRoom, JoinedRoomEvent{RoomSlug: room.Slug, RoomTitle: room.Title, RoomID: room.ID})
	if !first {
		return
	}
	name := strings.TrimSpace(p.DisplayName)
	if name == "" {
		name = displayNameOf(id)
	}
	m.broadcast(channel, EventUserJoined, UserJoinedEvent{UserID: id.UserID, DisplayName: name, RoomSlug: room.Slug}, s.id)
	m.logger.Info("joined room", "session", s.id, "user", id.UserID, "room", room.Slug)
}

// SendMessage runs the message pipeline and reports failures to the sender only.
func (m *Manager) SendMessage(ctx context.Context, s *Session, p SendMessagePayload) {
	if s.State() != StateAuthenticated {
		return
	}
	slug := strings.TrimSpace(p.Slug)
	if !m.registry.IsMember(hub.RoomChannel(slug), s.conn) {
		m.logger.Info("send to unjoined room, no echo", "session", s.id, "room", slug)
	}
	if _, err := m.pipeline.Send(ctx, s.identity, slug, p.Body, p.AuthorID); err != nil {
		if errors.Is(err, ErrSendFailed) {
			m.logger.Error("send message failed", "session", s.id, "room", p.Slug, "err", err)
		}
		m.emitError(s, UserMessage(err))
	}
}

// LeaveRoom drops a membership. Leaving a room that was never joined is a
// silent no-op.
func (m *Manager) LeaveRoom(s *Session, p LeaveRoomPayload) {
	if s.State() != StateAuthenticated {
		return
	}
	slug := strings.TrimSpace(p.Slug)
	channel := hub.RoomChannel(slug)
	if !m.registry.Leave(channel, s.conn) {
		return
	}
	m.broadcast(channel, EventUserLeft, UserLeftEvent{UserID: s.identity.UserID, RoomSlug: slug}, s.id)
	m.logger.Info("left room", "session", s.id, "user", s.identity.UserID, "room", slug)
}

// Close releases every membership of the session. Later calls are no-ops.
func (m *Manager) Close(s *Session) {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.mu.Unlock()

	rooms := m.Rooms(s)
	m.registry.LeaveAll(s.conn)
	m.mu.Lock()
	delete(m.sessions, s.id)
	m.mu.Unlock()
	m.logger.Info("session closed", "session", s.id, "user", s.identity.UserID, "rooms", rooms)
}

// Rooms lists the room slugs the session has joined.
func (m *Manager) Rooms(s *Session) []string {
	var slugs []string
	for _, channel := range m.registry.Channels(s.conn) {
		if slug, ok := strings.CutPrefix(channel, "room:"); ok {
			slugs = append(slugs, slug)
		}
	}
	return slugs
}

func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown closes every open transport. Each read loop then calls Close.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]Conn, 0, len(m.sessions))
	for _, s := range m.sessions {
		conns = append(conns, s.conn)
	}
	m.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

func (m *Manager) emit(s *Session, event string, data interface{}) {
	frame, err := Encode(event, data)
	if err != nil {
		m.logger.Error("encode event", "event", event, "err", err)
		return
	}
	if !s.conn.Send(frame) {
		m.logger.Warn("drop event for slow session", "session", s.id, "event", event)
	}
}

func (m *Manager) emitError(s *Session, message string) {
	m.emit(s, EventError, ErrorEvent{Message: message})
}

func (m *Manager) broadcast(channel, event string, data interface{}, exceptID string) {
	frame, err := Encode(event, data)
	if err != nil {
		m.logger.Error("encode event", "event", event, "err", err)
		return
	}
	m.registry.Broadcast(channel, frame, exceptID)
}
