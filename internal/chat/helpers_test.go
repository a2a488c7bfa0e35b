package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"campuswell/internal/auth"
	"campuswell/internal/hub"
	"campuswell/internal/models"
)

type fakeStore struct {
	mu        sync.Mutex
	rooms     map[string]*models.Room
	messages  []*models.Message
	audits    []*models.AuditEntry
	published []models.FlaggedNotice

	roomErr    error
	createErr  error
	auditErr   error
	publishErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rooms: map[string]*models.Room{
		"anxiety-support":  {ID: "r-1", Slug: "anxiety-support", Title: "Anxiety Support", IsMinorSafe: true},
		"general-wellness": {ID: "r-4", Slug: "general-wellness", Title: "General Wellness", IsMinorSafe: false},
	}}
}

func (f *fakeStore) RoomBySlug(ctx context.Context, slug string) (*models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roomErr != nil {
		return nil, f.roomErr
	}
	room, ok := f.rooms[slug]
	if !ok {
		return nil, models.ErrRoomNotFound
	}
	cp := *room
	return &cp, nil
}

func (f *fakeStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	msg.ID = "m-" + string(rune('a'+len(f.messages)))
	msg.CreatedAt = time.Now().UTC()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeStore) RecordAudit(ctx context.Context, entry *models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.auditErr != nil {
		return f.auditErr
	}
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeStore) PublishFlagged(ctx context.Context, notice models.FlaggedNotice) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, notice)
	return nil
}

func (f *fakeStore) counts() (messages, audits, published int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages), len(f.audits), len(f.published)
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type fakeConn struct {
	id     string
	mu     sync.Mutex
	frames []frame
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(p []byte) bool {
	var f frame
	if err := json.Unmarshal(p, &f); err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, f)
	return true
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) events(name string) []json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []json.RawMessage
	for _, f := range c.frames {
		if f.Event == name {
			out = append(out, f.Data)
		}
	}
	return out
}

func (c *fakeConn) lastError(t *testing.T) string {
	t.Helper()
	errs := c.events(EventError)
	if len(errs) == 0 {
		t.Fatalf("conn %s received no error event", c.id)
	}
	var e ErrorEvent
	if err := json.Unmarshal(errs[len(errs)-1], &e); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	return e.Message
}

func (c *fakeConn) total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

type fakeVerifier map[string]*auth.Identity

func (v fakeVerifier) VerifyToken(token string) (*auth.Identity, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return nil, auth.ErrInvalidToken
}

var (
	adultA    = &auth.Identity{UserID: "user-a", Role: models.RoleStudent, AgeBracket: models.AgeAdult, DisplayName: "Avery"}
	adultB    = &auth.Identity{UserID: "user-b", Role: models.RoleStudent, AgeBracket: models.AgeAdult, DisplayName: "Blake"}
	moderator = &auth.Identity{UserID: "mod-1", Role: models.RoleModerator, AgeBracket: models.AgeAdult, DisplayName: "Mo"}
	minor     = &auth.Identity{UserID: "minor-1", Role: models.RoleStudent, AgeBracket: models.AgeMinor}
)

func newTestPipeline(store *fakeStore, registry *hub.Registry, jobs JobSubmitter) *Pipeline {
	return NewPipeline(PipelineDeps{
		Rooms:     store,
		Messages:  store,
		Audit:     store,
		Publisher: store,
		Jobs:      jobs,
		Registry:  registry,
	})
}

func newTestManager(store *fakeStore, cfg ManagerConfig) (*Manager, *hub.Registry) {
	registry := hub.NewRegistry()
	pipeline := newTestPipeline(store, registry, nil)
	verifier := fakeVerifier{"token-a": adultA, "token-b": adultB, "token-mod": moderator, "token-minor": minor}
	return NewManager(verifier, store, pipeline, registry, cfg, nil), registry
}

func mustFrame(t *testing.T, event string, data interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

var errBoom = errors.New("boom")
