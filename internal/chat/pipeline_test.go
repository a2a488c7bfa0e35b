package chat

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"campuswell/internal/hub"
	"campuswell/internal/models"
	"campuswell/internal/worker"
)

func TestValidateBody(t *testing.T) {
	cases := []struct {
		body string
		want error
	}{
		{"", ErrMessageEmpty},
		{"   \n\t ", ErrMessageEmpty},
		{"hi", nil},
		{strings.Repeat("a", MaxBodyLength), nil},
		{strings.Repeat("é", MaxBodyLength), nil},
		{strings.Repeat("a", MaxBodyLength+1), ErrMessageTooLong},
	}
	for _, tc := range cases {
		if got := ValidateBody(tc.body); !errors.Is(got, tc.want) {
			t.Fatalf("body of %d bytes: want %v got %v", len(tc.body), tc.want, got)
		}
	}
}

func TestSendRejectsInvalidBodyBeforePersistence(t *testing.T) {
	store := newFakeStore()
	registry := hub.NewRegistry()
	a := &fakeConn{id: "a"}
	registry.Join(hub.RoomChannel("anxiety-support"), a)
	p := newTestPipeline(store, registry, nil)

	for _, body := range []string{"", "    ", strings.Repeat("x", MaxBodyLength+1)} {
		if _, err := p.Send(context.Background(), adultA, "anxiety-support", body, ""); err == nil {
			t.Fatalf("expected validation error")
		}
	}
	if n, _, _ := store.counts(); n != 0 {
		t.Fatalf("expected no persisted messages, got %d", n)
	}
	if a.total() != 0 {
		t.Fatalf("expected no broadcast, got %d frames", a.total())
	}

	msg, err := p.Send(context.Background(), adultA, "anxiety-support", strings.Repeat("x", MaxBodyLength), "")
	if err != nil || msg == nil {
		t.Fatalf("expected exactly %d characters accepted: %v", MaxBodyLength, err)
	}
}

func TestSendUnknownRoom(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store, hub.NewRegistry(), nil)
	_, err := p.Send(context.Background(), adultA, "nowhere", "hi there", "")
	if !errors.Is(err, models.ErrRoomNotFound) || UserMessage(err) != "Room not found" {
		t.Fatalf("expected room not found, got %v", err)
	}
}

func TestSendPersistenceFailureIsNotBroadcast(t *testing.T) {
	store := newFakeStore()
	store.createErr = errBoom
	registry := hub.NewRegistry()
	a, mod := &fakeConn{id: "a"}, &fakeConn{id: "mod"}
	registry.Join(hub.RoomChannel("anxiety-support"), a)
	registry.Join(hub.ModeratorChannel, mod)
	p := newTestPipeline(store, registry, nil)

	_, err := p.Send(context.Background(), adultA, "anxiety-support", "I want to die", "")
	if !errors.Is(err, ErrSendFailed) || UserMessage(err) != "Failed to send message" {
		t.Fatalf("expected send failure, got %v", err)
	}
	if a.total() != 0 || mod.total() != 0 {
		t.Fatalf("nothing may be broadcast after a failed write")
	}
	if _, audits, _ := store.counts(); audits != 0 {
		t.Fatalf("no audit expected for an unpersisted message")
	}
}

func TestSendRoomLookupFailure(t *testing.T) {
	store := newFakeStore()
	store.roomErr = errBoom
	p := newTestPipeline(store, hub.NewRegistry(), nil)
	if _, err := p.Send(context.Background(), adultA, "anxiety-support", "hello there", ""); !errors.Is(err, ErrSendFailed) {
		t.Fatalf("expected ErrSendFailed, got %v", err)
	}
}

func TestSendFlaggedReachesModeratorsOnly(t *testing.T) {
	store := newFakeStore()
	registry := hub.NewRegistry()
	a, b, mod := &fakeConn{id: "a"}, &fakeConn{id: "b"}, &fakeConn{id: "mod"}
	registry.Join(hub.RoomChannel("anxiety-support"), a)
	registry.Join(hub.RoomChannel("anxiety-support"), b)
	registry.Join(hub.ModeratorChannel, mod)
	p := newTestPipeline(store, registry, nil)

	if _, err := p.Send(context.Background(), adultA, "anxiety-support", "I want to kill myself", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	for _, c := range []*fakeConn{a, b} {
		got := c.events(EventReceiveMessage)
		if len(got) != 1 {
			t.Fatalf("conn %s: expected one receiveMessage, got %d", c.id, len(got))
		}
		var ev ReceiveMessageEvent
		if err := json.Unmarshal(got[0], &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !ev.Flagged || !reflect.DeepEqual(ev.Flags, []string{"self-harm"}) {
			t.Fatalf("conn %s: unexpected moderation result %+v", c.id, ev)
		}
		if ev.Author.ID != "user-a" || ev.Author.DisplayName != "Avery" {
			t.Fatalf("unexpected author %+v", ev.Author)
		}
		if len(c.events(EventMessageFlagged)) != 0 {
			t.Fatalf("conn %s must not see messageFlagged", c.id)
		}
	}
	notices := mod.events(EventMessageFlagged)
	if len(notices) != 1 {
		t.Fatalf("expected one messageFlagged for moderator, got %d", len(notices))
	}
	var notice models.FlaggedNotice
	_ = json.Unmarshal(notices[0], &notice)
	if notice.RoomSlug != "anxiety-support" || notice.RoomTitle != "Anxiety Support" || notice.UserID != "user-a" || notice.MessageID == "" {
		t.Fatalf("unexpected notice %+v", notice)
	}
	if len(mod.events(EventReceiveMessage)) != 0 {
		t.Fatalf("moderator is not a room member")
	}

	_, audits, published := store.counts()
	if audits != 1 || published != 1 {
		t.Fatalf("expected audit and publish, got audits=%d published=%d", audits, published)
	}
	entry := store.audits[0]
	if entry.Action != models.ActionMessageFlagged || entry.ActorID != "user-a" {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(entry.Metadata, &meta); err != nil {
		t.Fatalf("decode metadata: %v", err)
	}
	if meta["preview"] != "I want to kill myself" || meta["roomSlug"] != "anxiety-support" || meta["messageId"] != notice.MessageID {
		t.Fatalf("unexpected metadata %v", meta)
	}
}

func TestSendCleanMessageHasNoFollowUp(t *testing.T) {
	store := newFakeStore()
	registry := hub.NewRegistry()
	a, mod := &fakeConn{id: "a"}, &fakeConn{id: "mod"}
	registry.Join(hub.RoomChannel("anxiety-support"), a)
	registry.Join(hub.ModeratorChannel, mod)
	p := newTestPipeline(store, registry, nil)

	msg, err := p.Send(context.Background(), adultA, "anxiety-support", "  I feel anxious about exams  ", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Body != "I feel anxious about exams" || msg.Flagged || len(msg.Flags) != 0 || msg.Flags == nil {
		t.Fatalf("unexpected stored message %+v", msg)
	}
	if mod.total() != 0 {
		t.Fatalf("moderators must not be notified of clean messages")
	}
	if _, audits, published := store.counts(); audits != 0 || published != 0 {
		t.Fatalf("unexpected follow-up audits=%d published=%d", audits, published)
	}
}

func TestSendProfanityDependsOnRoom(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store, hub.NewRegistry(), nil)
	safe, err := p.Send(context.Background(), adultA, "anxiety-support", "this is crap", "")
	if err != nil || !safe.Flagged {
		t.Fatalf("expected profanity flagged in minor-safe room: %+v %v", safe, err)
	}
	open, err := p.Send(context.Background(), adultA, "general-wellness", "this is crap", "")
	if err != nil || open.Flagged {
		t.Fatalf("expected profanity allowed in general room: %+v %v", open, err)
	}
}

func TestSendUsesVerifiedIdentity(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store, hub.NewRegistry(), nil)
	msg, err := p.Send(context.Background(), adultA, "anxiety-support", "good morning", "user-b")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.AuthorID != "user-a" || store.messages[0].AuthorID != "user-a" {
		t.Fatalf("declared author must not be trusted: %+v", msg)
	}
}

func TestSendChecksAccess(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store, hub.NewRegistry(), nil)
	_, err := p.Send(context.Background(), minor, "general-wellness", "good morning", "")
	var denied *AccessDeniedError
	if !errors.As(err, &denied) || UserMessage(err) != "This room is not available for users under 18." {
		t.Fatalf("expected access denied, got %v", err)
	}
	if n, _, _ := store.counts(); n != 0 {
		t.Fatalf("denied message persisted")
	}
}

func TestFollowUpFailureDoesNotFailSend(t *testing.T) {
	store := newFakeStore()
	store.auditErr = errBoom
	store.publishErr = errBoom
	registry := hub.NewRegistry()
	a := &fakeConn{id: "a"}
	registry.Join(hub.RoomChannel("anxiety-support"), a)
	p := newTestPipeline(store, registry, nil)

	msg, err := p.Send(context.Background(), adultA, "anxiety-support", "I am suicidal", "")
	if err != nil || msg == nil {
		t.Fatalf("audit failure must not fail the send: %v", err)
	}
	if len(a.events(EventReceiveMessage)) != 1 {
		t.Fatalf("message should still be delivered")
	}
}

func TestFlaggedFollowUpRunsOnDispatcher(t *testing.T) {
	store := newFakeStore()
	d := worker.NewDispatcher(worker.DispatcherConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 8})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	}()
	p := newTestPipeline(store, hub.NewRegistry(), d)
	if _, err := p.Send(context.Background(), adultA, "anxiety-support", "thinking about an overdose", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, func() bool {
		_, audits, published := store.counts()
		return audits == 1 && published == 1
	})
}

type rejectingJobs struct{}

func (rejectingJobs) Submit(worker.Job) error { return worker.ErrDispatcherBusy }

func TestFlaggedFollowUpRunsInlineWhenBusy(t *testing.T) {
	store := newFakeStore()
	p := newTestPipeline(store, hub.NewRegistry(), rejectingJobs{})
	if _, err := p.Send(context.Background(), adultA, "anxiety-support", "I want to die", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, audits, _ := store.counts(); audits != 1 {
		t.Fatalf("expected inline audit when dispatcher is busy")
	}
}

func TestPreviewTruncatesRunes(t *testing.T) {
	long := strings.Repeat("ü", previewLength+20)
	if got := preview(long); len([]rune(got)) != previewLength {
		t.Fatalf("expected %d runes, got %d", previewLength, len([]rune(got)))
	}
	if got := preview("short"); got != "short" {
		t.Fatalf("short preview changed: %q", got)
	}
}
