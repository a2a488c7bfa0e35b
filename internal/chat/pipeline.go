package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"campuswell/internal/access"
	"campuswell/internal/auth"
	"campuswell/internal/hub"
	"campuswell/internal/models"
	"campuswell/internal/moderation"
	"campuswell/internal/worker"
)

const (
	MaxBodyLength = 1000
	previewLength = 100
)

var (
	ErrMessageEmpty   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message too long")
	ErrSendFailed     = errors.New("send failed")
)

// AccessDeniedError carries the policy reason shown to the user.
type AccessDeniedError struct {
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return "access denied: " + e.Reason
}

// UserMessage maps a join or send error to the text sent to the client.
func UserMessage(err error) string {
	var denied *AccessDeniedError
	switch {
	case errors.As(err, &denied):
		return denied.Reason
	case errors.Is(err, models.ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, ErrMessageEmpty):
		return "Message cannot be empty"
	case errors.Is(err, ErrMessageTooLong):
		return fmt.Sprintf("Message too long (max %d characters)", MaxBodyLength)
	default:
		return "Failed to send message"
	}
}

type RoomDirectory interface {
	RoomBySlug(ctx context.Context, slug string) (*models.Room, error)
}

type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) error
}

type AuditLog interface {
	RecordAudit(ctx context.Context, entry *models.AuditEntry) error
}

type FlaggedPublisher interface {
	PublishFlagged(ctx context.Context, notice models.FlaggedNotice) error
}

// JobSubmitter runs best-effort work off the request path.
type JobSubmitter interface {
	Submit(job worker.Job) error
}

type PipelineDeps struct {
	Rooms     RoomDirectory
	Messages  MessageStore
	Audit     AuditLog
	Publisher FlaggedPublisher // optional
	Jobs      JobSubmitter     // optional, flagged follow-up runs inline without it
	Registry  *hub.Registry
	Logger    *slog.Logger
}

// Pipeline validates, moderates, persists and fans out room messages.
type Pipeline struct {
	rooms     RoomDirectory
	messages  MessageStore
	audit     AuditLog
	publisher FlaggedPublisher
	jobs      JobSubmitter
	registry  *hub.Registry
	logger    *slog.Logger
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		rooms:     deps.Rooms,
		messages:  deps.Messages,
		audit:     deps.Audit,
		publisher: deps.Publisher,
		jobs:      deps.Jobs,
		registry:  deps.Registry,
		logger:    logger.With("component", "pipeline"),
	}
}

// ValidateBody rejects blank bodies and bodies over MaxBodyLength characters.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrMessageEmpty
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return ErrMessageTooLong
	}
	return nil
}

// Send runs one message through the pipeline on behalf of the verified
// identity. declaredAuthorID is the client's claim and is only logged.
// Nothing is broadcast unless the message was persisted.
func (p *Pipeline) Send(ctx context.Context, identity *auth.Identity, slug, body, declaredAuthorID string) (*models.Message, error) {
	if identity == nil {
		return nil, ErrSendFailed
	}
	if err := ValidateBody(body); err != nil {
		return nil, err
	}
	if declaredAuthorID != "" && declaredAuthorID != identity.UserID {
		p.logger.Warn("declared author ignored", "declared", declaredAuthorID, "user", identity.UserID, "room", slug)
	}

	room, err := p.rooms.RoomBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, models.ErrRoomNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: resolve room: %v", ErrSendFailed, err)
	}
	if d := access.CanAccess(identity.AgeBracket, identity.ConsentMinorOK, room.IsMinorSafe); !d.Allowed {
		return nil, &AccessDeniedError{Reason: d.Reason}
	}

	trimmed := strings.TrimSpace(body)
	verdict := moderation.Moderate(trimmed, room.IsMinorSafe)
	msg := &models.Message{
		RoomID:   room.ID,
		AuthorID: identity.UserID,
		Body:     trimmed,
		Flagged:  verdict.Flagged,
		Flags:    verdict.Strings(),
		Author:   models.Author{ID: identity.UserID, DisplayName: displayNameOf(identity)},
	}
	if err := p.messages.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	frame, err := Encode(EventReceiveMessage, ReceiveMessageEvent{
		ID:        msg.ID,
		RoomSlug:  room.Slug,
		Body:      msg.Body,
		CreatedAt: msg.CreatedAt,
		Flagged:   msg.Flagged,
		Flags:     msg.Flags,
		Author:    msg.Author,
	})
	if err != nil {
		// persisted but undeliverable; the sender still gets an error
		return nil, fmt.Errorf("%w: encode message: %v", ErrSendFailed, err)
	}
	p.registry.Broadcast(hub.RoomChannel(room.Slug), frame, "")

	if msg.Flagged {
		p.notifyFlagged(ctx, identity, room, msg)
	}
	return msg, nil
}

func (p *Pipeline) notifyFlagged(ctx context.Context, identity *auth.Identity, room *models.Room, msg *models.Message) {
	notice := models.FlaggedNotice{
		MessageID: msg.ID,
		RoomSlug:  room.Slug,
		RoomTitle: room.Title,
		UserID:    identity.UserID,
		Flags:     msg.Flags,
	}
	p.logger.Warn("message flagged", "message", msg.ID, "room", room.Slug, "user", identity.UserID, "flags", msg.Flags)

	if frame, err := Encode(EventMessageFlagged, notice); err != nil {
		p.logger.Error("encode flagged notice", "message", msg.ID, "err", err)
	} else {
		p.registry.Broadcast(hub.ModeratorChannel, frame, "")
	}

	job := worker.Job{
		Key:  identity.UserID,
		Name: "flagged-followup",
		Run: func(ctx context.Context) error {
			return p.recordFlagged(ctx, notice, msg.Body)
		},
	}
	if p.jobs != nil {
		err := p.jobs.Submit(job)
		if err == nil {
			return
		}
		p.logger.Warn("flagged follow-up not queued, running inline", "message", msg.ID, "err", err)
	}
	if err := job.Run(context.WithoutCancel(ctx)); err != nil {
		p.logger.Error("flagged follow-up failed", "message", msg.ID, "err", err)
	}
}

// recordFlagged writes the audit entry and mirrors the notice to redis.
// Both are best effort.
func (p *Pipeline) recordFlagged(ctx context.Context, notice models.FlaggedNotice, body string) error {
	var errs []error
	if p.audit != nil {
		meta, err := json.Marshal(map[string]interface{}{
			"messageId": notice.MessageID,
			"roomSlug":  notice.RoomSlug,
			"roomTitle": notice.RoomTitle,
			"flags":     notice.Flags,
			"preview":   preview(body),
		})
		if err == nil {
			err = p.audit.RecordAudit(ctx, &models.AuditEntry{
				ActorID:  notice.UserID,
				Action:   models.ActionMessageFlagged,
				Metadata: meta,
			})
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("audit: %w", err))
		}
	}
	if p.publisher != nil {
		if err := p.publisher.PublishFlagged(ctx, notice); err != nil {
			errs = append(errs, fmt.Errorf("publish: %w", err))
		}
	}
	return errors.Join(errs...)
}

func preview(body string) string {
	if utf8.RuneCountInString(body) <= previewLength {
		return body
	}
	return string([]rune(body)[:previewLength])
}

func displayNameOf(identity *auth.Identity) string {
	if identity.DisplayName != "" {
		return identity.DisplayName
	}
	return "Anonymous"
}
