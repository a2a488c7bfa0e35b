package peer

import (
	"context"
	"encoding/json"
	"fmt"

	"campuswell/internal/models"
)

// FlaggedChannel is the redis pub/sub channel mirroring moderator notices
// for review tooling running outside this process.
const FlaggedChannel = "moderation:flagged"

// PublishFlagged mirrors notice on FlaggedChannel. It is a no-op without redis.
func (s *Service) PublishFlagged(ctx context.Context, notice models.FlaggedNotice) error {
	if s.publisher == nil {
		return nil
	}
	payload, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("encode flagged notice: %w", err)
	}
	if err := s.publisher.Publish(ctx, FlaggedChannel, payload); err != nil {
		return fmt.Errorf("publish flagged notice: %w", err)
	}
	return nil
}
