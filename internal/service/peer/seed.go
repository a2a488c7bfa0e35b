package peer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"campuswell/internal/models"
)

// DefaultRooms are created by SeedRooms when missing.
var DefaultRooms = []models.Room{
	{Slug: "anxiety-support", Title: "Anxiety Support", Topic: "Anxiety & Stress Management", IsMinorSafe: true},
	{Slug: "academic-stress", Title: "Academic Stress", Topic: "Study & Exam Pressure", IsMinorSafe: true},
	{Slug: "freshman-chat", Title: "Freshman Chat", Topic: "New Student Connection", IsMinorSafe: true},
	{Slug: "general-wellness", Title: "General Wellness", Topic: "Mental Health & Wellbeing", IsMinorSafe: false},
}

// SeedRooms inserts the default rooms that do not exist yet and returns
// how many were created.
func (s *Service) SeedRooms(ctx context.Context) (int, error) {
	created := 0
	for _, def := range DefaultRooms {
		_, err := s.loadRoom(ctx, def.Slug)
		if err == nil {
			continue
		}
		if !errors.Is(err, models.ErrRoomNotFound) {
			return created, err
		}
		room := def
		if err := s.CreateRoom(ctx, &room); err != nil {
			return created, fmt.Errorf("seed room %s: %w", def.Slug, err)
		}
		if s.cache != nil {
			s.cache.invalidate(ctx, def.Slug)
		}
		slog.Info("seeded room", "room", def.Slug)
		created++
	}
	return created, nil
}
