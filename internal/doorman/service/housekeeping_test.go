package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/pkg/idx"
)

func TestHousekeepingCleanup(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	admin, _ := seedLocalUser(t, st, "admin@example.com", "password123", domain.RoleAdmin)

	expired := domain.Invite{
		ID:          idx.New(),
		Email:       "old@example.com",
		DisplayName: "Old",
		Role:        domain.RoleUser,
		CreatedBy:   admin.ID,
		ExpiresAt:   time.Now().Add(-time.Hour),
	}
	live := domain.Invite{
		ID:          idx.New(),
		Email:       "fresh@example.com",
		DisplayName: "Fresh",
		Role:        domain.RoleUser,
		CreatedBy:   admin.ID,
		ExpiresAt:   time.Now().Add(time.Hour),
	}
	require.NoError(t, st.Invites().Create(ctx, expired))
	require.NoError(t, st.Invites().Create(ctx, live))

	require.NoError(t, st.Sessions().Touch(ctx, "recent-session"))

	svc := NewHousekeepingService(st, logger, time.Hour, 30*24*time.Hour)
	svc.cleanup()

	t.Run("expired invite removed", func(t *testing.T) {
		_, err := st.Invites().GetByID(ctx, expired.ID)
		require.Error(t, err)
	})

	t.Run("live invite kept", func(t *testing.T) {
		_, err := st.Invites().GetByID(ctx, live.ID)
		require.NoError(t, err)
	})

	t.Run("recently touched session kept", func(t *testing.T) {
		_, err := st.Sessions().Get(ctx, "recent-session")
		require.NoError(t, err)
	})
}

func TestHousekeepingStartStop(t *testing.T) {
	st := newTestStore(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := NewHousekeepingService(st, logger, time.Hour, 0)
	require.Equal(t, 30*24*time.Hour, svc.SessionRetention)

	svc.Start()
	svc.Stop()
}
