package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/veldtlabs/doorman/internal/doorman/domain"
	"github.com/veldtlabs/doorman/internal/doorman/store"
	"github.com/veldtlabs/doorman/internal/doorman/ws"
	"github.com/veldtlabs/doorman/pkg/idx"
	"github.com/veldtlabs/doorman/pkg/slogx"
)

// AdminService covers user management by admins. Changes that affect a live
// user are pushed over the registry: role changes as an account snapshot,
// deletions as a forced close of every session.
type AdminService struct {
	Store    store.Store
	Registry *ws.Registry
}

// ListUsers returns every user, oldest first.
func (s *AdminService) ListUsers(ctx context.Context) ([]domain.User, error) {
	users, err := s.Store.Users().ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// SetRole changes a user's role. Admins cannot change their own role, so a
// lone admin cannot lock the instance out of administration.
func (s *AdminService) SetRole(ctx context.Context, actorID, userID idx.ID, role domain.Role) (domain.User, error) {
	log := slogx.FromContext(ctx)

	if !role.Valid() {
		return domain.User{}, ErrInvalidRole
	}
	if actorID == userID {
		return domain.User{}, ErrSelfTarget
	}

	if err := s.Store.Users().UpdateRole(ctx, userID, role); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.User{}, err
		}
		return domain.User{}, fmt.Errorf("failed to update role: %w", err)
	}
	user, err := s.Store.Users().GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("failed to reload user: %w", err)
	}

	if s.Registry != nil {
		if err := s.Registry.SendToUser(ctx, userID, ws.UserUpdated(user)); err != nil {
			log.Warn("failed to push role change", slog.Any("error", err))
		}
	}

	log.Info("role changed",
		slog.String("user_id", userID.String()),
		slog.String("role", string(role)),
		slog.String("actor_id", actorID.String()))
	return user, nil
}

// DeleteUser removes a user and everything attached to them, then forces
// every live session of that user to close.
func (s *AdminService) DeleteUser(ctx context.Context, actorID, userID idx.ID) error {
	log := slogx.FromContext(ctx)

	if actorID == userID {
		return ErrSelfTarget
	}

	if err := s.Store.Users().DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete user: %w", err)
	}

	if s.Registry != nil {
		// Tell live clients why they are going away, then force the close.
		if err := s.Registry.SendToUser(ctx, userID, ws.SessionClosed("account deleted")); err != nil {
			log.Warn("failed to announce account deletion", slog.Any("error", err))
		}
		if err := s.Registry.CloseUser(ctx, userID); err != nil {
			log.Warn("failed to close live sessions of deleted user", slog.Any("error", err))
		}
	}

	log.Info("user deleted",
		slog.String("user_id", userID.String()),
		slog.String("actor_id", actorID.String()))
	return nil
}
