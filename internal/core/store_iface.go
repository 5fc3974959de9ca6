package core

import (
	"context"

	"github.com/dkeye/vidtalk/internal/domain"
)

// Store is the persistence collaborator. Lookups may suspend; writes are
// called from the persistence queue, never from the broadcast path.
type Store interface {
	GetChannelByID(ctx context.Context, id domain.ChannelID) (domain.Channel, error)
	IsServerMember(ctx context.Context, server domain.ServerID, user domain.UserID) (bool, error)
	// UsersByIDs is a batched lookup; unknown ids are skipped.
	UsersByIDs(ctx context.Context, ids []domain.UserID) ([]domain.User, error)

	SetUserStatus(ctx context.Context, user domain.UserID, status domain.Status) error
	UpsertVoiceConnection(ctx context.Context, channel domain.ChannelID, user domain.UserID, muted bool) error
	SetVoiceMuted(ctx context.Context, channel domain.ChannelID, user domain.UserID, muted bool) error
	DeleteVoiceConnection(ctx context.Context, channel domain.ChannelID, user domain.UserID) error
	DeleteVoiceConnectionsForUser(ctx context.Context, user domain.UserID) error
	TouchDirectContact(ctx context.Context, user, contact domain.UserID) error
}

// Persister runs store writes off the caller's goroutine.
type Persister interface {
	Submit(name string, job func(ctx context.Context, s Store) error) bool
}
