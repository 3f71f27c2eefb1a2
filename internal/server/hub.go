package server

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/halyard-chat/halyard/internal/channel"
	"github.com/halyard-chat/halyard/internal/permission"
	"github.com/halyard-chat/halyard/internal/user"
	"github.com/halyard-chat/halyard/internal/wire"
)

// Hub fans events out to every authenticated session. Channel-scoped events
// carry the channel's overrides and reach only sessions whose user can READ
// under them.
type Hub struct {
	registry *Registry
	resolver *permission.Resolver
	users    user.Repository
	log      zerolog.Logger
}

// NewHub creates a broadcast hub.
func NewHub(registry *Registry, resolver *permission.Resolver, users user.Repository, logger zerolog.Logger) *Hub {
	return &Hub{
		registry: registry,
		resolver: resolver,
		users:    users,
		log:      logger.With().Str("component", "hub").Logger(),
	}
}

// Broadcast delivers one packet to every eligible session. The frame is
// encoded once. With non-nil overrides the event is channel-scoped and READ
// is checked per recipient against them.
func (h *Hub) Broadcast(ctx context.Context, p wire.Packet, overrides []channel.Override) {
	frame, err := encodeFrame(p)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to encode broadcast")
		return
	}

	// Permission results per user id; sessions of the same user share them.
	verdicts := make(map[uint64]bool)

	for _, s := range h.registry.Snapshot() {
		userID := s.UserID()
		if userID == 0 {
			continue
		}
		if overrides != nil {
			allowed, ok := verdicts[userID]
			if !ok {
				allowed = h.canRead(ctx, userID, overrides)
				verdicts[userID] = allowed
			}
			if !allowed {
				continue
			}
		}
		s.enqueue(frame)
	}
}

func (h *Hub) canRead(ctx context.Context, userID uint64, overrides []channel.Override) bool {
	u, err := h.users.GetByID(ctx, userID)
	if err != nil {
		h.log.Warn().Err(err).Uint64("user_id", userID).Msg("Failed to load broadcast recipient")
		return false
	}
	ok, err := h.resolver.Has(ctx, u, permission.Read, overrides)
	if err != nil {
		h.log.Warn().Err(err).Uint64("user_id", userID).Msg("Failed to resolve broadcast permissions")
		return false
	}
	return ok
}
