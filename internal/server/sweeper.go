package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/innernet-go/meshnet/internal/store"
)

// InviteSweeper periodically deletes unredeemed peers whose invitation
// has expired. It runs on the store's single connection, so it
// serializes naturally with admin mutations and the visibility query.
type InviteSweeper struct {
	peers    *store.PeerStore
	interval time.Duration
}

func NewInviteSweeper(peers *store.PeerStore, interval time.Duration) *InviteSweeper {
	return &InviteSweeper{peers: peers, interval: interval}
}

// Run sweeps until ctx is cancelled. Call it in its own goroutine.
func (s *InviteSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *InviteSweeper) sweep() {
	n, err := s.peers.DeleteExpiredInvites()
	if err != nil {
		slog.Warn("invite sweeper: delete expired invites failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("invite sweeper: removed expired invitations", "count", n)
	}
}
