package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/potgame/go/internal/events"
	"github.com/rs/zerolog/log"
)

// TimerTicker pushes the live countdown to spectators. The server state is authoritative;
// ticks only keep client displays from drifting between purchases.
type TimerTicker struct {
	provider StateProvider
	cm       *ConnectionManager
	clock    clockwork.Clock
	interval time.Duration
}

func NewTimerTicker(provider StateProvider, cm *ConnectionManager, clock clockwork.Clock, interval time.Duration) *TimerTicker {
	return &TimerTicker{
		provider: provider,
		cm:       cm,
		clock:    clock,
		interval: interval,
	}
}

// Start ticks until ctx is cancelled
func (t *TimerTicker) Start(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			t.Tick(ctx)
		}
	}
}

// Tick broadcasts one TimerTick if anyone is listening and a round is running.
// It reports whether a tick was sent.
func (t *TimerTicker) Tick(ctx context.Context) bool {
	if t.cm.ConnectionCount() == 0 {
		return false
	}

	snap, err := t.provider.Snapshot(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("skipping timer tick")
		return false
	}
	if !snap.State.Started() || snap.Expired {
		return false
	}

	data, err := json.Marshal(events.TimerTickPayload{
		Round:        snap.State.Round,
		RemainingSec: snap.TimeRemaining,
		Pot:          snap.State.Pot,
		NextKeyPrice: snap.NextKeyPrice,
		LastBuyer:    snap.State.LastBuyer,
		ServerTime:   t.clock.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal timer tick")
		return false
	}

	t.cm.Broadcast(&GameEvent{
		GameID:    snap.State.GameID.String(),
		Type:      EventTypeTimerTick,
		Timestamp: t.clock.Now().UTC(),
		Data:      data,
	})
	return true
}
