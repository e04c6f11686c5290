package outbox

import (
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// PQNotifier turns Postgres NOTIFY messages on one channel into outbox event IDs.
type PQNotifier struct {
	listener *pq.Listener
	ids      chan string
}

func NewPQNotifier(dsn, channel string) (*PQNotifier, error) {
	l := pq.NewListener(
		dsn,
		10*time.Second,
		time.Minute,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(channel); err != nil {
		_ = l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	log.Info().
		Str("channel", channel).
		Msg("listening for notifications")

	n := &PQNotifier{listener: l, ids: make(chan string, 64)}
	go n.forward()
	return n, nil
}

func (n *PQNotifier) forward() {
	defer close(n.ids)
	for note := range n.listener.Notify {
		if note == nil {
			// nil notification means the connection was re-established; events sent
			// meanwhile are picked up by the fallback poll
			continue
		}
		n.ids <- note.Extra
	}
}

// Notifications yields event IDs until Close.
func (n *PQNotifier) Notifications() <-chan string {
	return n.ids
}

func (n *PQNotifier) Ping() error {
	return n.listener.Ping()
}

func (n *PQNotifier) Close() error {
	return n.listener.Close()
}
