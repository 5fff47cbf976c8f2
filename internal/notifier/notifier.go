// Package notifier bridges the tasks table's AFTER INSERT trigger to an
// in-process wakeup channel consumed by the worker loop, falling back to a
// plain poll interval if LISTEN cannot be established.
package notifier

import (
	"log"
	"time"

	"github.com/lib/pq"
)

const channelName = "task_queue"

// Notifier delivers wakeups on Wake() whenever a new task is inserted, or on
// a fixed poll interval if the listener could not be established.
type Notifier struct {
	wake     chan struct{}
	listener *pq.Listener
}

// New establishes a LISTEN session against dbURL. If that fails, it logs a
// single warning and returns a Notifier that only ever wakes on the poll
// interval; Wake() still fires at pollInterval either way so every claim
// path remains correct regardless of which transport is active.
func New(dbURL string, pollInterval time.Duration) *Notifier {
	n := &Notifier{wake: make(chan struct{}, 1)}

	listener := pq.NewListener(dbURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Printf("[notifier] listener event error: %v", err)
		}
	})
	if err := listener.Listen(channelName); err != nil {
		log.Printf("[notifier] failed to LISTEN on %q, falling back to %v polling: %v", channelName, pollInterval, err)
		listener.Close()
		go n.pollLoop(pollInterval)
		return n
	}

	n.listener = listener
	go n.listenLoop(listener, pollInterval)
	return n
}

// Wake returns the channel the worker loop selects on for a wakeup hint. The
// notification content is never read: a wakeup means only "the queue may
// have changed", and every claim path re-reads the table regardless.
func (n *Notifier) Wake() <-chan struct{} {
	return n.wake
}

// Close releases the underlying LISTEN connection, if any.
func (n *Notifier) Close() error {
	if n.listener != nil {
		return n.listener.Close()
	}
	return nil
}

func (n *Notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

func (n *Notifier) listenLoop(listener *pq.Listener, pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	pingTicker := time.NewTicker(90 * time.Second)
	defer pingTicker.Stop()

	for {
		select {
		case notification := <-listener.Notify:
			_ = notification // content is ignored, it is only a wakeup
			n.drainAndSignal(listener)
		case <-pingTicker.C:
			// Per lib/pq's documented keep-alive idiom: ping periodically so a
			// half-open connection is detected and re-established.
			go listener.Ping()
		case <-ticker.C:
			n.signal()
		}
	}
}

// drainAndSignal empties any additional queued notifications before
// signaling once, since a wakeup is a hint and not a per-row guarantee.
func (n *Notifier) drainAndSignal(listener *pq.Listener) {
	for {
		select {
		case <-listener.Notify:
		default:
			n.signal()
			return
		}
	}
}

func (n *Notifier) pollLoop(pollInterval time.Duration) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for range ticker.C {
		n.signal()
	}
}
