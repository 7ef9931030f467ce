// Package monitor derives head status transitions from a node's event
// stream. One monitor runs per network as a background task: it opens a
// long-lived websocket to the first node's API port and matches each inbound
// text message against a fixed, ordered set of substring patterns.
package monitor

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"hydrapay.dev/hpd/internal/journal"
	"hydrapay.dev/hpd/internal/state"
	"hydrapay.dev/hpd/internal/types"
)

// startDelay gives the nodes time to finish initial peer handshaking before
// the monitor attaches. Overridden in tests.
var startDelay = 5 * time.Second

// HeadStore persists derived status transitions.
type HeadStore interface {
	UpdateHeadStatus(name string, status types.Status) error
}

// transitions is ordered: ReadyToCommit must be checked before Commit, which
// it contains as a substring.
var transitions = []struct {
	pattern string
	status  types.Status
}{
	{"ReadyToCommit", types.StatusInit},
	{"Commit", types.StatusCommiting},
	{"HeadIsOpen", types.StatusOpen},
}

// statusFor maps one event message to a status, if any pattern matches.
func statusFor(message string) (types.Status, bool) {
	for _, t := range transitions {
		if strings.Contains(message, t.pattern) {
			return t.status, true
		}
	}
	return "", false
}

// Run attaches to the node API at apiPort and updates the head's status in
// the state store for every matched event, until the connection drops or
// ctx is cancelled. Connection loss is journaled, not retried.
func Run(ctx context.Context, st *state.Store, db HeadStore, jrn *journal.Journal, headName string, apiPort int) {
	select {
	case <-time.After(startDelay):
	case <-ctx.Done():
		return
	}

	url := fmt.Sprintf("ws://127.0.0.1:%d", apiPort)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		log.Printf("monitor: head %s: connect %s failed: %v", headName, url, err)
		jrn.Error(headName, fmt.Sprintf("status monitor could not connect to %s: %v", url, err))
		return
	}
	defer conn.Close()

	// unblock ReadMessage when the network is stopped; done releases the
	// watcher when the stream drops on its own
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	log.Printf("monitor: head %s: listening on %s", headName, url)
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				log.Printf("monitor: head %s: event stream ended: %v", headName, err)
				jrn.Warning(headName, fmt.Sprintf("status monitor stopped: %v", err))
			}
			return
		}

		status, ok := statusFor(string(message))
		if !ok {
			continue
		}

		if !st.SetHeadStatus(headName, status) {
			log.Printf("monitor: head %s: no record to update", headName)
			continue
		}
		if db != nil {
			if err := db.UpdateHeadStatus(headName, status); err != nil {
				log.Printf("monitor: head %s: persist status %s: %v", headName, status, err)
			}
		}
		jrn.Info(headName, fmt.Sprintf("status is now %s", status))
	}
}
