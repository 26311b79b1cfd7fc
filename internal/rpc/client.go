package rpc

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Notification is one changed (qualified name, value) pair decoded out of a
// "notify" push delivered to a Watcher's channel. A single push message can
// carry several; Watch delivers each as its own Notification.
type Notification struct {
	Name  string
	Value any
}

// Watcher subscribes to a paramhubd server's WebSocket push endpoint and
// redelivers every "notify" method call as a Notification. It is grounded
// on beads' internal/coop/watcher.go, with the hand-rolled
// double-up-to-a-ceiling backoff loop replaced by
// github.com/cenkalti/backoff/v4's ExponentialBackOff, since this module's
// dependency set already carries that library and a reconnect loop is
// exactly what it is for.
type Watcher struct {
	wsURL string
	log   *slog.Logger
}

// NewWatcher builds a Watcher for the paramhubd server at baseURL (an
// http(s) base URL, converted internally to ws(s)).
func NewWatcher(baseURL string, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	u := strings.TrimRight(baseURL, "/")
	u = strings.Replace(u, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return &Watcher{wsURL: u + DefaultWSPath, log: log.With("component", "rpc-client")}
}

// Watch connects and streams Notifications until ctx is canceled,
// reconnecting with exponential backoff on any connection loss. The
// returned channel is closed once ctx is done.
func (w *Watcher) Watch(ctx context.Context) (<-chan Notification, error) {
	if _, err := url.Parse(w.wsURL); err != nil {
		return nil, fmt.Errorf("rpc: parse %s: %w", w.wsURL, err)
	}

	ch := make(chan Notification, 64)
	go func() {
		defer close(ch)

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = time.Second
		b.MaxInterval = 30 * time.Second
		b.MaxElapsedTime = 0 // retry forever; ctx cancellation is the only stop condition

		for {
			if ctx.Err() != nil {
				return
			}
			err := w.connect(ctx, ch)
			if err == nil || ctx.Err() != nil {
				return
			}

			wait := b.NextBackOff()
			if wait == backoff.Stop {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}
	}()
	return ch, nil
}

func (w *Watcher) connect(ctx context.Context, ch chan<- Notification) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("rpc: dial %s: %w", w.wsURL, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	for {
		var msg notifyMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if msg.Method != "notify" {
			continue
		}
		for name, v := range msg.Params {
			select {
			case ch <- Notification{Name: name, Value: v}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
