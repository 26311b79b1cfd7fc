// Package notify implements the best-effort multicast notification channel
// of spec.md §4.D and §6.3: a fixed multicast group carries small JSON
// datagrams announcing "parameter id changed at timestamp ts" to every
// other instance on the host's multicast domain.
//
// No example in this codebase's dependency pack touches multicast UDP. The
// sockets come from the standard library's net.ListenMulticastUDP and
// net.DialUDP; the TTL and loopback options are set through
// golang.org/x/net/ipv4 — see DESIGN.md.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"golang.org/x/net/ipv4"
)

// Config is the deployment-level multicast configuration (spec.md §6.3).
type Config struct {
	Group string // multicast group address, e.g. "239.192.7.1"
	Port  int
	TTL   int // 1 restricts delivery to the local link, per spec.md
	Iface string // "" selects the default multicast interface
}

func (c Config) addr() string { return fmt.Sprintf("%s:%d", c.Group, c.Port) }

// Notification is the decoded payload of one multicast datagram. Reset
// notifications (factory_reset, spec.md §8 property 10) carry no single
// (id, ts) pair, since every row was deleted; ID/Timestamp are zero and
// Reset is true instead.
type Notification struct {
	ID        int   `json:"id,omitempty"`
	Timestamp int64 `json:"ts,omitempty"`
	Reset     bool  `json:"reset,omitempty"`
}

// Handler is invoked once per received Notification. It runs on the
// listener goroutine; callers that need to do real work should hand off
// rather than block here.
type Handler func(Notification)

// Notifier sends and (optionally) receives change notifications over one
// multicast group. Send is always available; Listen is optional and starts
// a background goroutine that stops when the context passed to Listen is
// canceled or Close is called.
type Notifier struct {
	cfg  Config
	conn *net.UDPConn // used for Write only, the socket is already "connected" via DialUDP

	mu       sync.Mutex
	listener *net.UDPConn
	closed   bool

	log *slog.Logger
}

// New resolves the multicast group and opens the send socket. Listen must
// be called separately to also receive.
func New(cfg Config, log *slog.Logger) (*Notifier, error) {
	if log == nil {
		log = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 1
	}

	raddr, err := net.ResolveUDPAddr("udp4", cfg.addr())
	if err != nil {
		return nil, fmt.Errorf("notify: resolve %s: %w", cfg.addr(), err)
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("notify: dial %s: %w", cfg.addr(), err)
	}
	pc := ipv4.NewPacketConn(conn)
	_ = pc.SetMulticastTTL(cfg.TTL)
	_ = pc.SetMulticastLoopback(true)

	return &Notifier{cfg: cfg, conn: conn, log: log.With("component", "notify", "group", cfg.addr())}, nil
}

// Send broadcasts a change notification for parameter id at timestamp ts.
// Failures are logged and swallowed: multicast delivery is best-effort by
// spec.md §4.D, and a send failure must never fail the write that triggered
// it.
func (n *Notifier) Send(id int, ts int64) {
	n.send(Notification{ID: id, Timestamp: ts})
}

// SendReset broadcasts a factory_reset notice: every peer should re-poll
// its local generation counter and re-read every watched parameter, since
// no per-row timestamp survives a factory_reset for ChangedSince to find.
func (n *Notifier) SendReset() {
	n.send(Notification{Reset: true})
}

func (n *Notifier) send(notif Notification) {
	data, err := json.Marshal(notif)
	if err != nil {
		n.log.Warn("marshal notification", "error", err)
		return
	}
	if _, err := n.conn.Write(data); err != nil {
		n.log.Warn("send notification", "id", notif.ID, "reset", notif.Reset, "error", err)
	}
}

// Listen opens the receive socket (if not already open) and starts a
// goroutine that decodes incoming datagrams and invokes fn for each valid
// one. Malformed datagrams are logged and dropped, never propagated to fn.
// Listen is a no-op if already listening.
func (n *Notifier) Listen(ctx context.Context, fn Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener != nil || n.closed {
		return
	}

	iface, err := resolveInterface(n.cfg.Iface)
	if err != nil {
		n.log.Warn("resolve multicast interface, falling back to default", "error", err)
	}
	group, err := net.ResolveUDPAddr("udp4", n.cfg.addr())
	if err != nil {
		n.log.Error("resolve multicast group for listen", "error", err)
		return
	}
	conn, err := net.ListenMulticastUDP("udp4", iface, group)
	if err != nil {
		n.log.Error("listen multicast", "error", err)
		return
	}
	n.listener = conn

	go n.readLoop(ctx, conn, fn)
}

func (n *Notifier) readLoop(ctx context.Context, conn *net.UDPConn, fn Handler) {
	buf := make([]byte, 2048)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	for {
		nRead, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			n.log.Debug("multicast read error, stopping listener", "error", err)
			return
		}
		var notif Notification
		if err := json.Unmarshal(buf[:nRead], &notif); err != nil {
			n.log.Debug("dropping malformed multicast datagram", "error", err)
			continue
		}
		fn(notif)
	}
}

// Close releases both sockets. Safe to call multiple times.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	if n.listener != nil {
		n.listener.Close()
	}
	return n.conn.Close()
}

func resolveInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	return net.InterfaceByName(name)
}
