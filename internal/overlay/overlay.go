// Package overlay exchanges datagrams with the external chooser overlay.
//
// Two independent one-directional flows over loopback UDP: the agent sends
// show/hide notifications to the overlay, and listens for chosen/cancel
// notifications back. Delivery is best-effort with no acknowledgment or
// retry; the overlay is a secondary input path and a display driver, never
// a source of truth. Every message carries the session token so stale
// notifications can be dropped by the receiver.
package overlay

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"slotd/internal/logging"
)

// Default loopback ports, one per direction.
const (
	DefaultOverlayPort = 45454 // agent -> overlay
	DefaultAgentPort   = 45455 // overlay -> agent
)

// Mode tells the overlay whether the chooser should consume mouse input.
type Mode string

const (
	ModePassive Mode = "passive"
	ModeActive  Mode = "active"
)

// showMessage is the outbound chooser-show datagram.
type showMessage struct {
	Type      string `json:"type"`
	Mode      string `json:"mode"`
	Token     string `json:"token"`
	TimeoutMS int64  `json:"timeout_ms"`
	Anchor    string `json:"anchor"`
}

// hideMessage is the outbound chooser-hide datagram.
type hideMessage struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

// Sender sends show/hide notifications to the overlay process.
type Sender struct {
	addr *net.UDPAddr
}

// NewSender creates a Sender targeting the overlay's loopback port.
func NewSender(port int) *Sender {
	return &Sender{
		addr: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
	}
}

// Show asks the overlay to display the chooser. Best-effort.
func (s *Sender) Show(mode Mode, token string, window time.Duration) {
	s.send(showMessage{
		Type:      "show",
		Mode:      string(mode),
		Token:     token,
		TimeoutMS: window.Milliseconds(),
		Anchor:    "mouse",
	})
}

// Hide asks the overlay to dismiss the chooser. Best-effort.
func (s *Sender) Hide(token string) {
	s.send(hideMessage{Type: "hide", Token: token})
}

func (s *Sender) send(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error("overlay marshal failed", "err", err)
		return
	}
	conn, err := net.DialUDP("udp", nil, s.addr)
	if err != nil {
		logging.Debug("overlay send failed (overlay may not be running)", "err", err)
		return
	}
	defer conn.Close()
	if _, err := conn.Write(data); err != nil {
		logging.Debug("overlay send failed (overlay may not be running)", "err", err)
	}
}

// NoticeType distinguishes inbound overlay notifications.
type NoticeType int

const (
	NoticeChosen NoticeType = iota
	NoticeCancel
)

// Notice is an inbound notification from the overlay: a clicked slot or a
// cancellation. Receiving the same notice more than once is harmless; the
// state machine drops anything for a closed session.
type Notice struct {
	Type   NoticeType
	Token  string
	Slot   int // 1..6, chosen only
	Reason string
}

// wireNotice is the inbound datagram envelope.
type wireNotice struct {
	Type   string `json:"type"`
	Token  string `json:"token"`
	Slot   int    `json:"slot"`
	Reason string `json:"reason"`
}

// Listener receives chosen/cancel notifications from the overlay process.
type Listener struct {
	conn    *net.UDPConn
	notices chan Notice
	done    chan struct{}
}

// Listen binds the agent's loopback port and starts the receive loop.
// Port 0 binds an ephemeral port (tests).
func Listen(port int) (*Listener, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	if err != nil {
		return nil, fmt.Errorf("bind overlay listener: %w", err)
	}

	l := &Listener{
		conn:    conn,
		notices: make(chan Notice, 16),
		done:    make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

// Notices returns the channel of inbound notifications. The channel closes
// when the listener is closed.
func (l *Listener) Notices() <-chan Notice {
	return l.notices
}

// Port returns the bound local port.
func (l *Listener) Port() int {
	return l.conn.LocalAddr().(*net.UDPAddr).Port
}

// Close stops the listener and closes the notices channel.
func (l *Listener) Close() error {
	err := l.conn.Close()
	<-l.done
	return err
}

func (l *Listener) readLoop() {
	defer close(l.done)
	defer close(l.notices)

	buf := make([]byte, 1024)
	for {
		n, _, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			// Closed or unrecoverable; either way the keyboard path and the
			// session timer keep the machine consistent.
			return
		}
		notice, ok := parseNotice(buf[:n])
		if !ok {
			continue
		}
		select {
		case l.notices <- notice:
		default:
			logging.Warn("overlay notice dropped, queue full")
		}
	}
}

// parseNotice decodes one datagram. Malformed or out-of-range messages are
// ignored; the overlay is untrusted.
func parseNotice(data []byte) (Notice, bool) {
	var w wireNotice
	if err := json.Unmarshal(data, &w); err != nil {
		logging.Debug("overlay datagram ignored", "err", err)
		return Notice{}, false
	}
	switch w.Type {
	case "chosen":
		if w.Slot < 1 || w.Slot > 6 {
			logging.Debug("overlay chosen ignored, slot out of range", "slot", w.Slot)
			return Notice{}, false
		}
		return Notice{Type: NoticeChosen, Token: w.Token, Slot: w.Slot}, true
	case "cancel":
		reason := w.Reason
		if reason == "" {
			reason = "timeout"
		}
		return Notice{Type: NoticeCancel, Token: w.Token, Reason: reason}, true
	default:
		return Notice{}, false
	}
}
