// Package session implements the selection-session state machine: the sole
// owner of mutable session state, fed by one ordered stream merging keyboard
// events, overlay notices, and timer expiries.
package session

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"slotd/internal/clipboard"
	"slotd/internal/logging"
	"slotd/internal/overlay"
	"slotd/internal/slot"
	"slotd/internal/tap"
)

// Machine modes. The current mode is published through an atomic word so the
// interception callback can classify events without taking a lock.
const (
	modeIdle uint32 = iota
	modeCopyArmed
	modeCopySelect
	modePasteSelect
)

// Outcome is how a session (or a degenerate trigger) resolved.
type Outcome int

const (
	OutcomeSaved Outcome = iota
	OutcomePasted
	OutcomeSlotEmpty
	OutcomeNothingToSave
	OutcomeCancelled
	OutcomeDegraded
)

// Result reports one resolved session.
type Result struct {
	Outcome Outcome
	Slot    slot.ID // valid for Saved/Pasted/SlotEmpty/Degraded
	Reason  string  // valid for Cancelled: "timeout", "esc", "invalid key"
}

// OverlaySender is the outbound half of the overlay channel.
type OverlaySender interface {
	Show(mode overlay.Mode, token string, window time.Duration)
	Hide(token string)
}

// PasteInjector triggers the OS paste action in the front-most application.
type PasteInjector interface {
	InjectPaste() error
}

// Config carries the session timing knobs.
type Config struct {
	SelectWindow time.Duration // how long a chooser stays open
	RetryBudget  time.Duration // total clipboard read retry budget
	RestoreDelay time.Duration // grace before restoring the prior clipboard
}

// DefaultConfig returns the stock timing.
func DefaultConfig() Config {
	return Config{
		SelectWindow: 800 * time.Millisecond,
		RetryBudget:  300 * time.Millisecond,
		RestoreDelay: 250 * time.Millisecond,
	}
}

// internal event kinds on the merged stream
type eventKind int

const (
	evTap eventKind = iota
	evNotice
	evTimer
	evConfig
)

type event struct {
	kind   eventKind
	tap    tap.Event
	notice overlay.Notice
	gen    uint64 // timer events only
	cfg    Config // config events only
}

// Machine is the session state machine. All transitions run on the single
// goroutine inside Run; Decide is the only method safe to call from the
// interception path.
type Machine struct {
	cfg    Config
	slots  *Slots
	clip   *clipboard.Bridge
	out    OverlaySender
	inject PasteInjector
	log    *logging.Logger

	mode atomic.Uint32
	gen  atomic.Uint64

	events  chan event
	results chan Result

	// machine-goroutine state, never touched elsewhere
	timer *time.Timer
}

// New builds a machine. out and inject may be nil (overlay disabled,
// paste injection unavailable); slots and clip must not be.
func New(cfg Config, slots *Slots, clip *clipboard.Bridge, out OverlaySender, inject PasteInjector, log *logging.Logger) *Machine {
	if log == nil {
		log = logging.Default()
	}
	return &Machine{
		cfg:     cfg,
		slots:   slots,
		clip:    clip,
		out:     out,
		inject:  inject,
		log:     log,
		events:  make(chan event, 64),
		results: make(chan Result, 16),
	}
}

// Results streams resolved sessions. Results are dropped if nobody reads.
func (m *Machine) Results() <-chan Result {
	return m.results
}

// Decide classifies one keyboard event as consume or pass. It must not
// block: it reads only the atomic mode word and the event itself. The
// semantic reaction happens later, on the machine goroutine.
func (m *Machine) Decide(e tap.Event) tap.Verdict {
	switch m.mode.Load() {
	case modeIdle:
		// Only the paste-select trigger is ever withheld while idle; the
		// native copy and paste combos always reach the application.
		if isPasteTrigger(e) {
			return tap.Consume
		}
		return tap.Pass
	case modeCopyArmed:
		if e.Key.Kind == tap.KeyEscape && e.Type != tap.FlagsChanged {
			return tap.Consume
		}
		return tap.Pass
	case modeCopySelect:
		if e.Type == tap.FlagsChanged {
			return tap.Pass
		}
		switch e.Key.Kind {
		case tap.KeySlot, tap.KeyEscape:
			return tap.Consume
		}
		return tap.Pass
	case modePasteSelect:
		if e.Type == tap.FlagsChanged {
			return tap.Pass
		}
		switch e.Key.Kind {
		case tap.KeySlot, tap.KeyEscape:
			return tap.Consume
		}
		if isPasteTrigger(e) || (e.Key.Kind == tap.KeyV && e.Type == tap.KeyUp) {
			return tap.Consume
		}
		return tap.Pass
	}
	return tap.Pass
}

func isPasteTrigger(e tap.Event) bool {
	return e.Type == tap.KeyDown &&
		e.Key.Kind == tap.KeyV &&
		e.Flags&tap.FlagCommand != 0 &&
		e.Flags&tap.FlagOption != 0
}

func isCopyTrigger(e tap.Event) bool {
	return e.Type == tap.KeyDown &&
		e.Key.Kind == tap.KeyC &&
		e.Flags&tap.FlagCommand != 0 &&
		e.Flags&tap.FlagOption == 0
}

// Run consumes the tap and overlay streams until ctx is done. Both sources
// are pumped into one ordered internal channel; within each source the
// original order is preserved.
func (m *Machine) Run(ctx context.Context, taps <-chan tap.Event, notices <-chan overlay.Notice) {
	go m.pumpTaps(ctx, taps)
	go m.pumpNotices(ctx, notices)

	for {
		select {
		case <-ctx.Done():
			m.closeSession()
			return
		case ev := <-m.events:
			m.step(ev)
		}
	}
}

func (m *Machine) pumpTaps(ctx context.Context, taps <-chan tap.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-taps:
			if !ok {
				return
			}
			m.post(ctx, event{kind: evTap, tap: e})
		}
	}
}

func (m *Machine) pumpNotices(ctx context.Context, notices <-chan overlay.Notice) {
	if notices == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-notices:
			if !ok {
				return
			}
			m.post(ctx, event{kind: evNotice, notice: n})
		}
	}
}

func (m *Machine) post(ctx context.Context, ev event) {
	select {
	case m.events <- ev:
	case <-ctx.Done():
	}
}

// UpdateTiming replaces the timing configuration. The change is applied on
// the machine goroutine and takes effect from the next session.
func (m *Machine) UpdateTiming(cfg Config) {
	select {
	case m.events <- event{kind: evConfig, cfg: cfg}:
	default:
	}
}

// step dispatches one merged event on the machine goroutine.
func (m *Machine) step(ev event) {
	if ev.kind == evConfig {
		m.cfg = ev.cfg
		m.log.Debug("timing updated", "window", m.cfg.SelectWindow)
		return
	}
	if ev.kind == evTimer {
		if ev.gen != m.gen.Load() || m.mode.Load() == modeIdle {
			m.log.Debug("stale timer fire ignored", "gen", ev.gen)
			return
		}
		m.cancel("timeout")
		return
	}

	switch m.mode.Load() {
	case modeIdle:
		m.handleIdle(ev)
	case modeCopyArmed:
		m.handleCopyArmed(ev)
	case modeCopySelect:
		m.handleCopySelect(ev)
	case modePasteSelect:
		m.handlePasteSelect(ev)
	}
}

func (m *Machine) handleIdle(ev event) {
	if ev.kind == evNotice {
		m.log.Debug("overlay notice with no open session dropped", "token", ev.notice.Token)
		return
	}
	e := ev.tap
	switch {
	case isPasteTrigger(e):
		m.openSession(modePasteSelect, overlay.ModeActive)
	case isCopyTrigger(e):
		// The mode word must be published before anything blocks: Decide
		// classifies against it from the interception callback, and a slot
		// key passed through here would later commit the same session. The
		// clipboard snapshot is read at commit time instead.
		m.openSession(modeCopyArmed, overlay.ModePassive)
	}
}

func (m *Machine) openSession(mode uint32, om overlay.Mode) {
	gen := m.gen.Add(1)
	m.mode.Store(mode)
	m.timer = time.AfterFunc(m.cfg.SelectWindow, func() {
		select {
		case m.events <- event{kind: evTimer, gen: gen}:
		default:
		}
	})
	if m.out != nil {
		m.out.Show(om, token(gen), m.cfg.SelectWindow)
	}
	m.log.Debug("session opened", "mode", om, "gen", gen)
}

func (m *Machine) handleCopyArmed(ev event) {
	if ev.kind == evNotice {
		if s, ok := m.noticeSlot(ev.notice); ok {
			m.commitSave(s)
		}
		return
	}
	e := ev.tap
	switch {
	case e.Type == tap.FlagsChanged:
		if e.Flags&tap.FlagCommand == 0 {
			m.mode.Store(modeCopySelect)
		}
	case e.Type == tap.KeyDown && e.Key.Kind == tap.KeyEscape:
		m.cancel("esc")
	case e.Type == tap.KeyDown && e.Key.Kind == tap.KeySlot:
		// Slot letters typed while the modifier is still held are
		// application shortcuts, not choices.
	case e.Type == tap.KeyDown && (e.Key.Kind == tap.KeyC || e.Key.Kind == tap.KeyV):
		// Repeat copy, or a paste chord, while the modifier is still held;
		// the window stays open and the commit-time read picks up whatever
		// the clipboard holds by then.
	case e.Type == tap.KeyDown:
		m.cancel("invalid key")
	}
}

func (m *Machine) handleCopySelect(ev event) {
	if ev.kind == evNotice {
		if s, ok := m.noticeSlot(ev.notice); ok {
			m.commitSave(s)
		}
		return
	}
	e := ev.tap
	if e.Type != tap.KeyDown {
		return
	}
	switch e.Key.Kind {
	case tap.KeySlot:
		m.commitSave(e.Key.Slot)
	case tap.KeyEscape:
		m.cancel("esc")
	default:
		m.cancel("invalid key")
	}
}

func (m *Machine) handlePasteSelect(ev event) {
	if ev.kind == evNotice {
		if s, ok := m.noticeSlot(ev.notice); ok {
			m.commitPaste(s)
		}
		return
	}
	e := ev.tap
	if e.Type != tap.KeyDown {
		return
	}
	switch {
	case e.Key.Kind == tap.KeySlot:
		m.commitPaste(e.Key.Slot)
	case e.Key.Kind == tap.KeyEscape:
		m.cancel("esc")
	case isPasteTrigger(e):
		// Trigger repeat while the chooser is already open; consumed, ignored.
	default:
		m.cancel("invalid key")
	}
}

// noticeSlot validates an overlay notice against the open session. A cancel
// notice closes the session as a side effect and returns false.
func (m *Machine) noticeSlot(n overlay.Notice) (slot.ID, bool) {
	gen, err := strconv.ParseUint(n.Token, 10, 64)
	if err != nil || gen != m.gen.Load() {
		m.log.Debug("overlay notice for closed session dropped", "token", n.Token)
		return 0, false
	}
	if n.Type == overlay.NoticeCancel {
		m.cancel(n.Reason)
		return 0, false
	}
	s, err := slot.FromIndex(n.Slot)
	if err != nil {
		m.cancel("invalid key")
		return 0, false
	}
	return s, true
}

func (m *Machine) commitSave(s slot.ID) {
	m.closeSession()

	// Clipboard population after the native copy is asynchronous, so the
	// read retries within the bounded budget. The session is already closed,
	// so the retries never hold a consuming mode open.
	snapshot, ok := m.clip.ReadText(m.cfg.RetryBudget)
	if !ok {
		m.log.Info("Nothing to save (clipboard has no text)")
		m.report(Result{Outcome: OutcomeNothingToSave, Slot: s})
		return
	}
	if err := m.slots.Set(s, snapshot); err != nil {
		m.log.Error("slot save failed", "slot", s.Label(), "error", err)
		m.report(Result{Outcome: OutcomeDegraded, Slot: s})
		return
	}
	m.log.Info("Saved → Slot "+s.Label()+": "+logging.Preview(snapshot), "slot", s.Label())
	m.report(Result{Outcome: OutcomeSaved, Slot: s})
}

func (m *Machine) commitPaste(s slot.ID) {
	m.closeSession()

	text, ok := m.slots.Get(s)
	if !ok {
		m.log.Info("Slot " + s.Label() + " is empty")
		m.report(Result{Outcome: OutcomeSlotEmpty, Slot: s})
		return
	}

	prior, _ := m.clip.ReadTextOnce()
	if _, err := m.clip.WriteThenRestore(text, prior, m.cfg.RestoreDelay); err != nil {
		m.log.Error("clipboard write failed", "slot", s.Label(), "error", err)
		m.report(Result{Outcome: OutcomeDegraded, Slot: s})
		return
	}
	if m.inject != nil {
		if err := m.inject.InjectPaste(); err != nil {
			m.log.Error("paste injection failed", "slot", s.Label(), "error", err)
			m.report(Result{Outcome: OutcomeDegraded, Slot: s})
			return
		}
	}
	m.log.Info("Pasted ← Slot "+s.Label(), "slot", s.Label())
	m.report(Result{Outcome: OutcomePasted, Slot: s})
}

func (m *Machine) cancel(reason string) {
	m.closeSession()
	m.log.Info("cancelled (" + reason + ")")
	m.report(Result{Outcome: OutcomeCancelled, Reason: reason})
}

// closeSession is idempotent: the mode returns to idle, the timer is
// stopped, and the overlay told to hide. A timer that already fired posts a
// generation-tagged event that step discards.
func (m *Machine) closeSession() {
	if m.mode.Load() == modeIdle {
		return
	}
	m.mode.Store(modeIdle)
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	if m.out != nil {
		m.out.Hide(token(m.gen.Load()))
	}
}

func (m *Machine) report(r Result) {
	select {
	case m.results <- r:
	default:
	}
}

func token(gen uint64) string {
	return strconv.FormatUint(gen, 10)
}
