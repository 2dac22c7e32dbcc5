package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotd/internal/clipboard"
	"slotd/internal/overlay"
	"slotd/internal/slot"
	"slotd/internal/store"
	"slotd/internal/tap"
)

type fakeClip struct {
	mu         sync.Mutex
	text       string
	writes     []string
	emptyReads int // reads that return "" before text settles
	reads      int
}

func (f *fakeClip) ReadAll() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.reads <= f.emptyReads {
		return "", nil
	}
	return f.text, nil
}

func (f *fakeClip) WriteAll(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text = text
	f.writes = append(f.writes, text)
	return nil
}

func (f *fakeClip) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

type fakeSender struct {
	mu    sync.Mutex
	shows []overlay.Mode
	hides []string
}

func (f *fakeSender) Show(mode overlay.Mode, token string, window time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shows = append(f.shows, mode)
}

func (f *fakeSender) Hide(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hides = append(f.hides, token)
}

func (f *fakeSender) hideCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hides)
}

type fakeInjector struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeInjector) InjectPaste() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type fixture struct {
	m       *Machine
	taps    chan tap.Event
	notices chan overlay.Notice
	clip    *fakeClip
	sender  *fakeSender
	inject  *fakeInjector
	slots   *Slots
	cancel  context.CancelFunc
}

func newFixture(t *testing.T, db *store.Store) *fixture {
	return newFixtureWithConfig(t, db, Config{
		SelectWindow: 60 * time.Millisecond,
		RetryBudget:  5 * time.Millisecond,
		RestoreDelay: 5 * time.Millisecond,
	})
}

func newFixtureWithConfig(t *testing.T, db *store.Store, cfg Config) *fixture {
	t.Helper()
	f := &fixture{
		taps:    make(chan tap.Event, 16),
		notices: make(chan overlay.Notice, 16),
		clip:    &fakeClip{},
		sender:  &fakeSender{},
		inject:  &fakeInjector{},
	}
	f.slots = NewSlots(db, nil)
	f.m = New(cfg, f.slots, clipboard.NewWithAccessor(f.clip), f.sender, f.inject, nil)

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	t.Cleanup(cancel)
	go f.m.Run(ctx, f.taps, f.notices)
	return f
}

func (f *fixture) send(e tap.Event) {
	f.taps <- e
}

func (f *fixture) awaitResult(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-f.m.Results():
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a session result")
		return Result{}
	}
}

func (f *fixture) assertNoResult(t *testing.T, within time.Duration) {
	t.Helper()
	select {
	case r := <-f.m.Results():
		t.Fatalf("unexpected result %+v", r)
	case <-time.After(within):
	}
}

func copyTrigger() tap.Event {
	return tap.Event{Type: tap.KeyDown, Key: tap.Key{Kind: tap.KeyC, Code: 8}, Flags: tap.FlagCommand}
}

func pasteTrigger() tap.Event {
	return tap.Event{Type: tap.KeyDown, Key: tap.Key{Kind: tap.KeyV, Code: 9}, Flags: tap.FlagCommand | tap.FlagOption}
}

func modifierRelease() tap.Event {
	return tap.Event{Type: tap.FlagsChanged, Key: tap.Key{Kind: tap.KeyOther, Code: 55}}
}

func slotDown(id slot.ID) tap.Event {
	return tap.Event{Type: tap.KeyDown, Key: tap.Key{Kind: tap.KeySlot, Slot: id}}
}

func escDown() tap.Event {
	return tap.Event{Type: tap.KeyDown, Key: tap.Key{Kind: tap.KeyEscape, Code: 53}}
}

func TestCopySelectSavesChosenSlot(t *testing.T) {
	f := newFixture(t, nil)
	f.clip.text = "hello"

	f.send(copyTrigger())
	f.send(modifierRelease())
	f.send(slotDown(slot.L))

	r := f.awaitResult(t)
	require.Equal(t, OutcomeSaved, r.Outcome)
	assert.Equal(t, slot.L, r.Slot)

	text, ok := f.slots.Get(slot.L)
	require.True(t, ok)
	assert.Equal(t, "hello", text)

	for _, id := range slot.All() {
		if id == slot.L {
			continue
		}
		_, ok := f.slots.Get(id)
		assert.False(t, ok, "slot %s should be untouched", id.Label())
	}
}

func TestCopySelectEmptyClipboard(t *testing.T) {
	f := newFixture(t, nil)

	f.send(copyTrigger())
	f.send(modifierRelease())
	f.send(slotDown(slot.J))

	r := f.awaitResult(t)
	assert.Equal(t, OutcomeNothingToSave, r.Outcome)
	_, ok := f.slots.Get(slot.J)
	assert.False(t, ok)
}

func TestPasteSelectEmptySlot(t *testing.T) {
	f := newFixture(t, nil)

	f.send(pasteTrigger())
	f.send(slotDown(slot.I))

	r := f.awaitResult(t)
	require.Equal(t, OutcomeSlotEmpty, r.Outcome)
	assert.Equal(t, slot.I, r.Slot)
	assert.Zero(t, f.clip.writeCount(), "empty slot must not touch the clipboard")
	assert.Zero(t, f.inject.calls)
}

func TestPasteSelectWritesAndInjects(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.slots.Set(slot.J, "stored text"))
	f.clip.text = "prior contents"

	f.send(pasteTrigger())
	f.send(slotDown(slot.J))

	r := f.awaitResult(t)
	require.Equal(t, OutcomePasted, r.Outcome)
	assert.Equal(t, slot.J, r.Slot)
	assert.Equal(t, 1, f.inject.calls)

	// The slot text hits the clipboard first; the prior contents come back
	// after the grace delay.
	assert.Eventually(t, func() bool {
		f.clip.mu.Lock()
		defer f.clip.mu.Unlock()
		return len(f.clip.writes) == 2 && f.clip.writes[0] == "stored text" && f.clip.writes[1] == "prior contents"
	}, time.Second, 5*time.Millisecond)
}

func TestTimeoutClosesWithoutMutation(t *testing.T) {
	f := newFixture(t, nil)
	f.clip.text = "hello"

	f.send(copyTrigger())

	r := f.awaitResult(t)
	require.Equal(t, OutcomeCancelled, r.Outcome)
	assert.Equal(t, "timeout", r.Reason)
	for _, id := range slot.All() {
		_, ok := f.slots.Get(id)
		assert.False(t, ok)
	}
	assert.Equal(t, 1, f.sender.hideCount())
}

func TestEscapeCancels(t *testing.T) {
	f := newFixture(t, nil)

	f.send(pasteTrigger())
	f.send(escDown())

	r := f.awaitResult(t)
	require.Equal(t, OutcomeCancelled, r.Outcome)
	assert.Equal(t, "esc", r.Reason)
}

func TestInvalidKeyCancels(t *testing.T) {
	f := newFixture(t, nil)
	f.clip.text = "hello"

	f.send(copyTrigger())
	f.send(modifierRelease())
	f.send(tap.Event{Type: tap.KeyDown, Key: tap.Key{Kind: tap.KeyOther, Code: 12}})

	r := f.awaitResult(t)
	require.Equal(t, OutcomeCancelled, r.Outcome)
	assert.Equal(t, "invalid key", r.Reason)
}

func TestOverlayChosenCommits(t *testing.T) {
	f := newFixture(t, nil)
	f.clip.text = "via mouse"

	f.send(copyTrigger())
	f.notices <- overlay.Notice{Type: overlay.NoticeChosen, Token: "1", Slot: slot.U.Index()}

	r := f.awaitResult(t)
	require.Equal(t, OutcomeSaved, r.Outcome)
	assert.Equal(t, slot.U, r.Slot)
	text, ok := f.slots.Get(slot.U)
	require.True(t, ok)
	assert.Equal(t, "via mouse", text)
}

func TestLateChosenIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	f.clip.text = "hello"

	f.send(copyTrigger())
	f.send(modifierRelease())
	f.send(slotDown(slot.K))
	r := f.awaitResult(t)
	require.Equal(t, OutcomeSaved, r.Outcome)
	hides := f.sender.hideCount()

	// Two chosen messages for the now-closed session: dropped, no second
	// hide, no further mutation.
	f.notices <- overlay.Notice{Type: overlay.NoticeChosen, Token: "1", Slot: slot.O.Index()}
	f.notices <- overlay.Notice{Type: overlay.NoticeChosen, Token: "1", Slot: slot.O.Index()}

	f.assertNoResult(t, 50*time.Millisecond)
	_, ok := f.slots.Get(slot.O)
	assert.False(t, ok)
	assert.Equal(t, hides, f.sender.hideCount())
}

func TestStaleTimerAfterCommit(t *testing.T) {
	f := newFixture(t, nil)
	f.clip.text = "hello"

	f.send(copyTrigger())
	f.send(modifierRelease())
	f.send(slotDown(slot.J))
	r := f.awaitResult(t)
	require.Equal(t, OutcomeSaved, r.Outcome)

	// Outwait the original deadline: the stale timer must not produce a
	// second cancellation result.
	f.assertNoResult(t, 120*time.Millisecond)
}

func TestDecideIdlePassThrough(t *testing.T) {
	f := newFixture(t, nil)

	assert.Equal(t, tap.Pass, f.m.Decide(copyTrigger()), "native copy must pass while idle")
	assert.Equal(t, tap.Pass, f.m.Decide(tap.Event{
		Type: tap.KeyDown, Key: tap.Key{Kind: tap.KeyV, Code: 9}, Flags: tap.FlagCommand,
	}), "native paste must pass while idle")
	assert.Equal(t, tap.Pass, f.m.Decide(slotDown(slot.J)))
	assert.Equal(t, tap.Consume, f.m.Decide(pasteTrigger()), "paste-select trigger is always consumed")
}

func TestDecideDuringSelect(t *testing.T) {
	f := newFixture(t, nil)
	f.clip.text = "hello"

	f.send(copyTrigger())
	f.send(modifierRelease())
	require.Eventually(t, func() bool {
		return f.m.mode.Load() == modeCopySelect
	}, time.Second, time.Millisecond)

	assert.Equal(t, tap.Consume, f.m.Decide(slotDown(slot.K)))
	assert.Equal(t, tap.Consume, f.m.Decide(escDown()))
	assert.Equal(t, tap.Pass, f.m.Decide(tap.Event{Type: tap.KeyDown, Key: tap.Key{Kind: tap.KeyOther, Code: 12}}),
		"unrelated keys pass through during a session")
	assert.Equal(t, tap.Pass, f.m.Decide(tap.Event{Type: tap.FlagsChanged}))
}

func TestSlotKeyConsumedWhileClipboardSettles(t *testing.T) {
	f := newFixtureWithConfig(t, nil, Config{
		SelectWindow: 500 * time.Millisecond,
		RetryBudget:  200 * time.Millisecond,
		RestoreDelay: 5 * time.Millisecond,
	})
	f.clip.text = "hello"
	f.clip.emptyReads = 2 // clipboard populates only on the third read

	f.send(copyTrigger())
	f.send(modifierRelease())

	// The consuming mode must be visible to the classifier right away,
	// while the clipboard is still settling; a slot key passed through
	// here would reach the application and commit the session.
	require.Eventually(t, func() bool {
		return f.m.mode.Load() == modeCopySelect
	}, time.Second, time.Millisecond)
	assert.Equal(t, tap.Consume, f.m.Decide(slotDown(slot.J)))

	f.send(slotDown(slot.J))
	r := f.awaitResult(t)
	require.Equal(t, OutcomeSaved, r.Outcome)
	text, ok := f.slots.Get(slot.J)
	require.True(t, ok)
	assert.Equal(t, "hello", text, "commit-time read should retry until the clipboard settles")
}

func TestCopyArmedToleratesRepeatChords(t *testing.T) {
	f := newFixture(t, nil)
	f.clip.text = "hello"

	f.send(copyTrigger())
	f.send(tap.Event{Type: tap.KeyDown, Key: tap.Key{Kind: tap.KeyC, Code: 8}, Flags: tap.FlagCommand})
	f.send(tap.Event{Type: tap.KeyDown, Key: tap.Key{Kind: tap.KeyV, Code: 9}, Flags: tap.FlagCommand})
	f.assertNoResult(t, 20*time.Millisecond)

	f.send(modifierRelease())
	f.send(slotDown(slot.K))
	r := f.awaitResult(t)
	require.Equal(t, OutcomeSaved, r.Outcome)
	assert.Equal(t, slot.K, r.Slot)
}

func TestCopyArmedIgnoresSlotWhileModifierHeld(t *testing.T) {
	f := newFixture(t, nil)
	f.clip.text = "hello"

	f.send(copyTrigger())
	f.send(tap.Event{Type: tap.KeyDown, Key: tap.Key{Kind: tap.KeySlot, Slot: slot.J}, Flags: tap.FlagCommand})
	f.assertNoResult(t, 20*time.Millisecond)

	f.send(modifierRelease())
	f.send(slotDown(slot.J))
	r := f.awaitResult(t)
	require.Equal(t, OutcomeSaved, r.Outcome)
	assert.Equal(t, slot.J, r.Slot)
}

func TestSavedSlotSurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/slots.db"
	db, err := store.Open(path)
	require.NoError(t, err)

	f := newFixture(t, db)
	f.clip.text = "durable"
	f.send(copyTrigger())
	f.send(modifierRelease())
	f.send(slotDown(slot.O))
	r := f.awaitResult(t)
	require.Equal(t, OutcomeSaved, r.Outcome)
	f.cancel()
	require.NoError(t, db.Close())

	db2, err := store.Open(path)
	require.NoError(t, err)
	defer db2.Close()
	slots := NewSlots(db2, nil)
	text, ok := slots.Get(slot.O)
	require.True(t, ok)
	assert.Equal(t, "durable", text)
}

func TestDegradedWhenInjectionFails(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.slots.Set(slot.K, "text"))
	f.inject.err = assert.AnError

	f.send(pasteTrigger())
	f.send(slotDown(slot.K))

	r := f.awaitResult(t)
	assert.Equal(t, OutcomeDegraded, r.Outcome)
}

func TestOverlayShowModes(t *testing.T) {
	f := newFixture(t, nil)
	f.clip.text = "x"

	f.send(copyTrigger())
	f.send(escDown())
	f.awaitResult(t)

	f.send(pasteTrigger())
	f.send(escDown())
	f.awaitResult(t)

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	require.Len(t, f.sender.shows, 2)
	assert.Equal(t, overlay.ModePassive, f.sender.shows[0])
	assert.Equal(t, overlay.ModeActive, f.sender.shows[1])
}
