// Package clipboard mediates between the agent and the system clipboard.
//
// Clipboard population after the user's native copy action is asynchronous,
// so reads retry with short spacing inside a bounded budget before giving
// up. A slot paste replaces the clipboard temporarily and restores the prior
// contents after a grace delay, keeping the operation invisible to the
// clipboard's own history.
package clipboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/atotto/clipboard"
)

// RetryInterval is the spacing between read attempts after a copy.
const RetryInterval = 50 * time.Millisecond

// Accessor is the platform clipboard. Tests substitute a fake.
type Accessor interface {
	ReadAll() (string, error)
	WriteAll(text string) error
}

type systemAccessor struct{}

func (systemAccessor) ReadAll() (string, error) {
	if clipboard.Unsupported {
		return "", fmt.Errorf("clipboard not supported on this platform")
	}
	return clipboard.ReadAll()
}

func (systemAccessor) WriteAll(text string) error {
	if clipboard.Unsupported {
		return fmt.Errorf("clipboard not supported on this platform")
	}
	return clipboard.WriteAll(text)
}

// Bridge reads and writes system clipboard text.
type Bridge struct {
	accessor Accessor
	interval time.Duration
}

// New returns a Bridge backed by the system clipboard.
func New() *Bridge {
	return NewWithAccessor(systemAccessor{})
}

// NewWithAccessor returns a Bridge backed by the given accessor.
func NewWithAccessor(a Accessor) *Bridge {
	return &Bridge{accessor: a, interval: RetryInterval}
}

// ReadText reads plain text from the clipboard, retrying every RetryInterval
// until the budget is spent. Returns false when the clipboard holds no text
// after all attempts.
func (b *Bridge) ReadText(budget time.Duration) (string, bool) {
	tries := int(budget / b.interval)
	if tries < 1 {
		tries = 1
	}

	for attempt := 0; attempt < tries; attempt++ {
		if attempt > 0 {
			time.Sleep(b.interval)
		}
		text, err := b.accessor.ReadAll()
		if err != nil {
			continue
		}
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			return trimmed, true
		}
	}
	return "", false
}

// ReadTextOnce reads the clipboard without retrying. Used to snapshot the
// prior contents before a slot paste.
func (b *Bridge) ReadTextOnce() (string, bool) {
	text, err := b.accessor.ReadAll()
	if err != nil {
		return "", false
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}
	return trimmed, true
}

// WriteText replaces the clipboard contents.
func (b *Bridge) WriteText(text string) error {
	if err := b.accessor.WriteAll(text); err != nil {
		return fmt.Errorf("write clipboard: %w", err)
	}
	return nil
}

// WriteThenRestore writes text to the clipboard and schedules prior to be
// written back after delay. An empty prior means there was nothing to
// restore. The returned channel closes once the restore has run (or been
// skipped); callers that don't care may ignore it.
func (b *Bridge) WriteThenRestore(text, prior string, delay time.Duration) (<-chan struct{}, error) {
	if err := b.WriteText(text); err != nil {
		return nil, err
	}

	done := make(chan struct{})
	time.AfterFunc(delay, func() {
		defer close(done)
		if prior == "" {
			return
		}
		// Best effort. The user may have copied something newer meanwhile;
		// overwriting it is the documented trade-off of the grace delay.
		_ = b.accessor.WriteAll(prior)
	})
	return done, nil
}
