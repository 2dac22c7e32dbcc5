//go:build linux

package tap

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"slotd/internal/slot"
)

// Linux input event codes (linux/input-event-codes.h).
const (
	keyEsc        = 1
	keyU          = 22
	keyI          = 23
	keyO          = 24
	keyLeftCtrl   = 29
	keyJ          = 36
	keyK          = 37
	keyL          = 38
	keyLeftShift  = 42
	keyC          = 46
	keyV          = 47
	keyRightShift = 54
	keyLeftAlt    = 56
	keyRightCtrl  = 97
	keyRightAlt   = 100
	keyLeftMeta   = 125
	keyRightMeta  = 126
)

const (
	evKey      = 1
	valRelease = 0
	valPress   = 1
)

// keycodeToKey converts a Linux event code to a logical Key.
func keycodeToKey(code uint16) Key {
	switch code {
	case keyJ:
		return Key{Kind: KeySlot, Slot: slot.J, Code: code}
	case keyK:
		return Key{Kind: KeySlot, Slot: slot.K, Code: code}
	case keyL:
		return Key{Kind: KeySlot, Slot: slot.L, Code: code}
	case keyU:
		return Key{Kind: KeySlot, Slot: slot.U, Code: code}
	case keyI:
		return Key{Kind: KeySlot, Slot: slot.I, Code: code}
	case keyO:
		return Key{Kind: KeySlot, Slot: slot.O, Code: code}
	case keyEsc:
		return Key{Kind: KeyEscape, Code: code}
	case keyC:
		return Key{Kind: KeyC, Code: code}
	case keyV:
		return Key{Kind: KeyV, Code: code}
	default:
		return Key{Kind: KeyOther, Code: code}
	}
}

// modifierBit maps a modifier key code onto the logical flag mask, or 0.
func modifierBit(code uint16) Flags {
	switch code {
	case keyLeftMeta, keyRightMeta:
		return FlagCommand
	case keyLeftAlt, keyRightAlt:
		return FlagOption
	case keyLeftCtrl, keyRightCtrl:
		return FlagControl
	case keyLeftShift, keyRightShift:
		return FlagShift
	default:
		return 0
	}
}

// LinuxTap reads keyboard events from /dev/input. It observes the stream
// but cannot withhold events from applications, so consume verdicts are
// advisory on this platform.
type LinuxTap struct {
	BaseTap
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	devices []string
	flags   Flags
}

func newPlatformTap(classify Classifier) Tap {
	t := &LinuxTap{}
	t.init(classify)
	return t
}

// Available checks whether an input device can be read.
func (l *LinuxTap) Available() (bool, string) {
	devices, err := findKeyboardDevices()
	if err != nil {
		return false, fmt.Sprintf("cannot find keyboard devices: %v", err)
	}
	if len(devices) == 0 {
		return false, "no keyboard devices found"
	}

	for _, dev := range devices {
		fd, err := unix.Open(dev, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err == nil {
			unix.Close(fd)
			return true, fmt.Sprintf("reading %s (listen-only: selective consumption unsupported on linux)", dev)
		}
	}
	return false, "cannot read keyboard devices (need to be in 'input' group or run as root)"
}

// findKeyboardDevices finds /dev/input devices that are keyboards.
func findKeyboardDevices() ([]string, error) {
	var devices []string

	f, err := os.Open("/proc/bus/input/devices")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var currentHandler string
	isKeyboard := false

	for scanner.Scan() {
		line := scanner.Text()

		if strings.HasPrefix(line, "H: Handlers=") {
			for _, part := range strings.Fields(line) {
				if strings.HasPrefix(part, "event") {
					currentHandler = "/dev/input/" + part
				}
			}
		}

		if strings.HasPrefix(line, "B: KEY=") && len(line) > 10 {
			isKeyboard = true
		}

		if line == "" {
			if isKeyboard && currentHandler != "" {
				devices = append(devices, currentHandler)
			}
			currentHandler = ""
			isKeyboard = false
		}
	}

	matches, _ := filepath.Glob("/dev/input/by-id/*-kbd")
	devices = append(devices, matches...)

	return devices, nil
}

// Start begins reading keyboard events.
func (l *LinuxTap) Start(ctx context.Context) error {
	if l.IsRunning() {
		return ErrAlreadyRunning
	}

	devices, err := findKeyboardDevices()
	if err != nil || len(devices) == 0 {
		return ErrNotAvailable
	}

	l.devices = devices
	l.ctx, l.cancel = context.WithCancel(ctx)
	l.done = make(chan struct{})
	l.SetRunning(true)

	go l.readLoop()
	return nil
}

// inputEvent matches the Linux input_event struct on 64-bit platforms.
const inputEventSize = 24

func (l *LinuxTap) readLoop() {
	defer close(l.done)
	defer close(l.events)

	fd := -1
	for _, dev := range l.devices {
		f, err := unix.Open(dev, unix.O_RDONLY|unix.O_CLOEXEC, 0)
		if err == nil {
			fd = f
			break
		}
	}
	if fd < 0 {
		return
	}

	// Stop closes the fd to unblock the pending read. The once guard keeps
	// the late watcher from closing a reused descriptor after an early exit.
	var closeOnce sync.Once
	closeFd := func() { closeOnce.Do(func() { unix.Close(fd) }) }
	go func() {
		<-l.ctx.Done()
		closeFd()
	}()

	l.consume(fd)
	closeFd()
}

// consume reads input events from fd until the fd is closed or the device
// goes away.
func (l *LinuxTap) consume(fd int) {
	buf := make([]byte, inputEventSize)
	for {
		n, err := unix.Read(fd, buf)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}
		if err != nil || n == 0 {
			// fd closed on Stop, or the device went away.
			return
		}
		if n < inputEventSize {
			continue
		}

		typ := binary.LittleEndian.Uint16(buf[16:18])
		code := binary.LittleEndian.Uint16(buf[18:20])
		value := int32(binary.LittleEndian.Uint32(buf[20:24]))

		if typ != evKey {
			continue
		}

		if bit := modifierBit(code); bit != 0 {
			switch value {
			case valPress:
				l.flags |= bit
			case valRelease:
				l.flags &^= bit
			}
			l.emit(Event{Type: FlagsChanged, Key: Key{Kind: KeyOther, Code: code}, Flags: l.flags})
			continue
		}

		switch value {
		case valPress:
			l.emit(Event{Type: KeyDown, Key: keycodeToKey(code), Flags: l.flags})
		case valRelease:
			l.emit(Event{Type: KeyUp, Key: keycodeToKey(code), Flags: l.flags})
		}
	}
}

// Stop stops reading.
func (l *LinuxTap) Stop() error {
	if !l.IsRunning() {
		return nil
	}
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
	}
	l.SetRunning(false)
	return nil
}

var _ Tap = (*LinuxTap)(nil)

// CheckPermission reports whether the input devices are readable.
func CheckPermission() (bool, string) {
	t := &LinuxTap{}
	ok, detail := t.Available()
	if ok {
		return true, "input devices readable"
	}
	return false, detail
}

// PromptPermission has no system prompt on linux.
func PromptPermission() bool {
	ok, _ := CheckPermission()
	return ok
}

// OpenPermissionSettings cannot open a settings surface on linux; access is
// granted through group membership.
func OpenPermissionSettings() error {
	return fmt.Errorf("no permission settings surface on linux; add your user to the 'input' group")
}
