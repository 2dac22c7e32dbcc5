//go:build darwin

package tap

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices -framework Foundation

#include <ApplicationServices/ApplicationServices.h>
#include <pthread.h>
#include <unistd.h>

// Implemented in Go (tap_darwin_exports.go). Returns nonzero to swallow.
extern int goTapHandle(int eventType, long long keycode, unsigned long long flags);

static CFMachPortRef eventTap = NULL;
static CFRunLoopSourceRef runLoopSource = NULL;
static CFRunLoopRef tapRunLoop = NULL;
static volatile int tapEnabled = 0;
static volatile int tapDisabledBySystem = 0;

static void stopEventTap(void);

static CGEventRef tapCallback(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *refcon) {
    (void)proxy;
    (void)refcon;

    // The system disables the tap if the callback is too slow.
    if (type == kCGEventTapDisabledByUserInput || type == kCGEventTapDisabledByTimeout) {
        tapDisabledBySystem = 1;
        if (eventTap != NULL) {
            CGEventTapEnable(eventTap, true);
        }
        return event;
    }

    int t;
    switch (type) {
    case kCGEventKeyDown:
        t = 1;
        break;
    case kCGEventKeyUp:
        t = 2;
        break;
    case kCGEventFlagsChanged:
        t = 3;
        break;
    default:
        return event;
    }

    long long keycode = CGEventGetIntegerValueField(event, kCGKeyboardEventKeycode);
    unsigned long long flags = (unsigned long long)CGEventGetFlags(event);

    if (goTapHandle(t, keycode, flags)) {
        return NULL; // consumed: withheld from application dispatch
    }
    return event;
}

static void* runLoopThread(void* arg) {
    (void)arg;
    tapRunLoop = CFRunLoopGetCurrent();
    CFRunLoopAddSource(tapRunLoop, runLoopSource, kCFRunLoopCommonModes);
    CGEventTapEnable(eventTap, true);
    tapEnabled = 1;
    CFRunLoopRun();
    tapEnabled = 0;
    tapRunLoop = NULL;
    return NULL;
}

static pthread_t runLoopThreadHandle;
static volatile int threadRunning = 0;

static int startEventTap(void) {
    if (eventTap != NULL) {
        return 1; // already running
    }

    CGEventMask eventMask = CGEventMaskBit(kCGEventKeyDown) |
                            CGEventMaskBit(kCGEventKeyUp) |
                            CGEventMaskBit(kCGEventFlagsChanged);

    eventTap = CGEventTapCreate(
        kCGHIDEventTap,
        kCGHeadInsertEventTap,
        kCGEventTapOptionDefault,
        eventMask,
        tapCallback,
        NULL
    );
    if (eventTap == NULL) {
        return -1; // permission denied or not available
    }

    runLoopSource = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, eventTap, 0);
    if (runLoopSource == NULL) {
        CFRelease(eventTap);
        eventTap = NULL;
        return -2;
    }

    threadRunning = 1;
    if (pthread_create(&runLoopThreadHandle, NULL, runLoopThread, NULL) != 0) {
        CFRelease(runLoopSource);
        CFRelease(eventTap);
        runLoopSource = NULL;
        eventTap = NULL;
        threadRunning = 0;
        return -3;
    }

    for (int i = 0; i < 100 && !tapEnabled; i++) {
        usleep(10000);
    }
    if (!tapEnabled) {
        stopEventTap();
        return -4;
    }
    return 0;
}

static void stopEventTap(void) {
    if (eventTap == NULL) {
        return;
    }
    CGEventTapEnable(eventTap, false);
    tapEnabled = 0;
    if (tapRunLoop != NULL) {
        CFRunLoopStop(tapRunLoop);
    }
    if (threadRunning) {
        pthread_join(runLoopThreadHandle, NULL);
        threadRunning = 0;
    }
    if (runLoopSource != NULL) {
        CFRelease(runLoopSource);
        runLoopSource = NULL;
    }
    if (eventTap != NULL) {
        CFRelease(eventTap);
        eventTap = NULL;
    }
    tapRunLoop = NULL;
}

static int wasTapDisabledBySystem(void) {
    int val = tapDisabledBySystem;
    tapDisabledBySystem = 0;
    return val;
}

static int checkAccessibility(void) {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @NO};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}

static int promptAccessibility(void) {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"slotd/internal/logging"
)

// DarwinTap intercepts keyboard events via CGEventTap.
type DarwinTap struct {
	BaseTap
	ctx        context.Context
	cancel     context.CancelFunc
	healthDone chan struct{}

	tapDisableCount atomic.Int64
}

// Only one event tap runs per process; the C callback routes through here.
var (
	activeMu  sync.RWMutex
	activeTap *DarwinTap
)

func newPlatformTap(classify Classifier) Tap {
	t := &DarwinTap{}
	t.init(classify)
	return t
}

// Available checks whether CGEventTap can be created.
func (d *DarwinTap) Available() (bool, string) {
	if C.checkAccessibility() == 1 {
		return true, "CGEventTap available"
	}
	return false, "Accessibility permission required. Run `slotctl doctor` to grant it."
}

// Start begins intercepting keyboard events.
func (d *DarwinTap) Start(ctx context.Context) error {
	if d.IsRunning() {
		return ErrAlreadyRunning
	}

	if C.checkAccessibility() != 1 {
		return ErrPermissionDenied
	}

	activeMu.Lock()
	if activeTap != nil {
		activeMu.Unlock()
		return ErrAlreadyRunning
	}
	activeTap = d
	activeMu.Unlock()

	switch C.startEventTap() {
	case 0:
	case 1:
		d.clearActive()
		return ErrAlreadyRunning
	case -1:
		d.clearActive()
		return ErrPermissionDenied
	case -2:
		d.clearActive()
		return errors.New("failed to create run loop source")
	case -3:
		d.clearActive()
		return errors.New("failed to create run loop thread")
	default:
		d.clearActive()
		return errors.New("timeout waiting for event tap to start")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.SetRunning(true)
	d.healthDone = make(chan struct{})
	go d.healthLoop()

	return nil
}

// healthLoop tracks system disables of the tap for diagnostics.
func (d *DarwinTap) healthLoop() {
	defer close(d.healthDone)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			if C.wasTapDisabledBySystem() == 1 {
				d.tapDisableCount.Add(1)
				logging.Warn("event tap was disabled by the system and re-enabled",
					"count", d.tapDisableCount.Load())
			}
		}
	}
}

// Stop stops intercepting.
func (d *DarwinTap) Stop() error {
	if !d.IsRunning() {
		return nil
	}

	d.SetRunning(false)
	d.clearActive()

	if d.cancel != nil {
		d.cancel()
	}
	if d.healthDone != nil {
		<-d.healthDone
	}

	C.stopEventTap()
	close(d.events)

	return nil
}

func (d *DarwinTap) clearActive() {
	activeMu.Lock()
	if activeTap == d {
		activeTap = nil
	}
	activeMu.Unlock()
}

// TapDisableCount returns how many times the system disabled the tap.
func (d *DarwinTap) TapDisableCount() int64 {
	return d.tapDisableCount.Load()
}

var _ Tap = (*DarwinTap)(nil)

// CheckPermission reports whether input monitoring is authorized.
func CheckPermission() (bool, string) {
	if C.checkAccessibility() == 1 {
		return true, "Accessibility permission granted"
	}
	return false, "Accessibility permission not granted"
}

// PromptPermission checks permission and triggers the system prompt when
// not yet granted.
func PromptPermission() bool {
	return C.promptAccessibility() == 1
}

const settingsURL = "x-apple.systempreferences:com.apple.preference.security?Privacy_Accessibility"

// OpenPermissionSettings opens the OS permission-settings surface.
func OpenPermissionSettings() error {
	return exec.Command("open", settingsURL).Run()
}
