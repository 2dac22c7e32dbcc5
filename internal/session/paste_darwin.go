//go:build darwin

package session

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework ApplicationServices

#include <ApplicationServices/ApplicationServices.h>

static int injectCmdV(void) {
	CGEventSourceRef source = CGEventSourceCreate(kCGEventSourceStateCombinedSessionState);
	if (source == NULL) {
		return -1;
	}

	CGEventRef cmdDown = CGEventCreateKeyboardEvent(source, (CGKeyCode)55, true);
	CGEventRef vDown   = CGEventCreateKeyboardEvent(source, (CGKeyCode)9, true);
	CGEventRef vUp     = CGEventCreateKeyboardEvent(source, (CGKeyCode)9, false);
	CGEventRef cmdUp   = CGEventCreateKeyboardEvent(source, (CGKeyCode)55, false);
	if (cmdDown == NULL || vDown == NULL || vUp == NULL || cmdUp == NULL) {
		if (cmdDown) CFRelease(cmdDown);
		if (vDown) CFRelease(vDown);
		if (vUp) CFRelease(vUp);
		if (cmdUp) CFRelease(cmdUp);
		CFRelease(source);
		return -1;
	}

	CGEventSetFlags(vDown, kCGEventFlagMaskCommand);
	CGEventSetFlags(vUp, kCGEventFlagMaskCommand);

	CGEventPost(kCGHIDEventTap, cmdDown);
	CGEventPost(kCGHIDEventTap, vDown);
	CGEventPost(kCGHIDEventTap, vUp);
	CGEventPost(kCGHIDEventTap, cmdUp);

	CFRelease(cmdDown);
	CFRelease(vDown);
	CFRelease(vUp);
	CFRelease(cmdUp);
	CFRelease(source);
	return 0;
}
*/
import "C"

import "errors"

type darwinInjector struct{}

// NewInjector returns the platform paste injector.
func NewInjector() PasteInjector {
	return darwinInjector{}
}

// InjectPaste synthesizes a Cmd+V key sequence so the front-most
// application pastes the clipboard we just populated. The events carry a
// fresh event source so the tap's own consumption rules do not apply to
// them (synthesized events re-enter the HID stream below our tap, which
// passes V without the option modifier).
func (darwinInjector) InjectPaste() error {
	if C.injectCmdV() != 0 {
		return errors.New("synthesize paste events: event creation failed")
	}
	return nil
}
