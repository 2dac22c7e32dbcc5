//go:build !darwin

package session

import "errors"

type unsupportedInjector struct{}

// NewInjector returns the platform paste injector.
func NewInjector() PasteInjector {
	return unsupportedInjector{}
}

func (unsupportedInjector) InjectPaste() error {
	return errors.New("paste injection not supported on this platform")
}
