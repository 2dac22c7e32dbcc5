//go:build !darwin && !linux

package tap

import "context"

type unsupportedTap struct {
	BaseTap
}

func newPlatformTap(classify Classifier) Tap {
	t := &unsupportedTap{}
	t.init(classify)
	return t
}

func (u *unsupportedTap) Available() (bool, string) {
	return false, "keyboard interception not supported on this platform"
}

func (u *unsupportedTap) Start(ctx context.Context) error {
	return ErrNotAvailable
}

func (u *unsupportedTap) Stop() error {
	return nil
}

var _ Tap = (*unsupportedTap)(nil)

// CheckPermission reports that interception is unavailable here.
func CheckPermission() (bool, string) {
	return false, "keyboard interception not supported on this platform"
}

// PromptPermission is a no-op on unsupported platforms.
func PromptPermission() bool {
	return false
}

// OpenPermissionSettings is a no-op on unsupported platforms.
func OpenPermissionSettings() error {
	return ErrNotAvailable
}
