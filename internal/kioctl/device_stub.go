//go:build !linux

package kioctl

// Open always fails on non-linux platforms; /dev/binder doesn't
// exist outside Linux (and Android, which is linux for GOOS
// purposes). Tests on other platforms use fake.go instead.
func Open(path string) (Device, error) {
	return nil, ErrUnsupportedPlatform
}

// Mmap always fails alongside Open for the same reason.
func Mmap(d Device, size int) ([]byte, error) {
	return nil, ErrUnsupportedPlatform
}

// Munmap is unreachable on non-linux platforms since Mmap never
// succeeds, but is defined so callers don't need a build tag of their
// own just to call it.
func Munmap(region []byte) error {
	return ErrUnsupportedPlatform
}
