//go:build !darwin && !linux

package decode

import "errors"

func hardwareDecoderAvailable() bool { return false }

func newNativeHardwareDecoder() (platformDecoder, error) {
	return nil, ErrHardwareUnavailable
}

func newNativeSoftwareDecoder() (rawDecoder, error) {
	return nil, errors.New("software decoder not available on this platform")
}
