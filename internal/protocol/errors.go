package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrTruncated        = errors.New("truncated datagram")
	ErrChecksumMismatch = errors.New("checksum mismatch")
	ErrUnknownVariant   = errors.New("unknown message variant")
	ErrBodyTooLarge     = errors.New("body exceeds safe datagram size")
	ErrNilMessage       = errors.New("nil message")
)

// DecodeError is returned by Decode for every datagram it rejects.
type DecodeError struct {
	Tag MessageType
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s (0x%02x): %v", e.Tag, uint8(e.Tag), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Reason returns a short label for metrics and logs.
func (e *DecodeError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrTruncated):
		return "truncated"
	case errors.Is(e.Err, ErrChecksumMismatch):
		return "checksum"
	case errors.Is(e.Err, ErrUnknownVariant):
		return "unknown_variant"
	default:
		return "other"
	}
}
