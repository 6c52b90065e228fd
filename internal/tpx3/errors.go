package tpx3

import (
	"errors"
	"fmt"
)

// ErrInvalidPixelType is returned by DecodePixel when the word's type
// nibble is neither 0xA (count_fb) nor 0xB (standard).
var ErrInvalidPixelType = errors.New("tpx3: invalid pixel packet type")

// InvalidFractionalError is returned by DecodeTDC when the fine
// timestamp field exceeds its valid 1..12 range. A value of 0 is a
// known legacy-firmware quirk and is coerced to 1 instead.
type InvalidFractionalError struct {
	Fract uint8
}

func (e *InvalidFractionalError) Error() string {
	return fmt.Sprintf("tpx3: invalid fractional TDC part: %d", e.Fract)
}

// UnknownPacketError describes a word whose full type byte and type
// nibble both match no known packet code. No decoder in this package
// returns it; the dispatcher counts such words without constructing it.
type UnknownPacketError struct {
	Word uint64
}

func (e *UnknownPacketError) Error() string {
	return fmt.Sprintf("tpx3: unknown packet type 0x%02X", e.TopByte())
}

// TopByte returns the word's full 8-bit type code, as shown in the
// error message.
func (e *UnknownPacketError) TopByte() uint8 { return FullType(e.Word) }
