package tpx3

// DecodeChunkHeader extracts the chunk size and chip index from a
// header word. The caller must have checked IsChunkHeader first.
func DecodeChunkHeader(word uint64) ChunkHeader {
	return ChunkHeader{
		SizeBytes: uint16(Bits(word, 63, 48)),
		ChipIndex: uint8(Bits(word, 39, 32)),
	}
}

// DecodePixel decodes a pixel data word of either variant, dispatching
// on the type nibble: 0xA count_fb, 0xB standard.
func DecodePixel(word uint64, chip uint8) (PixelHit, error) {
	switch TypeNibble(word) {
	case TypePixelCountFB:
		return decodePixelCountFB(word, chip), nil
	case TypePixelStandard:
		return decodePixelStandard(word, chip), nil
	}
	return PixelHit{}, ErrInvalidPixelType
}

func decodePixelStandard(word uint64, chip uint8) PixelHit {
	x, y := PixXY(Bits(word, 59, 44))
	toa := Bits(word, 43, 30)   // 25 ns units
	tot := Bits(word, 29, 20)   // 25 ns units
	ftoa := Bits(word, 19, 16)  // 1.5625 ns units, subtracted
	spidr := Bits(word, 15, 0)  // 0.4096 ms units

	// Full ToA in 1.5625 ns ticks. Unsigned wraparound from the FToA
	// subtraction is resolved later by timestamp extension.
	ticks := ((spidr<<14)+toa)<<4 - ftoa

	return PixelHit{
		X:         x,
		Y:         y,
		ToATicks:  ticks,
		ToTNs:     uint16(tot * 25),
		ChipIndex: chip,
	}
}

func decodePixelCountFB(word uint64, chip uint8) PixelHit {
	x, y := PixXY(Bits(word, 59, 44))
	itot := Bits(word, 43, 30)  // integrated ToT, 25 ns units
	count := Bits(word, 29, 20) // event count
	// bits 19..16 carry a hit count, currently unused
	spidr := Bits(word, 15, 0)

	return PixelHit{
		X:         x,
		Y:         y,
		ToATicks:  ((spidr << 14) + count) << 4,
		ToTNs:     uint16(itot * 25),
		ChipIndex: chip,
		CountFB:   true,
	}
}

// DecodeTDC decodes a TDC trigger word (type nibble 0x6). A fine
// timestamp of 0 (legacy firmware) is coerced to 1; values above 12
// fail with InvalidFractionalError.
func DecodeTDC(word uint64) (TDCEvent, error) {
	kind := TDCKind(Bits(word, 59, 56))
	trigger := uint16(Bits(word, 55, 44))
	coarse := Bits(word, 43, 9) // 3.125 ns units
	fract := uint8(Bits(word, 8, 5))

	if fract == 0 {
		fract = 1
	} else if fract > 12 {
		return TDCEvent{}, &InvalidFractionalError{Fract: fract}
	}

	// Convert to 1.5625 ns ticks: (coarse << 1) | ((fract-1) / 6).
	return TDCEvent{
		Kind:           kind,
		TriggerCount:   trigger,
		TimestampTicks: coarse<<1 | uint64(fract-1)/6,
		Fine:           fract,
	}, nil
}

// DecodeGlobalTime decodes a global time word. It reports false when
// the full type byte is neither 0x44 (low word) nor 0x45 (high word).
func DecodeGlobalTime(word uint64) (GlobalTime, bool) {
	gt := GlobalTime{SpidrTime: uint16(Bits(word, 15, 0))}
	switch FullType(word) {
	case TypeGlobalTimeLow:
		gt.Time = uint32(Bits(word, 47, 16)) // 25 ns units
	case TypeGlobalTimeHi:
		gt.HighWord = true
		gt.Time = uint32(Bits(word, 31, 16)) // ~107.374 s units
	default:
		return GlobalTime{}, false
	}
	return gt, true
}

// DecodeSpidrPacketID extracts the 48-bit sequence number from a SPIDR
// packet ID word. It reports false when the full type byte is not 0x50.
func DecodeSpidrPacketID(word uint64) (uint64, bool) {
	if FullType(word) != TypeSpidrPacketID {
		return 0, false
	}
	return Bits(word, 47, 0), true
}

// DecodeSpidrControl decodes a SPIDR control word (type nibble 0x5).
// It reports false for unrecognized command codes.
func DecodeSpidrControl(word uint64) (SpidrControl, bool) {
	if TypeNibble(word) != TypeSpidrControl {
		return SpidrControl{}, false
	}
	cmd := SpidrCmd(Bits(word, 59, 56))
	switch cmd {
	case SpidrShutterOpen, SpidrShutterClose, SpidrHeartbeat:
		return SpidrControl{
			Cmd:         cmd,
			Timestamp25: Bits(word, 45, 12),
		}, true
	}
	return SpidrControl{}, false
}

// DecodeControl decodes a TPX3 control word (full type byte 0x71).
// It reports false for unrecognized command codes.
func DecodeControl(word uint64) (ControlCmd, bool) {
	if FullType(word) != TypeTpx3Control {
		return 0, false
	}
	cmd := ControlCmd(Bits(word, 55, 48))
	switch cmd {
	case EndSequential, EndDataDriven:
		return cmd, true
	}
	return 0, false
}

// DecodeExtraTimestamp decodes an end-of-chunk extra timestamp word
// (full type byte 0x51 for TPX3, 0x21 for MPX3).
func DecodeExtraTimestamp(word uint64) ExtraTimestamp {
	return ExtraTimestamp{
		TPX3:         FullType(word) == TypeExtraTS,
		ErrorFlag:    Bits(word, 55, 55) != 0,
		OverflowFlag: Bits(word, 54, 54) != 0,
		Timestamp:    Bits(word, 53, 0),
	}
}

// IsExtraTimestamp reports whether the word's full type byte marks an
// extra timestamp packet of either flavor.
func IsExtraTimestamp(word uint64) bool {
	ft := FullType(word)
	return ft == TypeExtraTS || ft == TypeExtraTSMPX3
}
