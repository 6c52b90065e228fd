package tpx3

import "testing"

func TestExtendTimestamp(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		name            string
		narrow, minimum uint64
		nBits           uint
		want            uint64
	}{
		{
			name:    "wraparound",
			narrow:  0x00000010,
			minimum: 0x3FFFFFF0,
			nBits:   30,
			want:    0x40000010,
		},
		{
			name:    "no-wrap",
			narrow:  0x100,
			minimum: 0x10,
			nBits:   30,
			want:    0x100,
		},
		{
			name:    "exact-minimum",
			narrow:  0x2AAA,
			minimum: 0x2AAA,
			nBits:   30,
			want:    0x2AAA,
		},
		{
			name:    "minimum-above-window",
			narrow:  0x5,
			minimum: 0x80000003, // narrow counter wrapped twice
			nBits:   30,
			want:    0x80000005,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := ExtendTimestamp(tc.narrow, tc.minimum, tc.nBits)
			if got != tc.want {
				t.Errorf("ExtendTimestamp(%#x, %#x, %d) = %#x, want %#x",
					tc.narrow, tc.minimum, tc.nBits, got, tc.want)
			}
			if got < tc.minimum {
				t.Errorf("result %#x below minimum %#x", got, tc.minimum)
			}
			if got-tc.minimum >= 1<<tc.nBits {
				t.Errorf("result %#x more than one window above minimum %#x", got, tc.minimum)
			}
		})
	}
}

func TestExtendTimestampIdempotent(t *testing.T) {
	t.Parallel()
	const nBits = 30
	for _, narrow := range []uint64{0, 1, 0x10, 0x3FFFFFFF, 0x2ABCDEF} {
		for _, minimum := range []uint64{0, 0x10, 0x3FFFFFF0, 0x123456789} {
			once := ExtendTimestamp(narrow, minimum, nBits)
			twice := ExtendTimestamp(once, minimum, nBits)
			if once != twice {
				t.Errorf("extend(extend(%#x)) = %#x, want %#x (minimum %#x)",
					narrow, twice, once, minimum)
			}
		}
	}
}

func TestExtendHit(t *testing.T) {
	t.Parallel()
	hit := PixelHit{ToATicks: 0x7_0000_0010} // high bits beyond the narrow counter
	ExtendHit(&hit, 0x3FFFFFF0)
	if hit.ToATicks != 0x40000010 {
		t.Errorf("ToATicks = %#x, want 0x40000010", hit.ToATicks)
	}
}
