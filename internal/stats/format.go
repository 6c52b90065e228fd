package stats

import (
	"fmt"
	"sort"
	"strings"
)

// Format renders a Snapshot as the human-readable report printed
// periodically and at shutdown.
func Format(s Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "=== Statistics ===\n")
	fmt.Fprintf(&b, "Total hits:              %d\n", s.TotalHits)
	fmt.Fprintf(&b, "Total chunks:            %d\n", s.TotalChunks)
	fmt.Fprintf(&b, "Total TDC events:        %d (tdc1=%d tdc2=%d)\n",
		s.TotalTDCEvents, s.TotalTDC1Events, s.TotalTDC2Events)
	fmt.Fprintf(&b, "Total control packets:   %d\n", s.TotalControlPackets)
	fmt.Fprintf(&b, "Total decode errors:     %d (fractional=%d)\n",
		s.TotalDecodeErrors, s.TotalFractionalErrors)
	fmt.Fprintf(&b, "Total unknown packets:   %d\n", s.TotalUnknownPackets)
	fmt.Fprintf(&b, "Hit rate:                %.2f Hz (cumulative %.2f Hz)\n",
		s.HitRateHz, s.CumulativeHitRateHz)
	fmt.Fprintf(&b, "TDC rate:                %.2f Hz (cumulative TDC1 %.2f Hz)\n",
		s.TDCRateHz, s.CumulativeTDC1RateHz)
	if s.DataSpanSeconds > 0 {
		fmt.Fprintf(&b, "Data span:               %.3f s\n", s.DataSpanSeconds)
	}
	if s.StartedMidStream {
		fmt.Fprintf(&b, "Started mid-stream:      yes\n")
	}
	if s.DroppedBuffers > 0 {
		fmt.Fprintf(&b, "Dropped ingest buffers:  %d\n", s.DroppedBuffers)
	}
	if s.BytesDroppedIncomplete > 0 {
		fmt.Fprintf(&b, "Bytes dropped (partial): %d\n", s.BytesDroppedIncomplete)
	}

	if len(s.PacketTypeCounts) > 0 {
		fmt.Fprintf(&b, "Packet type breakdown:\n")
		keys := make([]string, 0, len(s.PacketTypeCounts))
		for k := range s.PacketTypeCounts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  Type %-4s %d\n", k, s.PacketTypeCounts[k])
		}
	}

	for chip, cs := range s.Chips {
		if !cs.Valid {
			continue
		}
		fmt.Fprintf(&b, "Chip %d: hits=%d (%.2f Hz) tdc1=%d (%.2f Hz)\n",
			chip, cs.Hits, cs.HitRateHz, cs.TDC1Events, cs.TDC1RateHz)
	}

	if len(s.ByteAccounting) > 0 {
		fmt.Fprintf(&b, "Byte accounting (%d total):\n", s.TotalBytesAccounted)
		keys := make([]string, 0, len(s.ByteAccounting))
		for k := range s.ByteAccounting {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %-32s %d\n", k, s.ByteAccounting[k])
		}
	}

	if s.Reorder.TotalPackets > 0 {
		fmt.Fprintf(&b, "Reorder: immediate=%d reordered=%d max_distance=%d overflows=%d too_old=%d\n",
			s.Reorder.PacketsImmediate, s.Reorder.PacketsReordered,
			s.Reorder.MaxReorderDistance, s.Reorder.BufferOverflows,
			s.Reorder.DroppedTooOld)
	}

	return b.String()
}
