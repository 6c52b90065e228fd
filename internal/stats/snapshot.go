package stats

import (
	"fmt"
	"time"

	"github.com/zsiec/tpx3d/internal/reorder"
	"github.com/zsiec/tpx3d/internal/tpx3"
)

// Snapshot produces a deep, consistent copy of all statistics.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Snapshot{
		TotalHits:             a.totalHits,
		TotalChunks:           a.totalChunks,
		TotalTDCEvents:        a.totalTDC,
		TotalTDC1Events:       a.totalTDC1,
		TotalTDC2Events:       a.totalTDC2,
		TotalControlPackets:   a.totalControl,
		TotalDecodeErrors:     a.totalDecodeErrs,
		TotalFractionalErrors: a.totalFractional,
		TotalUnknownPackets:   a.totalUnknown,
		MetadataChunks:        a.metadataChunks,

		EarliestHitTicks:  a.earliestHit,
		LatestHitTicks:    a.latestHit,
		HitTicksValid:     a.hitTicksInit,
		EarliestTDC1Ticks: a.earliestTDC1,
		LatestTDC1Ticks:   a.latestTDC1,
		TDC1TicksValid:    a.tdc1TicksInit,

		HitRateHz:            a.hitRateHz,
		CumulativeHitRateHz:  a.cumHitRateHz,
		TDCRateHz:            a.tdcRateHz,
		CumulativeTDC1RateHz: a.cumTDC1RateHz,
		DataSpanSeconds:      a.hitSpanSecondsLocked(),

		TotalBytesAccounted:    a.totalBytes,
		BytesDroppedIncomplete: a.bytesDroppedShort,

		Reorder:          a.reorderStats,
		StartedMidStream: a.startedMidStream,
		DroppedBuffers:   a.droppedBuffers,
	}

	if !a.startTime.IsZero() {
		s.UptimeMs = time.Since(a.startTime).Milliseconds()
	}

	if len(a.packetTypes) > 0 {
		s.PacketTypeCounts = make(map[string]uint64, len(a.packetTypes))
		for t, n := range a.packetTypes {
			s.PacketTypeCounts[fmt.Sprintf("0x%X", t)] = n
		}
	}

	if len(a.byteAccount) > 0 {
		s.ByteAccounting = make(map[string]uint64, len(a.byteAccount))
		for k, v := range a.byteAccount {
			s.ByteAccounting[k] = v
		}
	}

	for chip := 0; chip < MaxChips; chip++ {
		s.Chips[chip] = ChipStats{
			Hits:         a.chipHits[chip],
			HitRateHz:    a.chipHitRate[chip],
			TDC1Events:   a.chipTDC1[chip],
			TDC1RateHz:   a.chipTDC1Rate[chip],
			TDC1MinTicks: a.chipTDC1Min[chip],
			TDC1MaxTicks: a.chipTDC1Max[chip],
			Valid:        a.chipValid[chip] || a.chipTDC1Init[chip],
		}
	}

	return s
}

// RecentHits returns the recent-hit ring in chronological order. The
// slice is shorter than the ring capacity while the ring is filling.
func (a *Aggregator) RecentHits() []tpx3.PixelHit {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]tpx3.PixelHit, 0, len(a.recent))
	if len(a.recent) < a.recentCap {
		return append(out, a.recent...)
	}
	out = append(out, a.recent[a.recentPos:]...)
	return append(out, a.recent[:a.recentPos]...)
}

// ClearHits empties the recent-hit ring without touching counters.
func (a *Aggregator) ClearHits() {
	a.mu.Lock()
	a.recent = a.recent[:0]
	a.recentPos = 0
	a.mu.Unlock()
}

// Reset returns the aggregator to its initial state, keeping the
// recent-hit ring capacity.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	keep := a.recentCap

	a.totalHits = 0
	a.totalChunks = 0
	a.totalTDC = 0
	a.totalTDC1 = 0
	a.totalTDC2 = 0
	a.totalControl = 0
	a.totalDecodeErrs = 0
	a.totalFractional = 0
	a.totalUnknown = 0
	a.metadataChunks = 0
	a.startedMidStream = false

	a.chipHits = [MaxChips]uint64{}
	a.chipValid = [MaxChips]bool{}
	a.chipTDC1 = [MaxChips]uint64{}
	a.chipTDC1Min = [MaxChips]uint64{}
	a.chipTDC1Max = [MaxChips]uint64{}
	a.chipTDC1Init = [MaxChips]bool{}

	a.earliestHit = 0
	a.latestHit = 0
	a.hitTicksInit = false
	a.earliestTDC1 = 0
	a.latestTDC1 = 0
	a.tdc1TicksInit = false

	a.startTime = time.Time{}
	a.lastRateUpdate = time.Time{}
	a.lastHits = 0
	a.lastTDC = 0
	a.lastHitTicks = 0
	a.lastTDC1Ticks = 0

	a.hitRateHz = 0
	a.tdcRateHz = 0
	a.cumHitRateHz = 0
	a.cumTDC1RateHz = 0
	a.chipHitRate = [MaxChips]float64{}
	a.chipTDC1Rate = [MaxChips]float64{}

	a.totalBytes = 0
	a.bytesDroppedShort = 0
	a.reorderStats = reorder.Stats{}
	a.droppedBuffers = 0

	a.init(keep)
}
