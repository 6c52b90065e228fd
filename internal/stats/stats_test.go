package stats

import (
	"math"
	"testing"

	"github.com/zsiec/tpx3d/internal/reorder"
	"github.com/zsiec/tpx3d/internal/tpx3"
)

func hitAt(chip uint8, ticks uint64) tpx3.PixelHit {
	return tpx3.PixelHit{X: 1, Y: 2, ToATicks: ticks, ToTNs: 25, ChipIndex: chip}
}

func tdc1At(ticks uint64) tpx3.TDCEvent {
	return tpx3.TDCEvent{Kind: tpx3.TDC1Rise, TimestampTicks: ticks, Fine: 1}
}

func TestPerChipSumsMatchTotals(t *testing.T) {
	t.Parallel()
	a := NewAggregator(DefaultRecentHits)

	counts := map[uint8]int{0: 5, 1: 3, 2: 7, 3: 2, 9: 4} // chip 9 is out of range
	total := 0
	for chip, n := range counts {
		for i := 0; i < n; i++ {
			a.AddHit(hitAt(chip, uint64(1000+i)))
			total++
		}
	}

	s := a.Snapshot()
	if s.TotalHits != uint64(total) {
		t.Errorf("TotalHits = %d, want %d", s.TotalHits, total)
	}

	var perChip uint64
	for _, cs := range s.Chips {
		perChip += cs.Hits
	}
	// The out-of-range chip counts only in the global total.
	if perChip != uint64(total-counts[9]) {
		t.Errorf("per-chip sum = %d, want %d", perChip, total-counts[9])
	}
	if s.Chips[0].Hits != 5 || !s.Chips[0].Valid {
		t.Errorf("chip 0 = %+v", s.Chips[0])
	}
}

func TestTDCSplit(t *testing.T) {
	t.Parallel()
	a := NewAggregator(0)

	kinds := []tpx3.TDCKind{
		tpx3.TDC1Rise, tpx3.TDC1Fall, tpx3.TDC2Rise, tpx3.TDC2Fall,
		tpx3.TDC1Rise, tpx3.TDC2Fall,
	}
	for i, k := range kinds {
		a.AddTDC(tpx3.TDCEvent{Kind: k, TimestampTicks: uint64(100 + i)}, 0)
	}

	s := a.Snapshot()
	if s.TotalTDCEvents != 6 {
		t.Errorf("TotalTDCEvents = %d, want 6", s.TotalTDCEvents)
	}
	if s.TotalTDC1Events+s.TotalTDC2Events != s.TotalTDCEvents {
		t.Errorf("tdc1 %d + tdc2 %d != total %d",
			s.TotalTDC1Events, s.TotalTDC2Events, s.TotalTDCEvents)
	}
	if s.TotalTDC1Events != 3 || s.TotalTDC2Events != 3 {
		t.Errorf("split = %d/%d, want 3/3", s.TotalTDC1Events, s.TotalTDC2Events)
	}
	if !s.TDC1TicksValid || s.EarliestTDC1Ticks != 100 || s.LatestTDC1Ticks != 104 {
		t.Errorf("tdc1 ticks = [%d, %d] valid=%v",
			s.EarliestTDC1Ticks, s.LatestTDC1Ticks, s.TDC1TicksValid)
	}
}

func TestCumulativeRateUsesDataSpan(t *testing.T) {
	t.Parallel()
	a := NewAggregator(0)

	// 1000 hits over exactly one second of data span: 640e6 ticks.
	const n = 1000
	span := uint64(1.0 / tpx3.TickSeconds)
	for i := 0; i < n; i++ {
		a.AddHit(hitAt(0, uint64(i)*span/(n-1)))
	}
	a.FinalizeRates()

	s := a.Snapshot()
	if s.DataSpanSeconds <= 0 {
		t.Fatal("data span should be positive")
	}
	want := float64(n) / s.DataSpanSeconds
	if math.Abs(s.CumulativeHitRateHz-want)/want > 1e-9 {
		t.Errorf("CumulativeHitRateHz = %f, want %f", s.CumulativeHitRateHz, want)
	}
	if s.HitRateHz < 0 || s.CumulativeHitRateHz < 0 {
		t.Error("rates must be non-negative")
	}
	if s.HitRateHz == 0 {
		t.Error("FinalizeRates should impute a rolling rate from the data span")
	}
}

func TestRecentHitRing(t *testing.T) {
	t.Parallel()
	a := NewAggregator(3)

	for i := uint64(1); i <= 2; i++ {
		a.AddHit(hitAt(0, i))
	}
	got := a.RecentHits()
	if len(got) != 2 || got[0].ToATicks != 1 || got[1].ToATicks != 2 {
		t.Errorf("partial fill = %v", got)
	}

	for i := uint64(3); i <= 5; i++ {
		a.AddHit(hitAt(0, i))
	}
	got = a.RecentHits()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []uint64{3, 4, 5} {
		if got[i].ToATicks != want {
			t.Errorf("ring[%d].ToATicks = %d, want %d", i, got[i].ToATicks, want)
		}
	}

	a.ClearHits()
	if len(a.RecentHits()) != 0 {
		t.Error("ClearHits left entries behind")
	}

	// Capacity 0 disables the ring entirely.
	d := NewAggregator(0)
	d.AddHit(hitAt(0, 1))
	if len(d.RecentHits()) != 0 {
		t.Error("disabled ring recorded a hit")
	}
}

func TestByteAccounting(t *testing.T) {
	t.Parallel()
	a := NewAggregator(0)
	a.AddPacketBytes("Chunk header", 8)
	a.AddPacketBytes("Pixel data", 16)
	a.AddPacketBytes("Chunk header", 8)

	s := a.Snapshot()
	var sum uint64
	for _, v := range s.ByteAccounting {
		sum += v
	}
	if sum != s.TotalBytesAccounted || sum != 32 {
		t.Errorf("sum = %d, total = %d, want 32", sum, s.TotalBytesAccounted)
	}
	if s.ByteAccounting["Chunk header"] != 16 {
		t.Errorf("chunk header bytes = %d, want 16", s.ByteAccounting["Chunk header"])
	}
}

func TestMergePartial(t *testing.T) {
	t.Parallel()
	a := NewAggregator(10)
	a.AddHit(hitAt(0, 500))

	p := NewPartial(10)
	p.AddHit(hitAt(1, 100))
	p.AddHit(hitAt(1, 900))
	p.AddTDC(tdc1At(50), 1)
	p.AddTDC(tpx3.TDCEvent{Kind: tpx3.TDC2Rise, TimestampTicks: 60}, 1)
	p.DecodeErrors++
	p.IncrementPacketType(0xB)
	p.AddBytes("Pixel data", 16)

	a.Merge(p)

	s := a.Snapshot()
	if s.TotalHits != 3 {
		t.Errorf("TotalHits = %d, want 3", s.TotalHits)
	}
	if s.Chips[1].Hits != 2 {
		t.Errorf("chip 1 hits = %d, want 2", s.Chips[1].Hits)
	}
	if s.TotalTDCEvents != 2 || s.TotalTDC1Events != 1 || s.TotalTDC2Events != 1 {
		t.Errorf("tdc totals = %d/%d/%d", s.TotalTDCEvents, s.TotalTDC1Events, s.TotalTDC2Events)
	}
	if s.TotalDecodeErrors != 1 {
		t.Errorf("TotalDecodeErrors = %d, want 1", s.TotalDecodeErrors)
	}
	if s.EarliestHitTicks != 100 || s.LatestHitTicks != 900 {
		t.Errorf("hit ticks = [%d, %d], want [100, 900]", s.EarliestHitTicks, s.LatestHitTicks)
	}
	if s.Chips[1].TDC1MinTicks != 50 || s.Chips[1].TDC1MaxTicks != 50 {
		t.Errorf("chip 1 tdc1 ticks = [%d, %d]", s.Chips[1].TDC1MinTicks, s.Chips[1].TDC1MaxTicks)
	}
	if s.PacketTypeCounts["0xB"] != 1 {
		t.Errorf("packet type 0xB = %d, want 1", s.PacketTypeCounts["0xB"])
	}
	if s.TotalBytesAccounted != 16 {
		t.Errorf("TotalBytesAccounted = %d, want 16", s.TotalBytesAccounted)
	}

	if !p.Empty() {
		t.Error("partial not reset after merge")
	}

	hits := a.RecentHits()
	if len(hits) != 3 {
		t.Fatalf("recent hits = %d, want 3", len(hits))
	}
	if hits[0].ToATicks != 500 || hits[1].ToATicks != 100 || hits[2].ToATicks != 900 {
		t.Errorf("recent order = %d,%d,%d", hits[0].ToATicks, hits[1].ToATicks, hits[2].ToATicks)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()
	a := NewAggregator(5)
	a.AddHit(hitAt(0, 1))
	a.AddTDC(tdc1At(2), 0)
	a.IncrementChunkCount()
	a.AddPacketBytes("Pixel data", 8)
	a.MarkMidStreamStart()
	a.UpdateReorderStats(reorder.Stats{TotalPackets: 3})

	a.Reset()
	s := a.Snapshot()
	if s.TotalHits != 0 || s.TotalChunks != 0 || s.TotalTDCEvents != 0 ||
		s.TotalBytesAccounted != 0 || s.StartedMidStream || s.Reorder.TotalPackets != 0 {
		t.Errorf("state survived reset: %+v", s)
	}
	if len(a.RecentHits()) != 0 {
		t.Error("recent hits survived reset")
	}

	// Ring capacity is preserved across reset.
	for i := uint64(0); i < 7; i++ {
		a.AddHit(hitAt(0, i))
	}
	if len(a.RecentHits()) != 5 {
		t.Errorf("ring capacity after reset = %d, want 5", len(a.RecentHits()))
	}
}
