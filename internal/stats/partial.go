package stats

import (
	"time"

	"github.com/zsiec/tpx3d/internal/tpx3"
)

// Partial is a decoder worker's private statistics accumulator. Workers
// mutate their own Partial without taking the aggregator lock (Partial
// itself has no lock; the caller serializes updates against Merge).
// Aggregator.Merge drains it
// into the shared aggregate under the aggregator lock at flush points.
type Partial struct {
	Hits             uint64
	TDCEvents        uint64
	TDC1Events       uint64
	TDC2Events       uint64
	DecodeErrors     uint64
	FractionalErrors uint64

	ChipHits     [MaxChips]uint64
	ChipTDC1     [MaxChips]uint64
	ChipTDC1Min  [MaxChips]uint64
	ChipTDC1Max  [MaxChips]uint64
	ChipTDC1Init [MaxChips]bool

	EarliestHit  uint64
	LatestHit    uint64
	HitTicksInit bool

	EarliestTDC1  uint64
	LatestTDC1    uint64
	TDC1TicksInit bool

	PacketTypes map[uint8]uint64
	ByteAccount map[string]uint64

	recent    []tpx3.PixelHit
	recentCap int
	recentPos int
}

// NewPartial creates a Partial whose recent-hit buffer holds up to
// recentCap entries (0 disables it).
func NewPartial(recentCap int) *Partial {
	if recentCap < 0 {
		recentCap = 0
	}
	return &Partial{
		PacketTypes: make(map[uint8]uint64),
		ByteAccount: make(map[string]uint64),
		recent:      make([]tpx3.PixelHit, 0, recentCap),
		recentCap:   recentCap,
	}
}

// AddHit records one pixel hit into the partial accumulator.
func (p *Partial) AddHit(hit tpx3.PixelHit) {
	p.Hits++
	if int(hit.ChipIndex) < MaxChips {
		p.ChipHits[hit.ChipIndex]++
	}

	if !p.HitTicksInit {
		p.EarliestHit = hit.ToATicks
		p.LatestHit = hit.ToATicks
		p.HitTicksInit = true
	} else {
		if hit.ToATicks < p.EarliestHit {
			p.EarliestHit = hit.ToATicks
		}
		if hit.ToATicks > p.LatestHit {
			p.LatestHit = hit.ToATicks
		}
	}

	if p.recentCap > 0 {
		if len(p.recent) < p.recentCap {
			p.recent = append(p.recent, hit)
		} else {
			p.recent[p.recentPos] = hit
			p.recentPos = (p.recentPos + 1) % p.recentCap
		}
	}
}

// AddTDC records one TDC event for the given chip.
func (p *Partial) AddTDC(ev tpx3.TDCEvent, chip uint8) {
	p.TDCEvents++
	switch {
	case ev.Kind.IsTDC1():
		p.TDC1Events++
		if !p.TDC1TicksInit {
			p.EarliestTDC1 = ev.TimestampTicks
			p.LatestTDC1 = ev.TimestampTicks
			p.TDC1TicksInit = true
		} else {
			if ev.TimestampTicks < p.EarliestTDC1 {
				p.EarliestTDC1 = ev.TimestampTicks
			}
			if ev.TimestampTicks > p.LatestTDC1 {
				p.LatestTDC1 = ev.TimestampTicks
			}
		}
		if int(chip) < MaxChips {
			p.ChipTDC1[chip]++
			if !p.ChipTDC1Init[chip] {
				p.ChipTDC1Min[chip] = ev.TimestampTicks
				p.ChipTDC1Max[chip] = ev.TimestampTicks
				p.ChipTDC1Init[chip] = true
			} else {
				if ev.TimestampTicks < p.ChipTDC1Min[chip] {
					p.ChipTDC1Min[chip] = ev.TimestampTicks
				}
				if ev.TimestampTicks > p.ChipTDC1Max[chip] {
					p.ChipTDC1Max[chip] = ev.TimestampTicks
				}
			}
		}
	case ev.Kind.IsTDC2():
		p.TDC2Events++
	}
}

// AddBytes accounts n bytes to a named category.
func (p *Partial) AddBytes(category string, n uint64) {
	p.ByteAccount[category] += n
}

// IncrementPacketType bumps the 4-bit type histogram.
func (p *Partial) IncrementPacketType(type4 uint8) {
	p.PacketTypes[type4&0xF]++
}

// Empty reports whether the partial holds nothing to merge.
func (p *Partial) Empty() bool {
	return p.Hits == 0 && p.TDCEvents == 0 && p.DecodeErrors == 0 &&
		p.FractionalErrors == 0 && len(p.PacketTypes) == 0 && len(p.ByteAccount) == 0
}

// recentOrdered returns the buffered recent hits in chronological
// order.
func (p *Partial) recentOrdered() []tpx3.PixelHit {
	if len(p.recent) < p.recentCap {
		return p.recent
	}
	out := make([]tpx3.PixelHit, 0, len(p.recent))
	out = append(out, p.recent[p.recentPos:]...)
	return append(out, p.recent[:p.recentPos]...)
}

// Reset clears the partial for reuse, keeping allocated maps and the
// recent buffer capacity.
func (p *Partial) Reset() {
	clear(p.PacketTypes)
	clear(p.ByteAccount)
	*p = Partial{
		PacketTypes: p.PacketTypes,
		ByteAccount: p.ByteAccount,
		recent:      p.recent[:0],
		recentCap:   p.recentCap,
	}
}

// Merge folds a worker's partial statistics into the aggregate and
// resets the partial. Totals add, per-chip arrays add element-wise,
// tick extremes fold with min/max, and recent hits append to the
// shared ring in order.
func (a *Aggregator) Merge(p *Partial) {
	if p.Empty() {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalTDC += p.TDCEvents
	a.totalTDC1 += p.TDC1Events
	a.totalTDC2 += p.TDC2Events
	a.totalDecodeErrs += p.DecodeErrors
	a.totalFractional += p.FractionalErrors

	a.totalHits += p.Hits
	for chip := 0; chip < MaxChips; chip++ {
		a.chipHits[chip] += p.ChipHits[chip]
		if p.ChipHits[chip] > 0 {
			a.chipValid[chip] = true
		}
		a.chipTDC1[chip] += p.ChipTDC1[chip]
		if p.ChipTDC1Init[chip] {
			if !a.chipTDC1Init[chip] {
				a.chipTDC1Min[chip] = p.ChipTDC1Min[chip]
				a.chipTDC1Max[chip] = p.ChipTDC1Max[chip]
				a.chipTDC1Init[chip] = true
			} else {
				if p.ChipTDC1Min[chip] < a.chipTDC1Min[chip] {
					a.chipTDC1Min[chip] = p.ChipTDC1Min[chip]
				}
				if p.ChipTDC1Max[chip] > a.chipTDC1Max[chip] {
					a.chipTDC1Max[chip] = p.ChipTDC1Max[chip]
				}
			}
		}
	}

	if p.HitTicksInit {
		if !a.hitTicksInit {
			a.earliestHit = p.EarliestHit
			a.latestHit = p.LatestHit
			a.hitTicksInit = true
		} else {
			if p.EarliestHit < a.earliestHit {
				a.earliestHit = p.EarliestHit
			}
			if p.LatestHit > a.latestHit {
				a.latestHit = p.LatestHit
			}
		}
	}
	if p.TDC1TicksInit {
		if !a.tdc1TicksInit {
			a.earliestTDC1 = p.EarliestTDC1
			a.latestTDC1 = p.LatestTDC1
			a.tdc1TicksInit = true
		} else {
			if p.EarliestTDC1 < a.earliestTDC1 {
				a.earliestTDC1 = p.EarliestTDC1
			}
			if p.LatestTDC1 > a.latestTDC1 {
				a.latestTDC1 = p.LatestTDC1
			}
		}
	}

	for t, n := range p.PacketTypes {
		a.packetTypes[t] += n
	}
	for k, v := range p.ByteAccount {
		a.byteAccount[k] += v
		a.totalBytes += v
	}

	for _, hit := range p.recentOrdered() {
		a.pushRecentLocked(hit)
	}

	if p.Hits > 0 || p.TDCEvents > 0 {
		a.markDataLocked(time.Now())
	}

	p.Reset()
}
