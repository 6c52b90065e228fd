package stats

import (
	"sync"
	"time"

	"github.com/zsiec/tpx3d/internal/reorder"
	"github.com/zsiec/tpx3d/internal/tpx3"
)

// Aggregator is the single shared statistics object of a decode
// pipeline. One mutex guards all state; critical sections are short and
// never perform I/O. It is passed by reference to the framer, the
// dispatcher, and the workers' merge step.
type Aggregator struct {
	mu sync.Mutex

	totalHits        uint64
	totalChunks      uint64
	totalTDC         uint64
	totalTDC1        uint64
	totalTDC2        uint64
	totalControl     uint64
	totalDecodeErrs  uint64
	totalFractional  uint64
	totalUnknown     uint64
	metadataChunks   uint64
	startedMidStream bool

	packetTypes map[uint8]uint64 // keyed by 4-bit type code

	chipHits     [MaxChips]uint64
	chipValid    [MaxChips]bool
	chipTDC1     [MaxChips]uint64
	chipTDC1Min  [MaxChips]uint64
	chipTDC1Max  [MaxChips]uint64
	chipTDC1Init [MaxChips]bool

	earliestHit  uint64
	latestHit    uint64
	hitTicksInit bool

	earliestTDC1  uint64
	latestTDC1    uint64
	tdc1TicksInit bool

	startTime time.Time // set on first data event

	// Rolling-rate bookkeeping, updated at most once per second.
	lastRateUpdate time.Time
	lastHits       uint64
	lastTDC        uint64
	lastHitTicks   uint64
	lastTDC1Ticks  uint64

	hitRateHz     float64
	tdcRateHz     float64
	cumHitRateHz  float64
	cumTDC1RateHz float64
	chipHitRate   [MaxChips]float64
	chipTDC1Rate  [MaxChips]float64

	recent    []tpx3.PixelHit // fixed-capacity ring, zero disables
	recentCap int
	recentPos int

	byteAccount       map[string]uint64
	totalBytes        uint64
	bytesDroppedShort uint64

	reorderStats   reorder.Stats
	droppedBuffers uint64
}

// NewAggregator creates an Aggregator whose recent-hit ring holds
// recentHits entries (0 disables the ring).
func NewAggregator(recentHits int) *Aggregator {
	a := &Aggregator{}
	a.init(recentHits)
	return a
}

func (a *Aggregator) init(recentHits int) {
	if recentHits < 0 {
		recentHits = 0
	}
	a.packetTypes = make(map[uint8]uint64)
	a.byteAccount = make(map[string]uint64)
	a.recentCap = recentHits
	a.recent = make([]tpx3.PixelHit, 0, recentHits)
	a.recentPos = 0
}

// markDataLocked initializes wall-clock bookkeeping on the first data
// event (hit or TDC).
func (a *Aggregator) markDataLocked(now time.Time) {
	if a.startTime.IsZero() {
		a.startTime = now
		a.lastRateUpdate = now
		a.lastHits = a.totalHits
		a.lastTDC = a.totalTDC
		a.lastHitTicks = a.latestHit
		a.lastTDC1Ticks = a.latestTDC1
	}
}

// AddHit records one decoded pixel hit.
func (a *Aggregator) AddHit(hit tpx3.PixelHit) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addHitLocked(hit, time.Now())
	if a.totalHits%hitRefreshEvery == 0 {
		a.refreshRatesLocked(time.Now(), false)
	}
}

func (a *Aggregator) addHitLocked(hit tpx3.PixelHit, now time.Time) {
	a.pushRecentLocked(hit)

	a.totalHits++
	if int(hit.ChipIndex) < MaxChips {
		a.chipHits[hit.ChipIndex]++
		a.chipValid[hit.ChipIndex] = true
	}

	if !a.hitTicksInit {
		a.earliestHit = hit.ToATicks
		a.latestHit = hit.ToATicks
		a.hitTicksInit = true
	} else {
		if hit.ToATicks < a.earliestHit {
			a.earliestHit = hit.ToATicks
		}
		if hit.ToATicks > a.latestHit {
			a.latestHit = hit.ToATicks
		}
	}

	a.markDataLocked(now)
}

func (a *Aggregator) pushRecentLocked(hit tpx3.PixelHit) {
	if a.recentCap == 0 {
		return
	}
	if len(a.recent) < a.recentCap {
		a.recent = append(a.recent, hit)
		return
	}
	a.recent[a.recentPos] = hit
	a.recentPos = (a.recentPos + 1) % a.recentCap
}

// AddTDC records one decoded TDC event for the given chip.
func (a *Aggregator) AddTDC(ev tpx3.TDCEvent, chip uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.addTDCLocked(ev, chip, time.Now())
	a.refreshRatesLocked(time.Now(), false)
}

func (a *Aggregator) addTDCLocked(ev tpx3.TDCEvent, chip uint8, now time.Time) {
	a.totalTDC++
	a.markDataLocked(now)

	switch {
	case ev.Kind.IsTDC1():
		a.totalTDC1++
		if !a.tdc1TicksInit {
			a.earliestTDC1 = ev.TimestampTicks
			a.latestTDC1 = ev.TimestampTicks
			a.tdc1TicksInit = true
		} else {
			if ev.TimestampTicks < a.earliestTDC1 {
				a.earliestTDC1 = ev.TimestampTicks
			}
			if ev.TimestampTicks > a.latestTDC1 {
				a.latestTDC1 = ev.TimestampTicks
			}
		}
		if int(chip) < MaxChips {
			a.chipTDC1[chip]++
			if !a.chipTDC1Init[chip] {
				a.chipTDC1Min[chip] = ev.TimestampTicks
				a.chipTDC1Max[chip] = ev.TimestampTicks
				a.chipTDC1Init[chip] = true
			} else {
				if ev.TimestampTicks < a.chipTDC1Min[chip] {
					a.chipTDC1Min[chip] = ev.TimestampTicks
				}
				if ev.TimestampTicks > a.chipTDC1Max[chip] {
					a.chipTDC1Max[chip] = ev.TimestampTicks
				}
			}
		}
	case ev.Kind.IsTDC2():
		a.totalTDC2++
	}
}

// IncrementChunkCount records one observed chunk header.
func (a *Aggregator) IncrementChunkCount() { a.IncrementChunkCountBatch(1) }

// IncrementChunkCountBatch records n chunk headers in one step; the
// framer batches these to keep the hot loop off the lock.
func (a *Aggregator) IncrementChunkCountBatch(n uint64) {
	a.mu.Lock()
	a.totalChunks += n
	a.mu.Unlock()
}

// ProcessChunkMetadata records that a chunk carried a complete extra
// timestamp trailer.
func (a *Aggregator) ProcessChunkMetadata(meta tpx3.ChunkMetadata) {
	if !meta.Valid {
		return
	}
	a.mu.Lock()
	a.metadataChunks++
	a.mu.Unlock()
}

// IncrementControlPacket records one decoded control packet (SPIDR
// shutter/heartbeat or TPX3 end-of-readout).
func (a *Aggregator) IncrementControlPacket() {
	a.mu.Lock()
	a.totalControl++
	a.mu.Unlock()
}

// IncrementDecodeError records one decoder failure.
func (a *Aggregator) IncrementDecodeError() {
	a.mu.Lock()
	a.totalDecodeErrs++
	a.mu.Unlock()
}

// IncrementFractionalError records one TDC fine-timestamp range
// failure. The caller also records the generic decode error.
func (a *Aggregator) IncrementFractionalError() {
	a.mu.Lock()
	a.totalFractional++
	a.mu.Unlock()
}

// IncrementUnknownPacket records one word with an unrecognized type.
func (a *Aggregator) IncrementUnknownPacket() {
	a.mu.Lock()
	a.totalUnknown++
	a.mu.Unlock()
}

// IncrementPacketType bumps the histogram bucket for a 4-bit type code.
func (a *Aggregator) IncrementPacketType(type4 uint8) {
	a.mu.Lock()
	a.packetTypes[type4&0xF]++
	a.mu.Unlock()
}

// AddPacketBytes accounts n bytes to a named category.
func (a *Aggregator) AddPacketBytes(category string, n uint64) {
	a.mu.Lock()
	a.byteAccount[category] += n
	a.totalBytes += n
	a.mu.Unlock()
}

// AddBytesDroppedIncomplete accounts trailing bytes that never formed a
// complete word.
func (a *Aggregator) AddBytesDroppedIncomplete(n uint64) {
	a.mu.Lock()
	a.bytesDroppedShort += n
	a.mu.Unlock()
}

// UpdateReorderStats mirrors the reorder buffer's counters into the
// aggregate.
func (a *Aggregator) UpdateReorderStats(s reorder.Stats) {
	a.mu.Lock()
	a.reorderStats = s
	a.mu.Unlock()
}

// SetDroppedBuffers mirrors the ingest queue's overflow counter.
func (a *Aggregator) SetDroppedBuffers(n uint64) {
	a.mu.Lock()
	a.droppedBuffers = n
	a.mu.Unlock()
}

// MarkMidStreamStart flags that decoding began in the middle of a
// chunk stream (no header seen before the first payload words).
func (a *Aggregator) MarkMidStreamStart() {
	a.mu.Lock()
	a.startedMidStream = true
	a.mu.Unlock()
}

// SetRecentHitCapacity resizes the recent-hit ring, discarding its
// contents.
func (a *Aggregator) SetRecentHitCapacity(n int) {
	if n < 0 {
		n = 0
	}
	a.mu.Lock()
	a.recentCap = n
	a.recent = make([]tpx3.PixelHit, 0, n)
	a.recentPos = 0
	a.mu.Unlock()
}
