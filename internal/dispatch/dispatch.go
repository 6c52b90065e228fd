// Package dispatch runs the decode worker pool. Words are routed to a
// worker by chip index so that per-chip ordering is preserved, each
// worker accumulates into private partial statistics, and the partials
// merge into the shared aggregator at deterministic flush points.
package dispatch

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/zsiec/tpx3d/internal/stats"
	"github.com/zsiec/tpx3d/internal/tpx3"
)

// errLogLimit caps how many decode failures of each sub-kind are
// logged; the rest are counted silently.
const errLogLimit = 5

// taskQueueDepth is the per-worker channel depth in batches.
const taskQueueDepth = 256

// FileWorkers is the worker count for file-mode decoding.
const FileWorkers = 1

// StreamWorkers returns the default worker count for stream mode.
func StreamWorkers() int {
	return max(4, runtime.GOMAXPROCS(0))
}

type task struct {
	words []uint64
	chip  uint8
	meta  tpx3.ChunkMetadata
}

type worker struct {
	tasks chan task
	mu    sync.Mutex // guards partial against the merge step
	part  *stats.Partial
}

// Pool dispatches word batches to decode workers keyed by chip index.
type Pool struct {
	log     *slog.Logger
	agg     *stats.Aggregator
	workers []*worker
	wg      sync.WaitGroup

	pendingMu sync.Mutex
	pending   int64
	idleCond  *sync.Cond

	pixelErrs atomic.Uint64
	fracErrs  atomic.Uint64
	tdcErrs   atomic.Uint64
}

// NewPool starts n decode workers sharing agg. Each worker's recent-hit
// buffer holds recentCap entries. If log is nil, slog.Default() is used.
func NewPool(n int, agg *stats.Aggregator, recentCap int, log *slog.Logger) *Pool {
	if n < 1 {
		n = 1
	}
	if log == nil {
		log = slog.Default()
	}

	p := &Pool{
		log:     log.With("component", "dispatch"),
		agg:     agg,
		workers: make([]*worker, n),
	}
	p.idleCond = sync.NewCond(&p.pendingMu)

	for i := range p.workers {
		w := &worker{
			tasks: make(chan task, taskQueueDepth),
			part:  stats.NewPartial(recentCap),
		}
		p.workers[i] = w
		p.wg.Add(1)
		go p.run(w)
	}
	return p
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return len(p.workers) }

// SubmitBatch enqueues a batch of words for the worker owning chip.
// The slice is copied; the caller may reuse it immediately.
func (p *Pool) SubmitBatch(words []uint64, chip uint8, meta tpx3.ChunkMetadata) {
	if len(words) == 0 {
		return
	}
	owned := make([]uint64, len(words))
	copy(owned, words)

	p.pendingMu.Lock()
	p.pending += int64(len(owned))
	p.pendingMu.Unlock()

	w := p.workers[int(chip)%len(p.workers)]
	w.tasks <- task{words: owned, chip: chip, meta: meta}
}

// SubmitWord enqueues a single word, used by the reorder emit path.
func (p *Pool) SubmitWord(word uint64, chip uint8, meta tpx3.ChunkMetadata) {
	p.SubmitBatch([]uint64{word}, chip, meta)
}

func (p *Pool) run(w *worker) {
	defer p.wg.Done()
	for t := range w.tasks {
		w.mu.Lock()
		for _, word := range t.words {
			p.decodeWord(w.part, word, t.chip, t.meta)
		}
		w.mu.Unlock()

		p.pendingMu.Lock()
		p.pending -= int64(len(t.words))
		if p.pending == 0 {
			p.idleCond.Broadcast()
		}
		p.pendingMu.Unlock()
	}
}

// decodeWord handles the common-path packets (pixel, TDC) against the
// worker's partial stats; everything else falls back to the inline
// path, which uses the aggregator's incrementers directly.
func (p *Pool) decodeWord(part *stats.Partial, word uint64, chip uint8, meta tpx3.ChunkMetadata) {
	switch ft := tpx3.FullType(word); ft {
	case tpx3.TypeGlobalTimeLow, tpx3.TypeGlobalTimeHi,
		tpx3.TypeSpidrPacketID, tpx3.TypeTpx3Control,
		tpx3.TypeExtraTS, tpx3.TypeExtraTSMPX3:
		p.decodeInline(word, chip)
		return
	}

	nibble := tpx3.TypeNibble(word)
	switch nibble {
	case tpx3.TypePixelCountFB, tpx3.TypePixelStandard:
		part.IncrementPacketType(nibble)
		part.AddBytes(stats.CategoryPixel, 8)
		hit, err := tpx3.DecodePixel(word, chip)
		if err != nil {
			part.DecodeErrors++
			p.logDecodeError(&p.pixelErrs, "pixel decode failed", err)
			return
		}
		if meta.Valid {
			tpx3.ExtendHit(&hit, meta.MinTimestamp)
		}
		part.AddHit(hit)

	case tpx3.TypeTDC:
		part.IncrementPacketType(nibble)
		part.AddBytes(stats.CategoryTDC, 8)
		ev, err := tpx3.DecodeTDC(word)
		if err != nil {
			part.DecodeErrors++
			var fe *tpx3.InvalidFractionalError
			if errors.As(err, &fe) {
				part.FractionalErrors++
				p.logDecodeError(&p.fracErrs, "TDC fine timestamp out of range", err)
			} else {
				p.logDecodeError(&p.tdcErrs, "TDC decode failed", err)
			}
			return
		}
		part.AddTDC(ev, chip)

	default:
		p.decodeInline(word, chip)
	}
}

// decodeInline decodes the rare packet types directly against the
// shared aggregator.
func (p *Pool) decodeInline(word uint64, chip uint8) {
	nibble := tpx3.TypeNibble(word)

	switch ft := tpx3.FullType(word); ft {
	case tpx3.TypeGlobalTimeLow, tpx3.TypeGlobalTimeHi:
		// Global time words are tallied but not applied; absolute time
		// reconstruction is out of scope.
		p.agg.IncrementPacketType(nibble)
		p.agg.AddPacketBytes(stats.CategoryGlobalTime, 8)
		return

	case tpx3.TypeSpidrPacketID:
		p.agg.IncrementPacketType(nibble)
		p.agg.AddPacketBytes(stats.CategorySpidrID, 8)
		return

	case tpx3.TypeTpx3Control:
		p.agg.IncrementPacketType(nibble)
		p.agg.AddPacketBytes(stats.CategoryTpx3Ctl, 8)
		if _, ok := tpx3.DecodeControl(word); ok {
			p.agg.IncrementControlPacket()
		}
		return

	case tpx3.TypeExtraTS, tpx3.TypeExtraTSMPX3:
		// An extra timestamp outside the chunk trailer position carries
		// no metadata; tally its bytes only.
		p.agg.IncrementPacketType(nibble)
		p.agg.AddPacketBytes(stats.CategoryExtraTS, 8)
		return
	}

	if nibble == tpx3.TypeSpidrControl {
		p.agg.IncrementPacketType(nibble)
		p.agg.AddPacketBytes(stats.CategorySpidrCtl, 8)
		if _, ok := tpx3.DecodeSpidrControl(word); ok {
			p.agg.IncrementControlPacket()
		}
		return
	}

	p.agg.IncrementPacketType(nibble)
	p.agg.IncrementUnknownPacket()
	p.agg.AddPacketBytes(stats.CategoryUnknown(tpx3.FullType(word)), 8)
}

func (p *Pool) logDecodeError(counter *atomic.Uint64, msg string, err error) {
	if counter.Add(1) <= errLogLimit {
		p.log.Warn(msg, "error", err)
	}
}

// WaitUntilIdle blocks until every submitted word has been decoded,
// then merges all worker partials into the aggregator.
func (p *Pool) WaitUntilIdle() {
	p.pendingMu.Lock()
	for p.pending != 0 {
		p.idleCond.Wait()
	}
	p.pendingMu.Unlock()
	p.MergeAll()
}

// MergeAll drains every worker's partial stats into the aggregator.
// Called at periodic stats points, on WaitUntilIdle, and at shutdown.
func (p *Pool) MergeAll() {
	for _, w := range p.workers {
		w.mu.Lock()
		p.agg.Merge(w.part)
		w.mu.Unlock()
	}
}

// Stop closes the task queues, joins the workers, and performs the
// final merge. No Submit may be called after Stop.
func (p *Pool) Stop() {
	for _, w := range p.workers {
		close(w.tasks)
	}
	p.wg.Wait()
	p.MergeAll()
}
