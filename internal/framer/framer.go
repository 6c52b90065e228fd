// Package framer recovers chunk structure from the raw byte stream and
// routes each 64-bit word to the decode pipeline. It owns all framing
// state: chunk boundaries, the per-chunk extra-timestamp trailer, the
// SPIDR-ID reorder buffer, and the carry-over of split words between
// byte buffers.
package framer

import (
	"encoding/binary"
	"log/slog"

	"github.com/zsiec/tpx3d/internal/reorder"
	"github.com/zsiec/tpx3d/internal/stats"
	"github.com/zsiec/tpx3d/internal/tpx3"
)

// batchSize is the number of words buffered before a batch is submitted
// to the dispatcher.
const batchSize = 128

// chunkBatchEvery is how many chunk headers accumulate before the chunk
// counter is flushed to the aggregator in one locked step.
const chunkBatchEvery = 100

// trailerWindow is how close to the end of a chunk a word must be for
// an extra-timestamp type byte to count as chunk metadata.
const trailerWindow = 3

// Dispatcher receives classified words for decoding. dispatch.Pool
// implements it; tests substitute a recorder.
type Dispatcher interface {
	SubmitBatch(words []uint64, chip uint8, meta tpx3.ChunkMetadata)
	SubmitWord(word uint64, chip uint8, meta tpx3.ChunkMetadata)
}

// Framer is the single-goroutine framing state machine. It is owned by
// the framer goroutine and is not safe for concurrent use.
type Framer struct {
	log  *slog.Logger
	agg  *stats.Aggregator
	disp Dispatcher
	rb   *reorder.Buffer // nil when reordering is disabled

	leftover []byte // trailing 1..7 bytes of the previous buffer

	inChunk        bool
	wordsRemaining int
	chip           uint8
	currentChunkID uint64
	localChunks    uint64
	pendingChunks  uint64

	meta    tpx3.ChunkMetadata
	extraTS []tpx3.ExtraTimestamp

	sawHeader        bool
	midStreamFlagged bool

	batch []uint64
}

// New creates a Framer feeding disp and accounting into agg. rb may be
// nil to disable SPIDR-ID reordering. If log is nil, slog.Default() is
// used.
func New(agg *stats.Aggregator, disp Dispatcher, rb *reorder.Buffer, log *slog.Logger) *Framer {
	if log == nil {
		log = slog.Default()
	}
	return &Framer{
		log:     log.With("component", "framer"),
		agg:     agg,
		disp:    disp,
		rb:      rb,
		extraTS: make([]tpx3.ExtraTimestamp, 0, trailerWindow),
		batch:   make([]uint64, 0, batchSize),
	}
}

// Process consumes one byte buffer. Words split across buffer
// boundaries are carried over; a trailing partial word is held until
// the next call (or accounted as dropped by Close).
func (f *Framer) Process(buf []byte) {
	if len(f.leftover) > 0 {
		need := 8 - len(f.leftover)
		if len(buf) < need {
			f.leftover = append(f.leftover, buf...)
			f.finishBuffer()
			return
		}
		f.leftover = append(f.leftover, buf[:need]...)
		f.processWord(binary.LittleEndian.Uint64(f.leftover))
		f.leftover = f.leftover[:0]
		buf = buf[need:]
	}

	n := len(buf) / 8 * 8
	for off := 0; off < n; off += 8 {
		f.processWord(binary.LittleEndian.Uint64(buf[off:]))
	}
	if n < len(buf) {
		f.leftover = append(f.leftover, buf[n:]...)
	}

	f.finishBuffer()
}

func (f *Framer) processWord(word uint64) {
	if tpx3.IsChunkHeader(word) {
		f.startChunk(word)
		return
	}

	if !f.inChunk || f.wordsRemaining == 0 {
		if !f.sawHeader && !f.midStreamFlagged {
			f.agg.MarkMidStreamStart()
			f.midStreamFlagged = true
			f.log.Warn("stream started mid-chunk, discarding words until first header")
		}
		f.agg.AddPacketBytes(stats.CategoryUnassigned, 8)
		return
	}

	f.wordsRemaining--

	switch ft := tpx3.FullType(word); {
	case f.wordsRemaining <= trailerWindow && tpx3.IsExtraTimestamp(word):
		f.flushBatch()
		f.agg.AddPacketBytes(stats.CategoryExtraTS, 8)
		f.extraTS = append(f.extraTS, tpx3.DecodeExtraTimestamp(word))
		if len(f.extraTS) == trailerWindow {
			f.meta = tpx3.ChunkMetadata{
				PacketGenTime: f.extraTS[0].Timestamp,
				MinTimestamp:  f.extraTS[1].Timestamp,
				MaxTimestamp:  f.extraTS[2].Timestamp,
				Valid:         true,
			}
			f.agg.ProcessChunkMetadata(f.meta)
		}

	case ft == tpx3.TypeSpidrPacketID && f.rb != nil:
		f.flushBatch()
		if id, ok := tpx3.DecodeSpidrPacketID(word); ok {
			f.rb.Process(word, id, f.currentChunkID, f.emitReordered)
		} else {
			f.disp.SubmitWord(word, f.chip, f.meta)
		}

	default:
		f.batch = append(f.batch, word)
		if len(f.batch) >= batchSize {
			f.flushBatch()
		}
	}

	if f.wordsRemaining == 0 {
		f.inChunk = false
	}
}

// startChunk handles a header word: flush pending work, reset per-chunk
// state, and advance the local chunk counter.
func (f *Framer) startChunk(word uint64) {
	hdr := tpx3.DecodeChunkHeader(word)
	if hdr.SizeBytes%8 != 0 || hdr.SizeBytes < 8 {
		// A header word must describe at least itself in whole words.
		f.agg.IncrementDecodeError()
		f.agg.AddPacketBytes(stats.CategoryUnassigned, 8)
		f.log.Warn("malformed chunk header", "size_bytes", hdr.SizeBytes)
		return
	}

	f.flushBatch()
	if f.rb != nil {
		// Drain buffered packets while the outgoing chunk's chip index
		// and metadata still apply.
		f.rb.Flush(f.emitReordered)
	}
	f.agg.AddPacketBytes(stats.CategoryChunkHeader, 8)

	f.inChunk = true
	f.sawHeader = true
	f.wordsRemaining = hdr.Words() - 1 // the header counts toward its own size
	f.chip = hdr.ChipIndex

	f.localChunks++
	f.currentChunkID = f.localChunks
	f.pendingChunks++
	if f.pendingChunks >= chunkBatchEvery {
		f.agg.IncrementChunkCountBatch(f.pendingChunks)
		f.pendingChunks = 0
	}

	f.meta = tpx3.ChunkMetadata{}
	f.extraTS = f.extraTS[:0]

	if f.rb != nil {
		f.rb.ResetForNewChunk(f.currentChunkID)
	}
}

func (f *Framer) emitReordered(word, _, _ uint64) {
	f.disp.SubmitWord(word, f.chip, f.meta)
}

func (f *Framer) flushBatch() {
	if len(f.batch) == 0 {
		return
	}
	f.disp.SubmitBatch(f.batch, f.chip, f.meta)
	f.batch = f.batch[:0]
}

// finishBuffer runs the end-of-buffer bookkeeping: flush the word
// batch, fold pending chunk counts, and mirror reorder stats.
func (f *Framer) finishBuffer() {
	f.flushBatch()
	if f.pendingChunks > 0 {
		f.agg.IncrementChunkCountBatch(f.pendingChunks)
		f.pendingChunks = 0
	}
	if f.rb != nil {
		f.agg.UpdateReorderStats(f.rb.Stats())
	}
}

// Close flushes all framing state at end of stream. Any buffered
// reordered packets are emitted in order and a trailing partial word is
// accounted as dropped.
func (f *Framer) Close() {
	if f.rb != nil {
		f.rb.Flush(f.emitReordered)
	}
	f.finishBuffer()
	if n := len(f.leftover); n > 0 {
		f.agg.AddBytesDroppedIncomplete(uint64(n))
		f.leftover = f.leftover[:0]
	}
}
