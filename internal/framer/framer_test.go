package framer

import (
	"encoding/binary"
	"testing"

	"github.com/zsiec/tpx3d/internal/dispatch"
	"github.com/zsiec/tpx3d/internal/reorder"
	"github.com/zsiec/tpx3d/internal/stats"
	"github.com/zsiec/tpx3d/internal/tpx3"
)

// recorder is a Dispatcher that captures every submitted word in order.
type recorder struct {
	words []uint64
	chips []uint8
	metas []tpx3.ChunkMetadata
}

func (r *recorder) SubmitBatch(ws []uint64, chip uint8, meta tpx3.ChunkMetadata) {
	for _, w := range ws {
		r.SubmitWord(w, chip, meta)
	}
}

func (r *recorder) SubmitWord(w uint64, chip uint8, meta tpx3.ChunkMetadata) {
	r.words = append(r.words, w)
	r.chips = append(r.chips, chip)
	r.metas = append(r.metas, meta)
}

// headerWord builds a chunk header covering sizeWords words including
// itself.
func headerWord(sizeWords int, chip uint8) uint64 {
	return uint64(sizeWords*8)<<48 | uint64(chip)<<32 | tpx3.Magic
}

func pixelWord(spidr uint64) uint64 {
	return uint64(0xB)<<60 | uint64(0xA56)<<44 | uint64(0x111)<<30 | uint64(10)<<20 | spidr
}

func extraTSWord(ts uint64) uint64 {
	return uint64(0x51)<<56 | ts
}

func spidrIDWord(id uint64) uint64 {
	return uint64(0x50)<<56 | id
}

func stream(words ...uint64) []byte {
	buf := make([]byte, 8*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint64(buf[8*i:], w)
	}
	return buf
}

func TestMidStreamStart(t *testing.T) {
	t.Parallel()
	agg := stats.NewAggregator(0)
	rec := &recorder{}
	f := New(agg, rec, nil, nil)

	junk := pixelWord(1) // valid-looking payload, but no header yet
	f.Process(stream(
		junk, junk, junk,
		headerWord(3, 2), // header + 2 payload words
		pixelWord(2), pixelWord(3),
	))
	f.Close()

	s := agg.Snapshot()
	if !s.StartedMidStream {
		t.Error("StartedMidStream not set")
	}
	if got := s.ByteAccounting[stats.CategoryUnassigned]; got != 24 {
		t.Errorf("unassigned bytes = %d, want 24", got)
	}
	if got := s.ByteAccounting[stats.CategoryChunkHeader]; got != 8 {
		t.Errorf("chunk header bytes = %d, want 8", got)
	}
	if len(rec.words) != 2 {
		t.Fatalf("dispatched %d words, want 2", len(rec.words))
	}
	if rec.chips[0] != 2 || rec.chips[1] != 2 {
		t.Errorf("chips = %v, want chip 2", rec.chips)
	}
	if s.TotalChunks != 1 {
		t.Errorf("TotalChunks = %d, want 1", s.TotalChunks)
	}
}

func TestExtraTimestampTrailer(t *testing.T) {
	t.Parallel()
	agg := stats.NewAggregator(0)
	rec := &recorder{}
	f := New(agg, rec, nil, nil)

	// header + 1 pixel + 3 extra timestamps = 5 words.
	f.Process(stream(
		headerWord(5, 0),
		pixelWord(1),
		extraTSWord(1000), // packet generation time
		extraTSWord(2000), // minimum timestamp
		extraTSWord(3000), // maximum timestamp
	))
	f.Close()

	s := agg.Snapshot()
	if s.MetadataChunks != 1 {
		t.Errorf("MetadataChunks = %d, want 1", s.MetadataChunks)
	}
	if got := s.ByteAccounting[stats.CategoryExtraTS]; got != 24 {
		t.Errorf("extra timestamp bytes = %d, want 24", got)
	}
	if len(rec.words) != 1 {
		t.Fatalf("dispatched %d words, want 1 pixel", len(rec.words))
	}
	// The pixel batch flushed before the trailer completed, so its
	// metadata snapshot is still invalid.
	if rec.metas[0].Valid {
		t.Error("pixel batch should carry pre-trailer metadata")
	}
}

func TestMetadataResetsOnNewChunk(t *testing.T) {
	t.Parallel()
	agg := stats.NewAggregator(0)
	rec := &recorder{}
	f := New(agg, rec, nil, nil)

	f.Process(stream(
		headerWord(4, 0),
		extraTSWord(1), extraTSWord(2), extraTSWord(3),
		headerWord(2, 1),
		pixelWord(7),
	))
	f.Close()

	if len(rec.words) != 1 {
		t.Fatalf("dispatched %d words, want 1", len(rec.words))
	}
	if rec.metas[0].Valid {
		t.Error("metadata must reset at the next chunk header")
	}
	if rec.chips[0] != 1 {
		t.Errorf("chip = %d, want 1", rec.chips[0])
	}
}

func TestSplitWordAcrossBuffers(t *testing.T) {
	t.Parallel()
	agg := stats.NewAggregator(0)
	rec := &recorder{}
	f := New(agg, rec, nil, nil)

	full := stream(headerWord(3, 0), pixelWord(1), pixelWord(2))
	for _, cut := range []int{1, 5, 7} {
		f.Process(full[:cut])
		f.Process(full[cut:])

		if len(rec.words) != 2 {
			t.Fatalf("cut %d: dispatched %d words, want 2", cut, len(rec.words))
		}
		rec.words = rec.words[:0]
		rec.chips = rec.chips[:0]
		rec.metas = rec.metas[:0]
	}
	f.Close()

	s := agg.Snapshot()
	if s.BytesDroppedIncomplete != 0 {
		t.Errorf("BytesDroppedIncomplete = %d, want 0", s.BytesDroppedIncomplete)
	}
}

func TestTrailingPartialWordDropped(t *testing.T) {
	t.Parallel()
	agg := stats.NewAggregator(0)
	f := New(agg, &recorder{}, nil, nil)

	buf := stream(headerWord(2, 0), pixelWord(1))
	f.Process(append(buf, 0xAA, 0xBB, 0xCC))
	f.Close()

	s := agg.Snapshot()
	if s.BytesDroppedIncomplete != 3 {
		t.Errorf("BytesDroppedIncomplete = %d, want 3", s.BytesDroppedIncomplete)
	}
}

func TestMalformedChunkHeader(t *testing.T) {
	t.Parallel()
	agg := stats.NewAggregator(0)
	rec := &recorder{}
	f := New(agg, rec, nil, nil)

	bad := uint64(12)<<48 | tpx3.Magic // size not a multiple of 8
	f.Process(stream(bad))
	f.Close()

	s := agg.Snapshot()
	if s.TotalDecodeErrors != 1 {
		t.Errorf("TotalDecodeErrors = %d, want 1", s.TotalDecodeErrors)
	}
	if s.TotalChunks != 0 {
		t.Errorf("TotalChunks = %d, want 0", s.TotalChunks)
	}
}

func TestReorderedSpidrIDs(t *testing.T) {
	t.Parallel()
	agg := stats.NewAggregator(0)
	rec := &recorder{}
	rb := reorder.New(8, true)
	f := New(agg, rec, rb, nil)

	f.Process(stream(
		headerWord(4, 0),
		spidrIDWord(0),
		spidrIDWord(2),
		spidrIDWord(1),
	))
	f.Close()

	want := []uint64{spidrIDWord(0), spidrIDWord(1), spidrIDWord(2)}
	if len(rec.words) != len(want) {
		t.Fatalf("dispatched %v, want %v", rec.words, want)
	}
	for i := range want {
		if rec.words[i] != want[i] {
			t.Fatalf("dispatched %v, want %v", rec.words, want)
		}
	}

	s := agg.Snapshot()
	if s.Reorder.TotalPackets != 3 {
		t.Errorf("reorder TotalPackets = %d, want 3", s.Reorder.TotalPackets)
	}
	if s.Reorder.PacketsReordered == 0 {
		t.Error("reorder stats not mirrored into the aggregate")
	}
}

// TestByteAccountingConservation runs the framer against the real
// worker pool and checks that every processed word's bytes land in
// exactly one category.
func TestByteAccountingConservation(t *testing.T) {
	t.Parallel()
	agg := stats.NewAggregator(10)
	pool := dispatch.NewPool(2, agg, 10, nil)
	f := New(agg, pool, nil, nil)

	tdc := uint64(0x6)<<60 | uint64(0xF)<<56 | uint64(0x100)<<9 | uint64(3)<<5
	unknown := uint64(0x9) << 60
	globalTime := uint64(0x44)<<56 | uint64(12345)<<16

	words := []uint64{
		pixelWord(99), // before any header: unassigned
		headerWord(7, 1),
		pixelWord(1),
		tdc,
		globalTime,
		unknown,
		spidrIDWord(5), // no reorder buffer: decoded by the pool
		extraTSWord(10),
		headerWord(2, 0),
		pixelWord(2),
	}
	f.Process(stream(words...))
	f.Close()
	pool.WaitUntilIdle()
	pool.Stop()

	s := agg.Snapshot()
	var sum uint64
	for _, v := range s.ByteAccounting {
		sum += v
	}
	wantTotal := uint64(8 * len(words))
	if sum != s.TotalBytesAccounted {
		t.Errorf("category sum %d != total %d", sum, s.TotalBytesAccounted)
	}
	if s.TotalBytesAccounted != wantTotal {
		t.Errorf("TotalBytesAccounted = %d, want %d (%v)", s.TotalBytesAccounted, wantTotal, s.ByteAccounting)
	}

	if s.TotalHits != 2 {
		t.Errorf("TotalHits = %d, want 2", s.TotalHits)
	}
	if s.TotalTDCEvents != 1 {
		t.Errorf("TotalTDCEvents = %d, want 1", s.TotalTDCEvents)
	}
	if s.TotalUnknownPackets != 1 {
		t.Errorf("TotalUnknownPackets = %d, want 1", s.TotalUnknownPackets)
	}
	if s.TotalChunks != 2 {
		t.Errorf("TotalChunks = %d, want 2", s.TotalChunks)
	}
}
