// Package reorder restores ascending sequence order for SPIDR packet-ID
// words within a chunk, buffering out-of-order arrivals up to a bounded
// window and accounting for anything the window cannot absorb.
package reorder

import "sort"

// DefaultWindow is the default maximum number of buffered packets.
const DefaultWindow = 1000

// EmitFunc receives packets as the buffer releases them in order.
type EmitFunc func(word, packetID, chunkID uint64)

// Stats counts the buffer's dispositions. Every packet handed to
// Process lands in exactly one of immediate, reordered, dropped-too-old,
// or buffer overflow (BufferOverflows counts both ahead-of-sequence
// packets emitted as a bypass and late packets dropped on a full buffer).
type Stats struct {
	PacketsReordered   uint64 `json:"packetsReordered"`
	PacketsImmediate   uint64 `json:"packetsImmediate"`
	MaxReorderDistance uint64 `json:"maxReorderDistance"`
	BufferOverflows    uint64 `json:"bufferOverflows"`
	DroppedTooOld      uint64 `json:"droppedTooOld"`
	TotalPackets       uint64 `json:"totalPackets"`
}

type entry struct {
	word    uint64
	chunkID uint64
}

// Buffer is a chunk-scoped packet reorderer. It is owned by the framer
// goroutine and is not safe for concurrent use.
type Buffer struct {
	maxSize    int
	chunkAware bool

	nextExpected  uint64
	oldestAllowed uint64
	currentChunk  uint64
	firstSeen     bool

	pending map[uint64]entry
	stats   Stats
}

// New creates a Buffer holding at most maxSize out-of-order packets.
// A maxSize <= 0 falls back to DefaultWindow. When chunkAware is set,
// sequence state resets at every chunk boundary.
func New(maxSize int, chunkAware bool) *Buffer {
	if maxSize <= 0 {
		maxSize = DefaultWindow
	}
	return &Buffer{
		maxSize:    maxSize,
		chunkAware: chunkAware,
		pending:    make(map[uint64]entry),
	}
}

// Process accepts one packet and either emits it (possibly together
// with buffered successors), buffers it, or drops it. It reports
// whether the packet was emitted immediately in order.
func (b *Buffer) Process(word, packetID, chunkID uint64, emit EmitFunc) bool {
	b.stats.TotalPackets++

	if b.chunkAware && chunkID != b.currentChunk && chunkID > 0 {
		b.Flush(emit)
		b.ResetForNewChunk(chunkID)
	}

	// Fast path: in-order packet.
	if !b.firstSeen || packetID == b.nextExpected {
		b.firstSeen = true
		b.nextExpected = packetID + 1
		b.updateOldestAllowed()
		b.stats.PacketsImmediate++
		emit(word, packetID, chunkID)
		return true
	}

	// Too old to ever recover order.
	if packetID < b.oldestAllowed {
		b.stats.DroppedTooOld++
		return false
	}

	if packetID > b.nextExpected {
		// Ahead of expected: buffer until the gap fills.
		if d := packetID - b.nextExpected; d > b.stats.MaxReorderDistance {
			b.stats.MaxReorderDistance = d
		}
		if len(b.pending) >= b.maxSize {
			b.stats.BufferOverflows++
			emit(word, packetID, chunkID) // bypass, order lost
			return false
		}
		b.pending[packetID] = entry{word: word, chunkID: chunkID}
		b.stats.PacketsReordered++
		b.releaseConsecutive(emit)
		return false
	}

	// Late arrival within the window.
	if d := b.nextExpected - packetID - 1; d > b.stats.MaxReorderDistance {
		b.stats.MaxReorderDistance = d
	}
	if len(b.pending) >= b.maxSize {
		b.stats.BufferOverflows++
		return false // a late packet cannot recover order; drop it
	}
	b.pending[packetID] = entry{word: word, chunkID: chunkID}
	b.stats.PacketsReordered++
	b.releaseConsecutive(emit)
	return false
}

func (b *Buffer) releaseConsecutive(emit EmitFunc) {
	for {
		e, ok := b.pending[b.nextExpected]
		if !ok {
			return
		}
		id := b.nextExpected
		delete(b.pending, id)
		emit(e.word, id, e.chunkID)
		b.nextExpected++
		b.updateOldestAllowed()
	}
}

// Flush emits every buffered packet in ascending packet-ID order, even
// across gaps, then clears the buffer and sequence state.
func (b *Buffer) Flush(emit EmitFunc) {
	if len(b.pending) > 0 {
		ids := make([]uint64, 0, len(b.pending))
		for id := range b.pending {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			e := b.pending[id]
			emit(e.word, id, e.chunkID)
		}
		clear(b.pending)
	}

	b.firstSeen = false
	b.nextExpected = 0
	b.oldestAllowed = 0
}

// ResetForNewChunk clears the buffer and sequence state for a chunk
// boundary without emitting anything.
func (b *Buffer) ResetForNewChunk(chunkID uint64) {
	clear(b.pending)
	b.currentChunk = chunkID
	b.firstSeen = false
	b.nextExpected = 0
	b.oldestAllowed = 0
}

func (b *Buffer) updateOldestAllowed() {
	if b.nextExpected >= uint64(b.maxSize) {
		b.oldestAllowed = b.nextExpected - uint64(b.maxSize)
	} else {
		b.oldestAllowed = 0
	}
}

// Len returns the number of buffered out-of-order packets.
func (b *Buffer) Len() int { return len(b.pending) }

// Stats returns a copy of the buffer's counters.
func (b *Buffer) Stats() Stats { return b.stats }

// ResetStats zeroes the counters without touching buffered packets.
func (b *Buffer) ResetStats() { b.stats = Stats{} }
