// Package stats accumulates decode telemetry for a TPX3 stream in a
// concurrency-safe manner and produces point-in-time Snapshots for the
// periodic report, the final summary, and the monitor API.
package stats

import (
	"fmt"
	"time"

	"github.com/zsiec/tpx3d/internal/reorder"
)

// MaxChips is the number of chips the per-chip fixed arrays cover. Hits
// from higher chip indices count in the global totals only.
const MaxChips = 4

// DefaultRecentHits is the default capacity of the recent-hit ring.
const DefaultRecentHits = 10

// rollingInterval is the minimum wall-clock time between rolling-rate
// updates.
const rollingInterval = time.Second

// hitRefreshEvery throttles rate refreshes on the hit path; TDC events
// are rare and refresh every time.
const hitRefreshEvery = 1000

// Byte-accounting category labels shared by the framer and the decode
// workers.
const (
	CategoryChunkHeader = "Chunk header"
	CategoryUnassigned  = "Unassigned (outside chunk)"
	CategoryPixel       = "Pixel data"
	CategoryTDC         = "TDC data"
	CategoryGlobalTime  = "Global time"
	CategorySpidrID     = "SPIDR packet ID"
	CategorySpidrCtl    = "SPIDR control"
	CategoryTpx3Ctl     = "TPX3 control"
	CategoryExtraTS     = "Extra timestamp"
)

// CategoryUnknown labels bytes of an unrecognized packet by its full
// type byte.
func CategoryUnknown(topByte uint8) string {
	return fmt.Sprintf("Unknown packet type (0x%02X)", topByte)
}

// ChipStats is the per-chip slice of a Snapshot.
type ChipStats struct {
	Hits         uint64  `json:"hits"`
	HitRateHz    float64 `json:"hitRateHz"`
	TDC1Events   uint64  `json:"tdc1Events"`
	TDC1RateHz   float64 `json:"tdc1RateHz"`
	TDC1MinTicks uint64  `json:"tdc1MinTicks"`
	TDC1MaxTicks uint64  `json:"tdc1MaxTicks"`
	Valid        bool    `json:"valid"`
}

// Snapshot is a consistent point-in-time view of all statistics,
// serializable as JSON for the monitor API.
type Snapshot struct {
	TotalHits             uint64 `json:"totalHits"`
	TotalChunks           uint64 `json:"totalChunks"`
	TotalTDCEvents        uint64 `json:"totalTdcEvents"`
	TotalTDC1Events       uint64 `json:"totalTdc1Events"`
	TotalTDC2Events       uint64 `json:"totalTdc2Events"`
	TotalControlPackets   uint64 `json:"totalControlPackets"`
	TotalDecodeErrors     uint64 `json:"totalDecodeErrors"`
	TotalFractionalErrors uint64 `json:"totalFractionalErrors"`
	TotalUnknownPackets   uint64 `json:"totalUnknownPackets"`
	MetadataChunks        uint64 `json:"metadataChunks"`

	PacketTypeCounts map[string]uint64 `json:"packetTypeCounts,omitempty"`

	Chips [MaxChips]ChipStats `json:"chips"`

	EarliestHitTicks  uint64 `json:"earliestHitTicks"`
	LatestHitTicks    uint64 `json:"latestHitTicks"`
	HitTicksValid     bool   `json:"hitTicksValid"`
	EarliestTDC1Ticks uint64 `json:"earliestTdc1Ticks"`
	LatestTDC1Ticks   uint64 `json:"latestTdc1Ticks"`
	TDC1TicksValid    bool   `json:"tdc1TicksValid"`

	HitRateHz            float64 `json:"hitRateHz"`
	CumulativeHitRateHz  float64 `json:"cumulativeHitRateHz"`
	TDCRateHz            float64 `json:"tdcRateHz"`
	CumulativeTDC1RateHz float64 `json:"cumulativeTdc1RateHz"`
	DataSpanSeconds      float64 `json:"dataSpanSeconds"`

	ByteAccounting         map[string]uint64 `json:"byteAccounting,omitempty"`
	TotalBytesAccounted    uint64            `json:"totalBytesAccounted"`
	BytesDroppedIncomplete uint64            `json:"bytesDroppedIncomplete"`

	Reorder reorder.Stats `json:"reorder"`

	StartedMidStream bool   `json:"startedMidStream,omitempty"`
	DroppedBuffers   uint64 `json:"droppedBuffers"`
	UptimeMs         int64  `json:"uptimeMs"`
}
