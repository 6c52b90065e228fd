// tpx3-dump decodes TPX3 capture files offline and prints the decode
// summary for each: packet statistics, byte accounting, and the most
// recent pixel hits.
//
// Usage: tpx3-dump [OPTIONS] FILE1 [FILE2 ...]
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/zsiec/tpx3d/internal/dispatch"
	"github.com/zsiec/tpx3d/internal/framer"
	"github.com/zsiec/tpx3d/internal/ingest"
	"github.com/zsiec/tpx3d/internal/reorder"
	"github.com/zsiec/tpx3d/internal/stats"
)

func main() {
	hits := flag.Int("hits", 20, "number of trailing hits to print per file")
	useReorder := flag.Bool("reorder", false, "reorder SPIDR packet-ID words by sequence number")
	window := flag.Int("reorder-window", reorder.DefaultWindow, "reorder buffer window in packets")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: tpx3-dump [OPTIONS] FILE1 [FILE2 ...]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	for _, fname := range flag.Args() {
		if err := dump(fname, *hits, *useReorder, *window); err != nil {
			slog.Error("dump failed", "file", fname, "error", err)
			os.Exit(1)
		}
	}
}

func dump(fname string, hits int, useReorder bool, window int) error {
	agg := stats.NewAggregator(hits)
	pool := dispatch.NewPool(dispatch.FileWorkers, agg, hits, nil)

	var rb *reorder.Buffer
	if useReorder {
		rb = reorder.New(window, true)
	}
	fr := framer.New(agg, pool, rb, nil)

	err := ingest.StreamFile(fname, fr.Process)
	fr.Close()
	pool.WaitUntilIdle()
	pool.Stop()
	if err != nil {
		return err
	}

	agg.FinalizeRates()

	fmt.Printf("=== %s ===\n", fname)
	fmt.Print(stats.Format(agg.Snapshot()))

	recent := agg.RecentHits()
	if len(recent) > 0 {
		fmt.Printf("Recent hits (last %d):\n", len(recent))
		for _, h := range recent {
			mode := "standard"
			if h.CountFB {
				mode = "count_fb"
			}
			fmt.Printf("  chip=%d x=%3d y=%3d toa=%d ticks tot=%d ns [%s]\n",
				h.ChipIndex, h.X, h.Y, h.ToATicks, h.ToTNs, mode)
		}
	}
	fmt.Println()
	return nil
}
