// tpx3d decodes the raw 64-bit word stream of a Timepix3 detector read
// out through a SPIDR module, either live from the module's TCP port or
// from a capture file, and reports pixel-hit and TDC statistics in real
// time.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tpx3d/internal/certs"
	"github.com/zsiec/tpx3d/internal/dispatch"
	"github.com/zsiec/tpx3d/internal/framer"
	"github.com/zsiec/tpx3d/internal/ingest"
	"github.com/zsiec/tpx3d/internal/monitor"
	"github.com/zsiec/tpx3d/internal/reorder"
	"github.com/zsiec/tpx3d/internal/stats"
)

var version = "dev"

// popTimeout is how long the framer loop waits on the ingest queue
// before re-checking the stop condition.
const popTimeout = 100 * time.Millisecond

type config struct {
	host      string
	port      int
	inputFile string

	reorderEnable bool
	reorderWindow int

	statsIntervalPackets uint64
	statsTimeSeconds     int
	statsFinalOnly       bool
	statsDisable         bool

	recentHitCount   int
	decoderWorkers   int
	queueSize        int
	exitOnDisconnect bool

	monitorAddr string
}

func main() {
	var cfg config
	flag.StringVar(&cfg.host, "host", "127.0.0.1", "SPIDR module host")
	flag.IntVar(&cfg.port, "port", 8085, "SPIDR module raw data port")
	flag.StringVar(&cfg.inputFile, "input-file", "", "decode this file instead of connecting")
	flag.BoolVar(&cfg.reorderEnable, "reorder", false, "reorder SPIDR packet-ID words by sequence number")
	flag.IntVar(&cfg.reorderWindow, "reorder-window", reorder.DefaultWindow, "reorder buffer window in packets")
	flag.Uint64Var(&cfg.statsIntervalPackets, "stats-interval-packets", 1000, "print statistics every N words (0 disables)")
	flag.IntVar(&cfg.statsTimeSeconds, "stats-time-seconds", 10, "print statistics every N seconds (0 disables)")
	flag.BoolVar(&cfg.statsFinalOnly, "stats-final-only", false, "print statistics only at shutdown")
	flag.BoolVar(&cfg.statsDisable, "stats-disable", false, "disable statistics printing entirely")
	flag.IntVar(&cfg.recentHitCount, "recent-hit-count", stats.DefaultRecentHits, "recent hits kept for the final report (0 disables)")
	flag.IntVar(&cfg.decoderWorkers, "decoder-workers", 0, "decode workers (0 = auto)")
	flag.IntVar(&cfg.queueSize, "queue-size", ingest.DefaultQueueSize, "ingest queue capacity in buffers")
	flag.BoolVar(&cfg.exitOnDisconnect, "exit-on-disconnect", false, "exit when the module closes the connection")
	flag.StringVar(&cfg.monitorAddr, "monitor-addr", "", "serve the statistics API on this address (empty disables)")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if cfg.port < 1 || cfg.port > 65535 {
		slog.Error("invalid port", "port", cfg.port)
		os.Exit(1)
	}

	a := newApp(cfg)

	var err error
	if cfg.inputFile != "" {
		err = a.runFile(cfg.inputFile)
	} else {
		err = a.runStream(fmt.Sprintf("%s:%d", cfg.host, cfg.port))
	}
	if err != nil {
		slog.Error("tpx3d failed", "error", err)
		os.Exit(1)
	}
}

type app struct {
	cfg  config
	agg  *stats.Aggregator
	pool *dispatch.Pool
	fr   *framer.Framer

	wordsSinceReport uint64
	lastReport       time.Time
}

func newApp(cfg config) *app {
	agg := stats.NewAggregator(cfg.recentHitCount)

	workers := cfg.decoderWorkers
	if workers <= 0 {
		if cfg.inputFile != "" {
			workers = dispatch.FileWorkers
		} else {
			workers = dispatch.StreamWorkers()
		}
	}
	pool := dispatch.NewPool(workers, agg, cfg.recentHitCount, nil)

	var rb *reorder.Buffer
	if cfg.reorderEnable {
		rb = reorder.New(cfg.reorderWindow, true)
	}

	slog.Info("tpx3d starting", "version", version,
		"workers", workers, "reorder", cfg.reorderEnable)

	return &app{
		cfg:        cfg,
		agg:        agg,
		pool:       pool,
		fr:         framer.New(agg, pool, rb, nil),
		lastReport: time.Now(),
	}
}

// runFile decodes a capture file with the framer inline on this
// goroutine.
func (a *app) runFile(path string) error {
	err := ingest.StreamFile(path, func(buf []byte) {
		a.fr.Process(buf)
		a.maybeReport(uint64(len(buf) / 8))
	})
	if err != nil {
		return err
	}

	a.shutdown(nil)
	return nil
}

// runStream connects to the SPIDR module and runs the concurrent
// pipeline: network producer -> queue -> framer -> decode workers.
func (a *app) runStream(addr string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	queue := ingest.NewQueue(a.cfg.queueSize)
	client := ingest.NewClient(addr, queue, a.cfg.exitOnDisconnect, nil)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer queue.Stop() // wake the framer for final drain
		return client.Run(ctx)
	})

	g.Go(func() error {
		// Cancelling here releases the monitor server once the stream
		// has fully drained (e.g. exit-on-disconnect).
		defer cancel()
		for {
			buf, ok := queue.Pop(popTimeout)
			if !ok {
				if queue.Stopped() && queue.Len() == 0 {
					return nil
				}
				a.maybeReport(0)
				continue
			}
			a.fr.Process(buf)
			a.maybeReport(uint64(len(buf) / 8))
		}
	})

	if a.cfg.monitorAddr != "" {
		cert, err := certs.Generate(14 * 24 * time.Hour)
		if err != nil {
			return err
		}
		srv := monitor.NewServer(a.cfg.monitorAddr, a.agg, client.Stats, cert, nil)
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	err := g.Wait()
	a.shutdown(queue)
	return err
}

// maybeReport prints the periodic statistics report when either the
// word-count or wall-time cadence has elapsed.
func (a *app) maybeReport(words uint64) {
	if a.cfg.statsDisable || a.cfg.statsFinalOnly {
		return
	}

	a.wordsSinceReport += words
	due := false
	if a.cfg.statsIntervalPackets > 0 && a.wordsSinceReport >= a.cfg.statsIntervalPackets {
		due = true
	}
	if a.cfg.statsTimeSeconds > 0 &&
		time.Since(a.lastReport) >= time.Duration(a.cfg.statsTimeSeconds)*time.Second {
		due = true
	}
	if !due {
		return
	}

	a.wordsSinceReport = 0
	a.lastReport = time.Now()
	a.pool.MergeAll()
	fmt.Println(stats.Format(a.agg.Snapshot()))
}

// shutdown drains in-flight work and prints the final report. The
// aggregator lock is never held while printing.
func (a *app) shutdown(queue *ingest.Queue) {
	a.fr.Close()
	a.pool.WaitUntilIdle()
	a.pool.Stop()
	if queue != nil {
		a.agg.SetDroppedBuffers(queue.Dropped())
	}
	a.agg.FinalizeRates()

	if !a.cfg.statsDisable {
		fmt.Println(stats.Format(a.agg.Snapshot()))
		printRecentHits(a.agg)
	}
}

func printRecentHits(agg *stats.Aggregator) {
	hits := agg.RecentHits()
	if len(hits) == 0 {
		return
	}
	fmt.Printf("=== Recent Hits (last %d) ===\n", len(hits))
	for _, h := range hits {
		mode := "standard"
		if h.CountFB {
			mode = "count_fb"
		}
		fmt.Printf("Chip %d, X=%d, Y=%d, ToA=%d ticks, ToT=%d ns [%s]\n",
			h.ChipIndex, h.X, h.Y, h.ToATicks, h.ToTNs, mode)
	}
}
