// tpx3-capture records the raw SPIDR byte stream to a file without
// decoding it. A lock-free ring buffer decouples the network reader
// from disk writes, and the output stays 64-bit word aligned so the
// capture can be replayed through tpx3d or tpx3-dump.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zsiec/tpx3d/internal/ringbuf"
)

const (
	readBufferSize  = 64 * 1024
	writeChunkSize  = 64 * 1024
	drainPollPeriod = time.Millisecond
)

func main() {
	host := flag.String("host", "127.0.0.1", "SPIDR module host")
	port := flag.Int("port", 8085, "SPIDR module raw data port")
	output := flag.String("output", "tpx3-capture.raw", "capture file path")
	bufferMB := flag.Int("buffer-mb", 64, "ring buffer size in MiB")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("received signal, stopping capture")
		cancel()
	}()

	if err := capture(ctx, fmt.Sprintf("%s:%d", *host, *port), *output, *bufferMB); err != nil {
		slog.Error("capture failed", "error", err)
		os.Exit(1)
	}
}

func capture(ctx context.Context, addr, output string, bufferMB int) error {
	out, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create capture file: %w", err)
	}
	defer out.Close()

	dialer := net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()
	slog.Info("connected", "addr", addr, "output", output)

	ring := ringbuf.New(bufferMB * 1024 * 1024)

	var readerDone = make(chan error, 1)
	var bytesDropped uint64

	// Producer: socket -> ring. Bytes that do not fit are dropped so
	// the reader never blocks on disk.
	go func() {
		buf := make([]byte, readBufferSize)
		for {
			if ctx.Err() != nil {
				readerDone <- nil
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(time.Second))
			n, err := conn.Read(buf)
			if n > 0 {
				w := ring.Write(buf[:n])
				bytesDropped += uint64(n - w)
			}
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					continue
				}
				if errors.Is(err, io.EOF) {
					readerDone <- nil
				} else {
					readerDone <- err
				}
				return
			}
		}
	}()

	// Consumer: ring -> file, holding back any trailing partial word so
	// the capture stays word aligned.
	var (
		written  uint64
		chunk    = make([]byte, writeChunkSize)
		carry    []byte
		draining bool
	)
	for {
		n := ring.Read(chunk)
		if n == 0 {
			if draining {
				break
			}
			select {
			case err := <-readerDone:
				if err != nil {
					return fmt.Errorf("read stream: %w", err)
				}
				draining = true // flush whatever is left in the ring
			case <-time.After(drainPollPeriod):
			}
			continue
		}

		data := append(carry, chunk[:n]...)
		aligned := len(data) / 8 * 8
		if _, err := out.Write(data[:aligned]); err != nil {
			return fmt.Errorf("write capture file: %w", err)
		}
		written += uint64(aligned)
		carry = append(carry[:0], data[aligned:]...)
	}

	slog.Info("capture finished",
		"bytes_written", written,
		"bytes_dropped", bytesDropped,
		"partial_word_bytes", len(carry))
	return nil
}
