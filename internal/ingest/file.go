package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// StreamFile reads path sequentially in readBufferSize chunks and hands
// each chunk to fn. It is the file-mode input path, where the framer
// runs inline on the caller's goroutine.
func StreamFile(path string, fn func([]byte)) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("ingest: open input file: %w", err)
	}
	defer f.Close()

	buf := make([]byte, readBufferSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			fn(buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("ingest: read input file: %w", err)
		}
	}
}
