// Package ioformat reads the three MATSim-style XML input files (network,
// population, vehicles), transparently un-gzipping ".xml.gz" paths, and
// builds the pkg/network/pkg/agent/pkg/vehicles in-memory structures
// directly — there is no intermediate DOM, single-pass decoders throughout.
package ioformat

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"
)

// openMaybeGzip opens path for reading, transparently wrapping it in a
// gzip.Reader when the name ends in ".gz".
func openMaybeGzip(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ioformat: open %s: %w", path, err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ioformat: gzip %s: %w", path, err)
	}
	return gzipReadCloser{gz: gz, f: f}, nil
}

// gzipReadCloser closes both the gzip stream and the underlying file.
type gzipReadCloser struct {
	gz *gzip.Reader
	f  *os.File
}

func (g gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }
func (g gzipReadCloser) Close() error {
	gzErr := g.gz.Close()
	fErr := g.f.Close()
	if gzErr != nil {
		return gzErr
	}
	return fErr
}
