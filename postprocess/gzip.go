package postprocess

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/QBayLogic/qbaymid/output"
)

// GzipExt is appended to the name of compressed copies.
const GzipExt = ".gz"

// Gzip adds a compressed copy next to every file with one of Exts. The
// compressed bytes depend only on the input; the gzip header carries no name
// or time.
type Gzip struct {
	Exts []string
}

// Name implements Processor.
func (*Gzip) Name() string { return "gzip" }

// Process implements Processor.
func (g *Gzip) Process(ctx context.Context, set *output.Set) error {
	for _, name := range set.Paths() {
		if strings.HasSuffix(name, GzipExt) || !hasExt(name, g.Exts) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		b, _ := set.Get(name)
		z, err := Compress(b)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		set.Put(name+GzipExt, z)
	}
	return nil
}

// Compress gzips b at the best compression level.
func Compress(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
