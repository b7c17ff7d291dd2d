package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"ibharvest/internal/market"
	"ibharvest/internal/store"
)

// Header is the first row of every batch file.
var Header = []string{"time", "o", "h", "l", "c", "v"}

// Writer stores each batch as <dir>/<SYMBOL>_<yyyymmdd>_<rth>.csv.
type Writer struct {
	dir string
}

var _ store.BarSink = (*Writer)(nil)

func NewWriter(dir string) (*Writer, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("csv output dir cannot be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Writer{dir: dir}, nil
}

// Path returns the file a batch with key is written to.
func (w *Writer) Path(key store.BatchKey) string {
	return filepath.Join(w.dir, key.String()+".csv")
}

// WriteBatch replaces the file for key. The file is written to a temp name
// and renamed into place.
func (w *Writer) WriteBatch(ctx context.Context, key store.BatchKey, bars []market.Bar) (string, error) {
	if err := key.Validate(); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	path := w.Path(key)
	tmp, err := os.CreateTemp(w.dir, "."+key.String()+"-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	cw := csv.NewWriter(tmp)
	if err := cw.Write(Header); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", err
	}
	for _, b := range bars {
		row := []string{
			b.Time,
			b.Open.String(),
			b.High.String(),
			b.Low.String(),
			b.Close.String(),
			b.Volume.String(),
		}
		if err := cw.Write(row); err != nil {
			_ = tmp.Close()
			cleanup()
			return "", err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", err
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return "", fmt.Errorf("replace %s: %w", path, err)
	}
	return path, nil
}

// ReadBatch loads a batch file written by WriteBatch.
func ReadBatch(path string) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s: missing header", path)
	}
	out := make([]market.Bar, 0, len(rows)-1)
	for i, row := range rows[1:] {
		bar, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+2, err)
		}
		out = append(out, bar)
	}
	return out, nil
}
