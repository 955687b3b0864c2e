package transactions

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mbd888/fraudscope/internal/syncutil"
	"github.com/mbd888/fraudscope/internal/traces"
)

// CSVStore is an append-only CSV log of scored transactions. The header is
// written when the file is created; later rows follow the existing header's
// column order.
type CSVStore struct {
	path string
}

// fileLocks serializes access per path, across every CSVStore in the
// process.
var fileLocks = syncutil.NewKeyedMutex()

// NewCSVStore creates a store writing to path. Nothing is created until the
// first Append.
func NewCSVStore(path string) *CSVStore {
	return &CSVStore{path: filepath.Clean(path)}
}

var _ Store = (*CSVStore)(nil)

// Path returns the log location.
func (s *CSVStore) Path() string { return s.path }

// Append writes rec as one CSV row.
func (s *CSVStore) Append(ctx context.Context, rec *Record) error {
	if rec == nil {
		return ErrNilRecord
	}
	_, span := traces.StartSpan(ctx, "transactions.Append", traces.TransactionID(rec.TransactionID))
	defer span.End()

	unlock, err := fileLocks.Lock(ctx, s.path)
	if err != nil {
		traces.Fail(span, err)
		return fmt.Errorf("wait for %s: %w", s.path, err)
	}
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		traces.Fail(span, err)
		return fmt.Errorf("create data dir: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640) // #nosec G304 -- operator-configured data path
	if err != nil {
		traces.Fail(span, err)
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}

	w := csv.NewWriter(f)
	columns := normalizeHeader(csvHeader)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
	} else {
		columns, err = readHeader(s.path)
		if err != nil {
			traces.Fail(span, err)
			return err
		}
	}

	row := make([]string, len(columns))
	for i, col := range columns {
		row[i] = fieldValue(rec, col)
	}
	if err := w.Write(row); err != nil {
		return fmt.Errorf("write row: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		traces.Fail(span, err)
		return fmt.Errorf("flush %s: %w", s.path, err)
	}
	return nil
}

// List reads every scored row. A missing log yields no rows.
func (s *CSVStore) List(ctx context.Context) ([]*Record, error) {
	unlock, err := fileLocks.Lock(ctx, s.path)
	if err != nil {
		return nil, fmt.Errorf("wait for %s: %w", s.path, err)
	}
	defer unlock()
	return readCSV(s.path, SourcePredicted)
}

// HistoricalTable reads the labelled dataset. Rows are cached until the file
// changes on disk; callers must treat returned records as read-only.
type HistoricalTable struct {
	path string

	mu      sync.Mutex
	rows    []*Record
	modTime time.Time
	size    int64
}

// NewHistoricalTable creates a reader for path.
func NewHistoricalTable(path string) *HistoricalTable {
	return &HistoricalTable{path: path}
}

var _ HistoricalSource = (*HistoricalTable)(nil)

// List returns the historical rows, or none when the file does not exist.
func (h *HistoricalTable) List(_ context.Context) ([]*Record, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	info, err := os.Stat(h.path)
	if os.IsNotExist(err) {
		h.rows, h.modTime, h.size = nil, time.Time{}, 0
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", h.path, err)
	}
	if h.rows != nil && info.ModTime().Equal(h.modTime) && info.Size() == h.size {
		return h.rows, nil
	}

	rows, err := readCSV(h.path, SourceHistorical)
	if err != nil {
		return nil, err
	}
	h.rows, h.modTime, h.size = rows, info.ModTime(), info.Size()
	return rows, nil
}
