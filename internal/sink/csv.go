package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/webants/webants/internal/request"
	"github.com/webants/webants/pkg/fileutil"
	"github.com/webants/webants/pkg/hashutil"
)

// CSVSink writes Records to a single CSV file. The header row is
// fixed on the first Save call from that Record's field names, sorted
// for determinism; later Records with different field sets have
// missing columns written empty and extra columns dropped (CSV has no
// way to widen a header mid-file).
type CSVSink struct {
	mu      sync.Mutex
	file    *os.File
	w       *csv.Writer
	columns []string
}

// NewCSVSink opens (creating if necessary) a deterministically-named
// CSV file under outputDir for spiderName.
func NewCSVSink(outputDir, spiderName string) (*CSVSink, error) {
	if err := fileutil.EnsureDir(outputDir); err != nil {
		return nil, fmt.Errorf("sink: csv: %w", err)
	}
	name, err := hashutil.HashBytes([]byte(spiderName), hashutil.HashAlgoBLAKE3)
	if err != nil {
		return nil, fmt.Errorf("sink: csv: %w", err)
	}
	path := filepath.Join(outputDir, name+".csv")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: csv: open %s: %w", path, err)
	}
	return &CSVSink{file: f, w: csv.NewWriter(f)}, nil
}

func (s *CSVSink) Save(rec request.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := fieldsToMap(rec)
	doc["_source_url"] = rec.SourceURL()
	doc["_spider"] = rec.SpiderName()
	doc["_status"] = rec.Status()

	if s.columns == nil {
		cols := make([]string, 0, len(doc))
		for k := range doc {
			cols = append(cols, k)
		}
		sort.Strings(cols)
		s.columns = cols
		if err := s.w.Write(cols); err != nil {
			return fmt.Errorf("sink: csv: write header: %w", err)
		}
	}

	row := make([]string, len(s.columns))
	for i, col := range s.columns {
		if v, ok := doc[col]; ok {
			row[i] = fmt.Sprintf("%v", v)
		}
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("sink: csv: write row: %w", err)
	}
	return nil
}

func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.file.Close()
}

var _ Sink = (*CSVSink)(nil)
