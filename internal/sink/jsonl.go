package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/webants/webants/internal/request"
	"github.com/webants/webants/pkg/fileutil"
	"github.com/webants/webants/pkg/hashutil"
)

// JSONLSink appends one JSON object per line to a file whose name is
// derived deterministically from the output directory and spider
// name, so reruns append to (rather than fork) the same artifact.
type JSONLSink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

// NewJSONLSink opens (creating if necessary) outputDir/<spiderName
// hash>.jsonl for append.
func NewJSONLSink(outputDir, spiderName string) (*JSONLSink, error) {
	if err := fileutil.EnsureDir(outputDir); err != nil {
		return nil, fmt.Errorf("sink: jsonl: %w", err)
	}
	name, err := hashutil.HashBytes([]byte(spiderName), hashutil.HashAlgoBLAKE3)
	if err != nil {
		return nil, fmt.Errorf("sink: jsonl: %w", err)
	}
	path := filepath.Join(outputDir, name+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: jsonl: open %s: %w", path, err)
	}
	return &JSONLSink{file: f, enc: json.NewEncoder(f)}, nil
}

func (s *JSONLSink) Save(rec request.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc := fieldsToMap(rec)
	doc["_source_url"] = rec.SourceURL()
	doc["_spider"] = rec.SpiderName()
	doc["_status"] = rec.Status()
	doc["_crawl_time"] = rec.CrawlTime()
	return s.enc.Encode(doc)
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

var _ Sink = (*JSONLSink)(nil)
