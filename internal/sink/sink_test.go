package sink_test

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/webants/webants/internal/request"
	"github.com/webants/webants/internal/sink"
)

func testRecord(spiderName, sourceURL string) request.Record {
	fields := map[string]request.FieldValue{
		"title": request.NewFieldValue("Example Page"),
	}
	return request.NewRecord(spiderName, sourceURL, 200, fields, time.Unix(0, 0).UTC())
}

func TestJSONLSinkSaveAppends(t *testing.T) {
	dir := t.TempDir()
	s, err := sink.NewJSONLSink(dir, "test-spider")
	if err != nil {
		t.Fatalf("NewJSONLSink: %v", err)
	}

	if err := s.Save(testRecord("test-spider", "https://example.com/a")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(testRecord("test-spider", "https://example.com/b")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one output file, got %d", len(entries))
	}

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var doc map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &doc); err != nil {
			t.Fatalf("unmarshal line %d: %v", lines, err)
		}
		if doc["title"] != "Example Page" {
			t.Errorf("expected title field to round-trip, got %v", doc["title"])
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 JSON lines, got %d", lines)
	}
}

func TestCSVSinkHeaderAndRows(t *testing.T) {
	dir := t.TempDir()
	s, err := sink.NewCSVSink(dir, "csv-spider")
	if err != nil {
		t.Fatalf("NewCSVSink: %v", err)
	}

	if err := s.Save(testRecord("csv-spider", "https://example.com/a")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".csv") {
		t.Fatalf("expected exactly one .csv file, got %v", entries)
	}

	f, err := os.Open(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(rows))
	}
}
