package request

import "time"

// FieldValue wraps an extracted field's value with an optional note
// about how it was derived (a CSS/XPath selector, a confidence score,
// or any other extraction-time metadata a Parser wants to carry
// through to the sink).
type FieldValue struct {
	Value any
	Note  string
}

// NewFieldValue wraps a plain value with no extraction metadata.
func NewFieldValue(value any) FieldValue {
	return FieldValue{Value: value}
}

// NewFieldValueWithNote wraps a value along with a note describing how
// it was extracted.
func NewFieldValueWithNote(value any, note string) FieldValue {
	return FieldValue{Value: value, Note: note}
}

// Record is what a user callback yields besides new Requests: an item
// to persist via the sink.
type Record struct {
	spiderName string
	sourceURL  string
	status     int
	fields     map[string]FieldValue
	crawlTime  time.Time
}

// NewRecord builds a Record. fields may be nil, in which case an empty
// map is used.
func NewRecord(spiderName, sourceURL string, status int, fields map[string]FieldValue, crawlTime time.Time) Record {
	if fields == nil {
		fields = make(map[string]FieldValue)
	}
	return Record{
		spiderName: spiderName,
		sourceURL:  sourceURL,
		status:     status,
		fields:     fields,
		crawlTime:  crawlTime,
	}
}

func (r Record) SpiderName() string            { return r.spiderName }
func (r Record) SourceURL() string             { return r.sourceURL }
func (r Record) Status() int                   { return r.status }
func (r Record) Fields() map[string]FieldValue { return r.fields }
func (r Record) CrawlTime() time.Time          { return r.crawlTime }
