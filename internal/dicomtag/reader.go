// Package dicomtag provides optional-typed access to the tags of one parsed
// DICOM record. Every accessor reports presence separately from the value so
// that an absent tag is never confused with an empty one.
package dicomtag

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/jwalitptl/dicom-ingest/pkg/logger"
)

// DateLayout is the DICOM DA value representation.
const DateLayout = "20060102"

// Reader wraps a dataset, or a single item of a sequence.
type Reader struct {
	ds   dicom.Dataset
	file string
	log  *logger.Logger
}

type options struct {
	skipPixelData bool
	log           *logger.Logger
}

// Option configures Open.
type Option func(*options)

// SkipPixelData stops parsing before the pixel data. Readers opened this way
// must not be re-serialized.
func SkipPixelData() Option {
	return func(o *options) { o.skipPixelData = true }
}

// WithLogger sets the logger used for debug output about malformed values.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.log = l }
}

// Open parses the DICOM file at path.
func Open(path string, opts ...Option) (*Reader, error) {
	o := options{log: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	var parseOpts []dicom.ParseOption
	if o.skipPixelData {
		parseOpts = append(parseOpts, dicom.SkipPixelData())
	}

	ds, err := dicom.ParseFile(path, nil, parseOpts...)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &Reader{ds: ds, file: path, log: o.log}, nil
}

// New wraps an already parsed dataset.
func New(ds dicom.Dataset, file string) *Reader {
	return &Reader{ds: ds, file: file, log: logger.Nop()}
}

// File is the path the record was read from, empty for sequence items.
func (r *Reader) File() string { return r.file }

// Dataset exposes the wrapped dataset for re-serialization.
func (r *Reader) Dataset() *dicom.Dataset { return &r.ds }

// Has reports whether t is present with a non-empty value.
func (r *Reader) Has(t tag.Tag) bool {
	_, ok := r.Strings(t)
	return ok
}

// Strings returns every value of t rendered as text.
func (r *Reader) Strings(t tag.Tag) ([]string, bool) {
	el, err := r.ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return nil, false
	}

	var out []string
	switch v := el.Value.GetValue().(type) {
	case []string:
		for _, s := range v {
			out = append(out, strings.TrimSpace(strings.TrimRight(s, "\x00")))
		}
	case []int:
		for _, i := range v {
			out = append(out, strconv.Itoa(i))
		}
	case []float64:
		for _, f := range v {
			out = append(out, strconv.FormatFloat(f, 'f', -1, 64))
		}
	default:
		return nil, false
	}

	for _, s := range out {
		if s != "" {
			return out, true
		}
	}
	return nil, false
}

// String returns the first value of t.
func (r *Reader) String(t tag.Tag) (string, bool) {
	vals, ok := r.Strings(t)
	if !ok {
		return "", false
	}
	return vals[0], true
}

// StringOr returns the first value of t, or def when t is absent.
func (r *Reader) StringOr(t tag.Tag, def string) string {
	if s, ok := r.String(t); ok {
		return s
	}
	return def
}

// Floats parses every value of t. A single unparsable value makes the whole
// tag absent.
func (r *Reader) Floats(t tag.Tag) ([]float64, bool) {
	el, err := r.ds.FindElementByTag(t)
	if err == nil && el.Value != nil {
		if fs, ok := el.Value.GetValue().([]float64); ok && len(fs) > 0 {
			return fs, true
		}
	}

	vals, ok := r.Strings(t)
	if !ok {
		return nil, false
	}
	out := make([]float64, 0, len(vals))
	for _, s := range vals {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			r.log.Debug("non-numeric tag value", "tag", t.String(), "value", s, "file", r.file)
			return nil, false
		}
		out = append(out, f)
	}
	return out, true
}

func (r *Reader) Float(t tag.Tag) (float64, bool) {
	fs, ok := r.Floats(t)
	if !ok {
		return 0, false
	}
	return fs[0], true
}

func (r *Reader) Int(t tag.Tag) (int, bool) {
	s, ok := r.String(t)
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		r.log.Debug("non-integer tag value", "tag", t.String(), "value", s, "file", r.file)
		return 0, false
	}
	return i, true
}

// Date parses a DA value. Malformed dates are reported as absent.
func (r *Reader) Date(t tag.Tag) (time.Time, bool) {
	s, ok := r.String(t)
	if !ok {
		return time.Time{}, false
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		r.log.Debug("invalid DICOM date", "tag", t.String(), "value", s, "file", r.file)
		return time.Time{}, false
	}
	return d, true
}

// Sequence returns one Reader per item of the sequence t.
func (r *Reader) Sequence(t tag.Tag) ([]*Reader, bool) {
	el, err := r.ds.FindElementByTag(t)
	if err != nil || el.Value == nil {
		return nil, false
	}
	items, ok := el.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok || len(items) == 0 {
		return nil, false
	}

	out := make([]*Reader, 0, len(items))
	for _, item := range items {
		elems, _ := item.GetValue().([]*dicom.Element)
		out = append(out, &Reader{ds: dicom.Dataset{Elements: elems}, file: r.file, log: r.log})
	}
	return out, true
}

// First returns the first item of the sequence t.
func (r *Reader) First(t tag.Tag) (*Reader, bool) {
	items, ok := r.Sequence(t)
	if !ok {
		return nil, false
	}
	return items[0], true
}

// Path walks nested sequences through their first item.
func (r *Reader) Path(seqs ...tag.Tag) (*Reader, bool) {
	cur := r
	for _, t := range seqs {
		next, ok := cur.First(t)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// PathString walks every tag but the last as a sequence and reads the last
// one as a string. Any missing level makes the result absent.
func (r *Reader) PathString(tags ...tag.Tag) (string, bool) {
	if len(tags) == 0 {
		return "", false
	}
	item, ok := r.Path(tags[:len(tags)-1]...)
	if !ok {
		return "", false
	}
	return item.String(tags[len(tags)-1])
}
