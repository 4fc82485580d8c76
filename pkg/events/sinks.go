package events

import (
	"bufio"
	"compress/gzip"
	"fmt"
	"io"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// TextSink writes one `<event .../>` line per event inside an
// `<events version="1.0">...</events>` envelope.
type TextSink struct {
	w        *bufio.Writer
	resolver Resolver
	opened   bool
}

func NewTextSink(w io.Writer, resolver Resolver) *TextSink {
	s := &TextSink{w: bufio.NewWriter(w), resolver: resolver}
	s.w.WriteString("<events version=\"1.0\">\n")
	s.opened = true
	return s
}

func (s *TextSink) OnEvent(e Event) {
	attrs := e.Attrs(s.resolver)
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(s.w, "\t<event time=\"%d\" type=\"%s\"", e.When(), e.Type())
	for _, k := range keys {
		v := attrs[k]
		var out string
		switch v.Kind {
		case AttrString:
			out = v.Str
		case AttrInt:
			out = fmt.Sprintf("%d", v.Int)
		case AttrDouble:
			out = fmt.Sprintf("%g", v.Double)
		case AttrBool:
			out = fmt.Sprintf("%t", v.Bool)
		}
		fmt.Fprintf(s.w, " %s=\"%s\"", k, out)
	}
	s.w.WriteString(" />\n")
}

func (s *TextSink) Finish() {
	if !s.opened {
		return
	}
	s.w.WriteString("</events>\n")
	s.w.Flush()
	s.opened = false
}

// BinarySink batches events by integer second and writes length-delimited
// `TimeStep{ uint32 time; bytes data }` frames, `data` itself a
// concatenation of length-delimited `Event{ string type; map attrs }`
// frames, using protobuf's wire-format primitives directly rather than a
// generated message type (see DESIGN.md).
type BinarySink struct {
	w        *bufio.Writer
	gz       *gzip.Writer
	resolver Resolver
	cur      uint32
	have     bool
	pending  [][]byte
}

// NewBinarySink wraps w, gzip-compressing if gzipped is true.
func NewBinarySink(w io.Writer, resolver Resolver, gzipped bool) *BinarySink {
	s := &BinarySink{resolver: resolver}
	if gzipped {
		s.gz = gzip.NewWriter(w)
		s.w = bufio.NewWriter(s.gz)
	} else {
		s.w = bufio.NewWriter(w)
	}
	return s
}

const (
	fieldTimeStepTime = 1
	fieldTimeStepData = 2
	fieldEventType    = 1
	fieldEventAttrs   = 2
	fieldAttrKey      = 1
	fieldAttrValue    = 2
)

func (s *BinarySink) OnEvent(e Event) {
	t := e.When()
	if s.have && t != s.cur {
		s.flushTimeStep()
	}
	s.cur = t
	s.have = true
	s.appendEvent(e)
}

func (s *BinarySink) appendEvent(e Event) {
	var body []byte
	body = protowire.AppendTag(body, fieldEventType, protowire.BytesType)
	body = protowire.AppendString(body, e.Type())

	attrs := e.Attrs(s.resolver)
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var entry []byte
		entry = protowire.AppendTag(entry, fieldAttrKey, protowire.BytesType)
		entry = protowire.AppendString(entry, k)
		entry = protowire.AppendTag(entry, fieldAttrValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, encodeAttrValue(attrs[k]))

		body = protowire.AppendTag(body, fieldEventAttrs, protowire.BytesType)
		body = protowire.AppendBytes(body, entry)
	}

	s.pending = append(s.pending, body)
}

func encodeAttrValue(v AttrValue) []byte {
	var out []byte
	switch v.Kind {
	case AttrString:
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendString(out, v.Str)
	case AttrInt:
		out = protowire.AppendTag(out, 2, protowire.VarintType)
		out = protowire.AppendVarint(out, uint64(v.Int))
	case AttrDouble:
		out = protowire.AppendTag(out, 3, protowire.Fixed64Type)
		out = protowire.AppendFixed64(out, math.Float64bits(v.Double))
	case AttrBool:
		out = protowire.AppendTag(out, 4, protowire.VarintType)
		b := uint64(0)
		if v.Bool {
			b = 1
		}
		out = protowire.AppendVarint(out, b)
	}
	return out
}

func (s *BinarySink) flushTimeStep() {
	var frame []byte
	frame = protowire.AppendTag(frame, fieldTimeStepTime, protowire.VarintType)
	frame = protowire.AppendVarint(frame, uint64(s.cur))
	for _, body := range s.pending {
		frame = protowire.AppendTag(frame, fieldTimeStepData, protowire.BytesType)
		frame = protowire.AppendBytes(frame, body)
	}
	var lenPrefix []byte
	lenPrefix = protowire.AppendVarint(lenPrefix, uint64(len(frame)))
	s.w.Write(lenPrefix)
	s.w.Write(frame)
	s.pending = s.pending[:0]
}

func (s *BinarySink) Finish() {
	if s.have {
		s.flushTimeStep()
	}
	s.w.Flush()
	if s.gz != nil {
		s.gz.Close()
	}
}

// MemorySink collects every event in order, for tests.
type MemorySink struct {
	Events []Event
}

func (m *MemorySink) OnEvent(e Event) { m.Events = append(m.Events, e) }
func (m *MemorySink) Finish()         {}
