package xrbridge

import (
	"bytes"
	"encoding/json"
)

// objWriter emits a JSON object with a caller-controlled member order.
//
// xRegistry documents carry computed members whose names depend on the group
// and resource types declared by a backend ("noderegistriesurl",
// "packagescount", ...), so the entity types in this package marshal by hand
// instead of relying on struct tags.
type objWriter struct {
	buf bytes.Buffer
	err error
	n   int
}

func newObjWriter() *objWriter {
	w := &objWriter{}
	w.buf.WriteByte('{')
	return w
}

// Field appends a member, encoding v with encoding/json.
func (w *objWriter) Field(name string, v any) {
	if w.err != nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		w.err = err
		return
	}
	w.raw(name, b)
}

// Raw appends a member whose value is already-encoded JSON.
func (w *objWriter) Raw(name string, raw json.RawMessage) {
	if w.err != nil || len(raw) == 0 {
		return
	}
	w.raw(name, raw)
}

func (w *objWriter) raw(name string, b []byte) {
	if w.n > 0 {
		w.buf.WriteByte(',')
	}
	k, err := json.Marshal(name)
	if err != nil {
		w.err = err
		return
	}
	w.buf.Write(k)
	w.buf.WriteByte(':')
	w.buf.Write(b)
	w.n++
}

func (w *objWriter) Done() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	w.buf.WriteByte('}')
	return w.buf.Bytes(), nil
}
