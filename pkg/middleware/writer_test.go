package middleware

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

type flushRecorder struct {
	http.ResponseWriter
	flushed bool
}

func (f *flushRecorder) Flush() { f.flushed = true }

type hijackRecorder struct {
	http.ResponseWriter
	hijacked bool
}

func (h *hijackRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h.hijacked = true
	return nil, nil, nil
}

type bareWriter struct{ header http.Header }

func (b *bareWriter) Header() http.Header {
	if b.header == nil {
		b.header = make(http.Header)
	}
	return b.header
}
func (b *bareWriter) Write(p []byte) (int, error) { return len(p), nil }
func (b *bareWriter) WriteHeader(int)             {}

func TestStatusWriter_RecordsFirstStatus(t *testing.T) {
	sw := newStatusWriter(httptest.NewRecorder())
	sw.WriteHeader(http.StatusFound)
	sw.WriteHeader(http.StatusInternalServerError)
	_, _ = sw.Write([]byte("abc"))

	assert.Equal(t, http.StatusFound, sw.statusCode)
	assert.Equal(t, 3, sw.bytes)
}

func TestStatusWriter_DefaultsTo200(t *testing.T) {
	sw := newStatusWriter(httptest.NewRecorder())
	_, _ = sw.Write([]byte("ok"))
	assert.Equal(t, http.StatusOK, sw.statusCode)
}

func TestStatusWriter_NotDoubleWrapped(t *testing.T) {
	sw := newStatusWriter(httptest.NewRecorder())
	assert.Same(t, sw, newStatusWriter(sw))
}

func TestStatusWriter_Flush(t *testing.T) {
	fr := &flushRecorder{ResponseWriter: httptest.NewRecorder()}
	newStatusWriter(fr).Flush()
	assert.True(t, fr.flushed)

	newStatusWriter(&bareWriter{}).Flush()
}

func TestStatusWriter_Hijack(t *testing.T) {
	hr := &hijackRecorder{ResponseWriter: httptest.NewRecorder()}
	_, _, err := newStatusWriter(hr).Hijack()
	assert.NoError(t, err)
	assert.True(t, hr.hijacked)

	_, _, err = newStatusWriter(&bareWriter{}).Hijack()
	assert.ErrorIs(t, err, http.ErrNotSupported)
}
