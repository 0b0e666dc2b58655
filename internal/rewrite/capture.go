package rewrite

import (
	"bytes"
	"net/http"
)

// CaptureWriter stands in for the real ResponseWriter while the downstream
// handler renders. Byte and string writes land in one buffer, the status is
// recorded, and nothing is sent until the interceptor decides what to emit.
//
// Header returns the real response's header map: headers are not on the wire
// until the real WriteHeader, and handlers expect to set them as usual.
type CaptureWriter struct {
	header      http.Header
	buf         bytes.Buffer
	status      int
	wroteHeader bool
}

var _ http.ResponseWriter = (*CaptureWriter)(nil)

// NewCaptureWriter returns a CaptureWriter sharing w's header map.
func NewCaptureWriter(w http.ResponseWriter) *CaptureWriter {
	return &CaptureWriter{header: w.Header()}
}

func (c *CaptureWriter) Header() http.Header { return c.header }

// WriteHeader records the first status code, later calls are ignored like net/http does.
func (c *CaptureWriter) WriteHeader(code int) {
	if c.wroteHeader {
		return
	}
	c.wroteHeader = true
	c.status = code
}

func (c *CaptureWriter) Write(p []byte) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	return c.buf.Write(p)
}

func (c *CaptureWriter) WriteString(s string) (int, error) {
	if !c.wroteHeader {
		c.WriteHeader(http.StatusOK)
	}
	return c.buf.WriteString(s)
}

// Flush is a no-op, a partial body must never reach the client.
func (c *CaptureWriter) Flush() {}

// Status returns the recorded status, or 0 if the handler never set one.
func (c *CaptureWriter) Status() int { return c.status }

// Len returns the number of buffered bytes.
func (c *CaptureWriter) Len() int { return c.buf.Len() }

// Bytes returns the buffered body. The slice aliases the buffer.
func (c *CaptureWriter) Bytes() []byte { return c.buf.Bytes() }

// Materialize returns everything written so far.
func (c *CaptureWriter) Materialize() string { return c.buf.String() }
