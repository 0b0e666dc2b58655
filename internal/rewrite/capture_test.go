package rewrite

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCaptureWriter_BuffersBothWritePaths(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewCaptureWriter(rec)

	cw.Write([]byte(`{"a":`))
	io.WriteString(cw, `"b"}`)

	if got := cw.Materialize(); got != `{"a":"b"}` {
		t.Fatalf("Materialize() = %q", got)
	}
	if cw.Len() != 9 {
		t.Fatalf("Len() = %d", cw.Len())
	}
	if cw.Status() != http.StatusOK {
		t.Fatalf("Status() = %d, want 200 after implicit write", cw.Status())
	}
	if rec.Body.Len() != 0 || rec.Code != http.StatusOK || rec.Flushed {
		t.Fatal("nothing may reach the real writer")
	}
}

func TestCaptureWriter_Status(t *testing.T) {
	cw := NewCaptureWriter(httptest.NewRecorder())
	if cw.Status() != 0 {
		t.Fatalf("initial Status() = %d, want 0", cw.Status())
	}
	cw.WriteHeader(http.StatusNotFound)
	cw.WriteHeader(http.StatusInternalServerError)
	cw.Write([]byte("x"))
	if cw.Status() != http.StatusNotFound {
		t.Fatalf("Status() = %d, first WriteHeader should win", cw.Status())
	}
}

func TestCaptureWriter_SharesHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewCaptureWriter(rec)
	cw.Header().Set("X-Renderer", "sling")
	if rec.Header().Get("X-Renderer") != "sling" {
		t.Fatal("headers set during render should be visible on the real response")
	}
}

func TestCaptureWriter_FlushHoldsBody(t *testing.T) {
	rec := httptest.NewRecorder()
	cw := NewCaptureWriter(rec)
	cw.Write([]byte("partial"))
	cw.Flush()
	if rec.Flushed || rec.Body.Len() != 0 {
		t.Fatal("Flush must not send anything")
	}
}
