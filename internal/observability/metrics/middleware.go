package metrics

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// ResponseRecorder wraps an http.ResponseWriter to capture the response
// status while passing through optional interfaces used by the standard
// library (flushing, hijacking, push, and io.ReaderFrom).
type ResponseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// NewResponseRecorder wraps the provided writer for status capture.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w}
}

// Status returns the recorded status code, defaulting to 200 when the handler
// never called WriteHeader explicitly.
func (r *ResponseRecorder) Status() int {
	if !r.wroteHeader {
		return http.StatusOK
	}
	return r.status
}

// WriteHeader records the status code before delegating to the wrapped writer.
func (r *ResponseRecorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

// Write marks the response as started before writing the payload.
func (r *ResponseRecorder) Write(p []byte) (int, error) {
	if !r.wroteHeader {
		r.status = http.StatusOK
		r.wroteHeader = true
	}
	return r.ResponseWriter.Write(p)
}

// Flush forwards to the underlying writer when it supports flushing.
func (r *ResponseRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack forwards to the underlying writer when it supports hijacking.
func (r *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := r.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, errors.New("response writer does not support hijacking")
}

// Push forwards HTTP/2 push requests when supported.
func (r *ResponseRecorder) Push(target string, opts *http.PushOptions) error {
	if pusher, ok := r.ResponseWriter.(http.Pusher); ok {
		return pusher.Push(target, opts)
	}
	return http.ErrNotSupported
}

// ReadFrom forwards to the underlying writer's io.ReaderFrom when available.
func (r *ResponseRecorder) ReadFrom(src io.Reader) (int64, error) {
	if reader, ok := r.ResponseWriter.(io.ReaderFrom); ok {
		n, err := reader.ReadFrom(src)
		if n > 0 && !r.wroteHeader {
			r.status = http.StatusOK
			r.wroteHeader = true
		}
		return n, err
	}
	n, err := io.Copy(struct{ io.Writer }{r}, src)
	return n, err
}

// HTTPMiddleware instruments the wrapped handler with request count and
// duration metrics on the provided Recorder.
func HTTPMiddleware(recorder *Recorder, next http.Handler) http.Handler {
	if recorder == nil {
		recorder = Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		wrapped := NewResponseRecorder(w)
		next.ServeHTTP(wrapped, req)
		recorder.ObserveRequest(req.Method, req.URL.Path, wrapped.Status(), time.Since(start))
	})
}
