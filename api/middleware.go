// Package api provides the HTTP API for tailwind-serve.
package api

import (
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// WithDefaults wraps a handler with standard middleware.
func WithDefaults(h http.Handler, logger *log.Logger) http.Handler {
	return LoggingMiddleware(
		TimeoutMiddleware(
			CompressMiddleware(h),
			30*time.Second,
		),
		logger,
	)
}

// LoggingMiddleware logs all requests.
func LoggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lw := &loggingResponseWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(lw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, lw.status, time.Since(start))
	})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lw *loggingResponseWriter) WriteHeader(status int) {
	lw.status = status
	lw.ResponseWriter.WriteHeader(status)
}

// TimeoutMiddleware adds a timeout to requests.
func TimeoutMiddleware(next http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(next, timeout, "request timeout")
}

// CompressMiddleware compresses response bodies with zstd or gzip,
// whichever the client prefers to accept. Bodyless responses (HEAD, 204,
// 304) are never encoded.
func CompressMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		encoding := negotiate(r.Header.Get("Accept-Encoding"))
		if encoding == "" || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressResponseWriter{ResponseWriter: w, encoding: encoding}
		defer cw.Close()
		next.ServeHTTP(cw, r)
	})
}

// negotiate picks zstd over gzip. Codings with q=0 are refused.
func negotiate(accept string) string {
	var zstdOK, gzipOK bool
	for _, part := range strings.Split(accept, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		name = strings.ToLower(strings.TrimSpace(name))
		if q, ok := strings.CutPrefix(strings.TrimSpace(params), "q="); ok {
			if v, err := strconv.ParseFloat(q, 64); err == nil && v == 0 {
				continue
			}
		}
		switch name {
		case "zstd":
			zstdOK = true
		case "gzip":
			gzipOK = true
		}
	}
	switch {
	case zstdOK:
		return "zstd"
	case gzipOK:
		return "gzip"
	default:
		return ""
	}
}

type compressResponseWriter struct {
	http.ResponseWriter
	encoding    string
	enc         io.WriteCloser
	wroteHeader bool
}

func (cw *compressResponseWriter) WriteHeader(status int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true

	h := cw.Header()
	switch {
	case h.Get("Content-Encoding") != "":
	case status == http.StatusNotModified:
		// Repeat the validator of the representation the client holds.
		if etag := h.Get("ETag"); etag != "" {
			h.Set("ETag", EncodedETag(etag, cw.encoding))
		}
	case status >= 200 && status != http.StatusNoContent:
		if enc := newEncoder(cw.encoding, cw.ResponseWriter); enc != nil {
			h.Set("Content-Encoding", cw.encoding)
			h.Del("Content-Length")
			if etag := h.Get("ETag"); etag != "" {
				h.Set("ETag", EncodedETag(etag, cw.encoding))
			}
			cw.enc = enc
		}
	}
	cw.ResponseWriter.WriteHeader(status)
}

func (cw *compressResponseWriter) Write(p []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}
	if cw.enc != nil {
		return cw.enc.Write(p)
	}
	return cw.ResponseWriter.Write(p)
}

// Close flushes the encoder, if one was started.
func (cw *compressResponseWriter) Close() error {
	if cw.enc == nil {
		return nil
	}
	return cw.enc.Close()
}

// EncodedETag derives the strong validator of an encoded representation
// from the identity one: "abc" becomes "abc-gzip". Weak tags are left
// alone.
func EncodedETag(etag, encoding string) string {
	if strings.HasPrefix(etag, "W/") || len(etag) < 2 || !strings.HasSuffix(etag, `"`) {
		return etag
	}
	return etag[:len(etag)-1] + "-" + encoding + `"`
}

func newEncoder(encoding string, w io.Writer) io.WriteCloser {
	switch encoding {
	case "zstd":
		enc, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil
		}
		return enc
	case "gzip":
		return gzip.NewWriter(w)
	default:
		return nil
	}
}
