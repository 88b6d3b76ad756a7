package middleware

import (
	"io"
	"net/http"
	"strings"

	"github.com/andybalholm/brotli"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Compression compresses API and manifest responses with gzip, deflate, or
// brotli. Media segments are already-compressed video and are passed
// through untouched.
func Compression(level int) func(http.Handler) http.Handler {
	compressor := chimiddleware.NewCompressor(level,
		"application/json",
		"application/vnd.apple.mpegurl",
		"application/dash+xml",
		"text/plain",
		"text/html",
	)
	compressor.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})

	return func(next http.Handler) http.Handler {
		compressed := compressor.Handler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isMediaPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}

// isMediaPath matches segment and direct-play responses.
func isMediaPath(path string) bool {
	return strings.HasSuffix(path, ".ts") ||
		strings.HasSuffix(path, ".m4s") ||
		strings.HasSuffix(path, "/media")
}
