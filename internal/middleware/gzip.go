package middleware

import (
	"compress/gzip"
	"net/http"
	"strings"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// MaxDecompressedBody ограничивает размер распакованного тела запроса.
const MaxDecompressedBody = 1 << 20

var compressor = chimiddleware.Compress(5, "application/json", "text/html")

// GzipMiddleware распаковывает тела запросов с Content-Encoding: gzip и сжимает JSON и HTML ответы
// для клиентов, принимающих gzip.
func GzipMiddleware(next http.Handler) http.Handler {
	compressed := compressor(next)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, "invalid gzip body", http.StatusBadRequest)
				return
			}
			defer zr.Close()

			r.Body = http.MaxBytesReader(w, zr, MaxDecompressedBody)
			r.Header.Del("Content-Encoding")
			r.Header.Del("Content-Length")
			r.ContentLength = -1
		}

		compressed.ServeHTTP(w, r)
	})
}
