package web

import (
	"io/fs"
	"net/http"
	"strconv"
)

// ErrorHandler replaces the body of 404 responses with the error document and
// of 500 responses with 500.html, when fsys has them.
func ErrorHandler(h http.Handler, fsys fs.FS, notFound string) http.Handler {
	pages := map[int]string{
		http.StatusNotFound:            notFound,
		http.StatusInternalServerError: "500.html",
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeHTTP(&errorWriter{ResponseWriter: w, fsys: fsys, pages: pages}, r)
	})
}

type errorWriter struct {
	http.ResponseWriter
	fsys     fs.FS
	pages    map[int]string
	replaced bool
	err      error
}

func (w *errorWriter) Write(b []byte) (int, error) {
	if w.replaced {
		// Drop the original body.
		return len(b), w.err
	}
	return w.ResponseWriter.Write(b)
}

func (w *errorWriter) WriteHeader(code int) {
	name := w.pages[code]
	if name == "" {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	b, err := fs.ReadFile(w.fsys, name)
	if err != nil {
		w.ResponseWriter.WriteHeader(code)
		return
	}
	hdr := w.Header()
	hdr.Set("Content-Type", "text/html; charset=utf-8")
	hdr.Set("Content-Length", strconv.Itoa(len(b)))
	hdr.Del("X-Content-Type-Options")
	w.ResponseWriter.WriteHeader(code)
	w.replaced = true
	_, w.err = w.ResponseWriter.Write(b)
}
