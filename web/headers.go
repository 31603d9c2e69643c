package web

import (
	"net/http"
	"path"
	"strings"

	"github.com/QBayLogic/qbaymid/config"
)

// HeaderHandler returns an http.Handler that adds the given headers to the response.
func HeaderHandler(h http.Handler, headers map[string]string) http.Handler {
	if len(headers) == 0 {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		h.ServeHTTP(w, r)
	})
}

// CacheControlHandler sets the Cache-Control header the bucket would serve for
// the requested file on successful responses. Folder requests are treated as
// their index.html.
func CacheControlHandler(h http.Handler, policy config.CachePolicy, index string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Path
		if strings.HasSuffix(name, "/") || path.Ext(name) == "" {
			name = path.Join(name, index)
		}
		cc := policy.CacheControl(name)
		if cc == "" {
			h.ServeHTTP(w, r)
			return
		}
		h.ServeHTTP(&cacheWriter{ResponseWriter: w, cc: cc}, r)
	})
}

// cacheWriter adds Cache-Control once the status is known to be 2xx.
type cacheWriter struct {
	http.ResponseWriter
	cc     string
	status bool
}

func (w *cacheWriter) WriteHeader(code int) {
	if !w.status {
		w.status = true
		if code >= 200 && code < 300 {
			w.Header().Set("Cache-Control", w.cc)
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *cacheWriter) Write(b []byte) (int, error) {
	if !w.status {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
