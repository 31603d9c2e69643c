/*
Package web serves a built site for preview the way the bucket serves it:
folder requests get their index document, missing files get the error document,
and responses carry the Cache-Control the upload would set. With a ReloadHub,
HTML pages also load a script that refreshes them after each rebuild.
*/
package web

import (
	"context"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/ancientlore/cachefs"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/QBayLogic/qbaymid/config"
)

// Options configures Handler.
type Options struct {
	Headers       map[string]string
	Policy        config.CachePolicy
	IndexDocument string
	ErrorDocument string
	CacheBytes    int64
	CacheDuration time.Duration // Expiry of cached files; 0 keeps them until evicted
	Logger        *zap.Logger
	Reload        *ReloadHub // Serve reload events and inject the reload script
}

// Handler returns an http.Handler serving fsys through a groupcache backed cache.
func Handler(fsys fs.FS, opts Options) http.Handler {
	if opts.IndexDocument == "" {
		opts.IndexDocument = "index.html"
	}
	cached := cachefs.New(fsys, &cachefs.Config{
		GroupName:   "preview-" + uuid.NewString(),
		SizeInBytes: opts.CacheBytes,
		Duration:    opts.CacheDuration,
	})
	var h http.Handler = http.FileServer(http.FS(cached))
	if opts.ErrorDocument != "" {
		h = ErrorHandler(h, cached, opts.ErrorDocument)
	}
	if opts.Reload != nil {
		h = InjectReload(h)
	}
	h = gziphandler.GzipHandler(h)
	h = CacheControlHandler(h, opts.Policy, opts.IndexDocument)
	h = HeaderHandler(h, opts.Headers)
	if opts.Reload != nil {
		mux := http.NewServeMux()
		mux.Handle(ReloadPath, opts.Reload)
		mux.HandleFunc(ReloadScriptPath, serveReloadScript)
		mux.Handle("/", h)
		h = mux
	}
	if opts.Logger != nil {
		h = LogHandler(h, opts.Logger)
	}
	return h
}

// LogHandler logs every request at debug level.
func LogHandler(h http.Handler, log *zap.Logger) http.Handler {
	log = log.Named("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		h.ServeHTTP(sw, r)
		log.Debug("Request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("took", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush lets event streams through the logger.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// NewServer returns a server for addr with conservative timeouts.
func NewServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
}

// ListenAndServe runs srv until ctx is done, then shuts it down gracefully.
func ListenAndServe(ctx context.Context, srv *http.Server, log *zap.Logger) error {
	errc := make(chan error, 1)
	go func() {
		log.Info("Listening for requests", zap.String("addr", srv.Addr))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
