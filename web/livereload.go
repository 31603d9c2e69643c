package web

import (
	"bufio"
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reload endpoints mounted by Handler when Options.Reload is set.
const (
	ReloadPath       = "/livereload"
	ReloadScriptPath = "/livereload.js"
)

// reloadTag is inserted before </body> of every HTML page.
const reloadTag = `<script async src="` + ReloadScriptPath + `"></script>`

// ReloadScript reloads the page when the server reports a new site version.
const ReloadScript = `(() => {
  if (window.__qbaymidReload) return;
  window.__qbaymidReload = true;
  let current = null;
  function connect() {
    const es = new EventSource('` + ReloadPath + `');
    es.onmessage = (e) => {
      if (current === null) { current = e.data; return; }
      if (e.data !== current) location.reload();
    };
    es.onerror = () => { es.close(); setTimeout(connect, 2000); };
  }
  connect();
})();
`

// ReloadHub streams site versions to browsers over server-sent events.
type ReloadHub struct {
	mu        sync.Mutex
	nextID    int
	clients   map[int]*reloadClient
	version   string
	closed    bool
	heartbeat time.Duration
	log       *zap.Logger
}

type reloadClient struct {
	ch   chan string
	done chan struct{}
}

// NewReloadHub returns a hub with no clients.
func NewReloadHub(log *zap.Logger) *ReloadHub {
	if log == nil {
		log = zap.NewNop()
	}
	return &ReloadHub{
		clients:   make(map[int]*reloadClient),
		heartbeat: 30 * time.Second,
		log:       log.Named("reload"),
	}
}

// ServeHTTP holds an event stream open. The first event is the current
// version, if there is one.
func (h *ReloadHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	id := h.nextID
	h.nextID++
	c := &reloadClient{ch: make(chan string, 8), done: make(chan struct{})}
	h.clients[id] = c
	current := h.version
	h.mu.Unlock()
	defer h.remove(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	send := func(s string) bool {
		if _, err := bw.WriteString(s); err != nil {
			return false
		}
		if err := bw.Flush(); err != nil {
			h.log.Debug("Stream write failed", zap.Error(err))
			return false
		}
		flusher.Flush()
		return true
	}
	msg := ": connected\n\n"
	if current != "" {
		msg += "data: " + current + "\n\n"
	}
	if !send(msg) {
		return
	}

	hb := time.NewTicker(h.heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-hb.C:
			if !send(": ping\n\n") {
				return
			}
		case v := <-c.ch:
			if !send("data: " + v + "\n\n") {
				return
			}
		}
	}
}

func (h *ReloadHub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[id]; ok {
		delete(h.clients, id)
		close(c.done)
	}
}

// Broadcast sends version to every client. Empty or repeated versions are
// ignored. Clients that are not keeping up are dropped.
func (h *ReloadHub) Broadcast(version string) {
	h.mu.Lock()
	if h.closed || version == "" || version == h.version {
		h.mu.Unlock()
		return
	}
	h.version = version
	var slow []int
	for id, c := range h.clients {
		select {
		case c.ch <- version:
		default:
			slow = append(slow, id)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	for _, id := range slow {
		h.remove(id)
	}
	h.log.Debug("Broadcast", zap.String("version", version), zap.Int("clients", n), zap.Int("dropped", len(slow)))
}

// Clients returns the number of connected clients.
func (h *ReloadHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Shutdown ends every stream and refuses new ones.
func (h *ReloadHub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		close(c.done)
	}
}

func serveReloadScript(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write([]byte(ReloadScript))
}

// InjectReload adds the reload script to HTML pages served by h.
func InjectReload(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			h.ServeHTTP(w, r)
			return
		}
		iw := &injectWriter{ResponseWriter: w}
		h.ServeHTTP(iw, r)
		iw.finish()
	})
}

// injectWriter buffers full HTML bodies; everything else passes through.
type injectWriter struct {
	http.ResponseWriter
	buf    *bytes.Buffer
	status int
	wrote  bool
}

func (w *injectWriter) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.wrote = true
	w.status = code
	html := strings.HasPrefix(w.Header().Get("Content-Type"), "text/html")
	if html && (code == http.StatusOK || code == http.StatusNotFound) {
		w.buf = new(bytes.Buffer)
		return
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *injectWriter) Write(b []byte) (int, error) {
	if !w.wrote {
		w.WriteHeader(http.StatusOK)
	}
	if w.buf != nil {
		return w.buf.Write(b)
	}
	return w.ResponseWriter.Write(b)
}

func (w *injectWriter) finish() {
	if w.buf == nil {
		return
	}
	body := w.buf.Bytes()
	if i := bytes.LastIndex(body, []byte("</body>")); i >= 0 {
		out := make([]byte, 0, len(body)+len(reloadTag))
		out = append(out, body[:i]...)
		out = append(out, reloadTag...)
		body = append(out, body[i:]...)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.ResponseWriter.WriteHeader(w.status)
	_, _ = w.ResponseWriter.Write(body)
}
