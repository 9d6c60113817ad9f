// Package api exposes the HTTP surface: the protocol message endpoint, the
// thumbnail and scaled-image endpoints, static content and health.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/h2non/filetype"
	"go.uber.org/zap"

	"github.com/BlueBrain/veeone-veedrive/internal/config"
	"github.com/BlueBrain/veeone-veedrive/internal/content"
	"github.com/BlueBrain/veeone-veedrive/internal/logging"
	"github.com/BlueBrain/veeone-veedrive/internal/media"
	"github.com/BlueBrain/veeone-veedrive/internal/metrics"
	"github.com/BlueBrain/veeone-veedrive/internal/rpc"
	"github.com/BlueBrain/veeone-veedrive/internal/sandbox"
	"github.com/BlueBrain/veeone-veedrive/internal/thumbcache"
)

// Server wires the HTTP handlers to the content core.
type Server struct {
	cfg        *config.Config
	resolver   *content.Resolver
	cache      *thumbcache.Cache
	dispatcher *rpc.Dispatcher
}

func NewServer(cfg *config.Config, resolver *content.Resolver, cache *thumbcache.Cache, dispatcher *rpc.Dispatcher) *Server {
	return &Server{cfg: cfg, resolver: resolver, cache: cache, dispatcher: dispatcher}
}

// Handler builds the routing table with logging, metrics and the origin
// gate applied outermost.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /ws", s.handleMessage)
	mux.HandleFunc("GET /content/thumb/{path...}", s.handleThumbnail)
	mux.HandleFunc("GET /content/scaled/{path...}", s.handleScaled)
	mux.HandleFunc("GET /static/{path...}", s.handleStatic)

	var h http.Handler = mux
	h = OriginGate(s.cfg.OriginAllowList, h)
	h = logging.Middleware(h)
	h = metrics.Middleware(h)
	return h
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleMessage carries one protocol message per request body.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req rpc.Request
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		json.NewEncoder(w).Encode(rpc.Response{
			Error: &rpc.Error{Code: rpc.CodeMalformedRequest, Message: "Malformed"},
		})
		return
	}
	resp := s.dispatcher.Dispatch(r.Context(), req)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error("encode protocol response", zap.Error(err))
	}
}

// handleThumbnail serves previews. Without query parameters it populates
// the persistent cache and redirects to the cached artifact's static URL;
// with width, height and mode it streams a fresh, uncached rendition.
func (s *Server) handleThumbnail(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	q := r.URL.Query()

	if !q.Has("width") || !q.Has("height") || !q.Has("mode") {
		rel := s.resolver.Guard().Normalize(path)
		_, _, err := s.cache.GetOrCreate(rel, func() ([]byte, error) {
			return s.resolver.DefaultThumbnail(r.Context(), rel)
		})
		if err != nil {
			s.writeContentError(w, err)
			return
		}
		http.Redirect(w, r, s.cfg.StaticContentURL+"/cache/"+thumbcache.RelativeKey(rel), http.StatusFound)
		return
	}

	width, errW := strconv.Atoi(q.Get("width"))
	height, errH := strconv.Atoi(q.Get("height"))
	if errW != nil || errH != nil {
		http.Error(w, "width and height must be integers", http.StatusBadRequest)
		return
	}
	data, contentType, err := s.resolver.Thumbnail(r.Context(), path, width, height, q.Get("mode"))
	if err != nil {
		s.writeContentError(w, err)
		return
	}
	s.writeMedia(w, data, contentType)
}

// handleScaled serves a scaled rendition of a still image. Width and
// height are required, mode defaults to fit.
func (s *Server) handleScaled(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	q := r.URL.Query()

	width, errW := strconv.Atoi(q.Get("width"))
	height, errH := strconv.Atoi(q.Get("height"))
	if errW != nil || errH != nil {
		http.Error(w, "width and height must be integers", http.StatusBadRequest)
		return
	}
	mode := q.Get("mode")
	if mode == "" {
		mode = config.ScalingFit
	}
	data, contentType, err := s.resolver.ScaledImage(r.Context(), path, width, height, mode)
	if err != nil {
		s.writeContentError(w, err)
		return
	}
	s.writeMedia(w, data, contentType)
}

// handleStatic is the raw passthrough for sandboxed files, including the
// cache directory beneath the sandbox.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	abs, info, err := s.resolver.Guard().Resolve(r.PathValue("path"), sandbox.TypeFile)
	if err != nil {
		s.writeContentError(w, err)
		return
	}
	f, err := os.Open(abs)
	if err != nil {
		s.writeContentError(w, sandbox.ErrPermission)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", sniffContentType(abs, f))
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	metrics.RecordContentBytes(info.Size())
}

// sniffContentType resolves the content type from the extension, falling
// back to magic-byte detection for extensionless files such as cached
// thumbnails.
func sniffContentType(path string, f *os.File) string {
	if t := mimeByExtension(path); t != "" {
		return t
	}
	head := make([]byte, 261)
	n, _ := f.ReadAt(head, 0)
	if kind, err := filetype.Match(head[:n]); err == nil && kind != filetype.Unknown {
		return kind.MIME.Value
	}
	return "application/octet-stream"
}

func mimeByExtension(path string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "jpg", "jpeg":
		return "image/jpeg"
	case "png":
		return "image/png"
	case "gif":
		return "image/gif"
	case "tiff":
		return "image/tiff"
	case "mp4":
		return "video/mp4"
	case "avi":
		return "video/x-msvideo"
	case "pdf":
		return "application/pdf"
	default:
		return ""
	}
}

func (s *Server) writeMedia(w http.ResponseWriter, data []byte, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.Write(data)
	metrics.RecordContentBytes(int64(len(data)))
}

// writeContentError maps domain errors to the HTTP status table.
func (s *Server) writeContentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sandbox.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, sandbox.ErrOutsideSandbox), errors.Is(err, sandbox.ErrPermission):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, content.ErrBadRequest), errors.Is(err, sandbox.ErrWrongType),
		errors.Is(err, content.ErrUnsupportedType), errors.Is(err, media.ErrUnsupportedEncoding):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logging.Error("content request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// OriginGate rejects requests whose source address is not on the allow
// list. An empty list disables the gate. The source is the first entry of
// X-Forwarded-For when present, otherwise the peer address.
func OriginGate(allow []string, next http.Handler) http.Handler {
	if len(allow) == 0 {
		return next
	}
	allowed := make(map[string]struct{}, len(allow))
	for _, a := range allow {
		allowed[a] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		source := r.Header.Get("X-Forwarded-For")
		if source != "" {
			source = strings.TrimSpace(strings.Split(source, ",")[0])
		} else {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			source = host
		}
		if _, ok := allowed[source]; !ok {
			logging.Warn("rejected request from unlisted origin", zap.String("source", source))
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
