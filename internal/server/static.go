package server

import (
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/habspeaker/habspeaker/internal/config"
)

// staticHandler serves the web client from the resources directory. With
// gzip enabled a pre-compressed "<name>.gz" next to the requested file is
// preferred for clients that accept it.
type staticHandler struct {
	alias  string
	root   http.Dir
	gzip   bool
	files  http.Handler
	logger *slog.Logger
}

func newStaticHandler(alias string, cfg config.WebConfig, logger *slog.Logger) *staticHandler {
	root := http.Dir(cfg.ResourcesBase)
	return &staticHandler{
		alias:  alias,
		root:   root,
		gzip:   cfg.Gzip,
		files:  http.StripPrefix(alias, http.FileServer(root)),
		logger: logger,
	}
}

func (s *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.gzip && acceptsGzip(r.Header.Get("Accept-Encoding")) {
		if s.serveCompressed(w, r) {
			return
		}
	}

	s.files.ServeHTTP(w, r)
}

func (s *staticHandler) serveCompressed(w http.ResponseWriter, r *http.Request) bool {
	name := strings.TrimPrefix(r.URL.Path, s.alias)
	if name == "" || strings.HasSuffix(name, "/") {
		name += "index.html"
	}

	f, err := s.root.Open(name + ".gz")
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")
	http.ServeContent(w, r, name, info.ModTime(), f)

	s.logger.Debug("Served compressed resource", slog.String("path", name))
	return true
}

// acceptsGzip reports whether an Accept-Encoding header allows gzip
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		coding = strings.ToLower(strings.TrimSpace(coding))
		if coding != "gzip" && coding != "*" {
			continue
		}

		q := 1.0
		if k, v, ok := strings.Cut(strings.TrimSpace(params), "="); ok && strings.TrimSpace(k) == "q" {
			if parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				q = parsed
			}
		}
		if q > 0 {
			return true
		}
	}
	return false
}
