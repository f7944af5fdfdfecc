// Package opstatus implements the optional diagnostics HTTP endpoint
// exposed by "hdist serve": a read-only, localhost-only view of store
// and source-cache occupancy, for operators checking on a running
// build host without shelling in.
package opstatus

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/handlers"
	"hashdist.dev/hashdist/internal/buildstore"
	"hashdist.dev/hashdist/internal/gc"
	"hashdist.dev/hashdist/internal/sourcecache"
	"hashdist.dev/hashdist/internal/xnet"
)

// Server answers diagnostic requests about one build store, source
// cache, and GC roots directory.
type Server struct {
	Store  *buildstore.Store
	Source *sourcecache.Cache
	Roots  *gc.Roots
}

// Status is the JSON document served at "/status".
type Status struct {
	StoreRoot    string            `json:"store_root"`
	Roots        map[string]string `json:"roots"`
	SourceTags   map[string]string `json:"source_tags"`
	GeneratedAt  time.Time         `json:"generated_at"`
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.Handle("/status", handlers.MethodHandler{
		http.MethodGet:  http.HandlerFunc(srv.handleStatus),
		http.MethodHead: http.HandlerFunc(srv.handleStatus),
	})
	localOnly{mux}.ServeHTTP(w, r)
}

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	roots, err := srv.Roots.List()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	tags := make(map[string]string)
	for k, tag := range srv.Source.Tags() {
		tags[string(k)] = string(tag)
	}

	status := Status{
		StoreRoot:   srv.Store.Root(),
		Roots:       roots,
		SourceTags:  tags,
		GeneratedAt: time.Now(),
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type localOnly struct {
	handler http.Handler
}

func (m localOnly) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !xnet.IsLocalhost(r) {
		http.Error(w, "only localhost connections permitted", http.StatusForbidden)
		return
	}
	m.handler.ServeHTTP(w, r)
}
