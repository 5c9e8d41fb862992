// Package httpapi implements the optional inspection REST API: read-only
// JSON endpoints over a capture's hierarchical row view, for scripting
// and for a future non-GTK frontend. Routing, CORS, and access logging
// follow the same gorilla/mux and gorilla/handlers wiring used
// elsewhere in this codebase; page-level responses are memoized in a
// small cache so repeated requests for the same row range don't
// re-walk the capture store.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/packetry/packetry/internal/cache"
	"github.com/packetry/packetry/internal/view"
	pklog "github.com/packetry/packetry/pkg/log"
)

// rowsPageCacheTTL bounds how long a rendered page of rows is served
// from cache before a request re-walks the view; short enough that a
// capture still in progress reflects new rows quickly.
const rowsPageCacheTTL = 200 * time.Millisecond

const rowsPageCacheBudget = 1 << 20

// Server holds the named views this API exposes and a small response
// cache for rendered row pages.
type Server struct {
	views map[string]*view.View
	cache *cache.Cache[[]byte]
}

// NewServer builds a Server over the given named views (e.g.
// "hierarchical", "transactions", "packets").
func NewServer(views map[string]*view.View) *Server {
	return &Server{views: views, cache: cache.New[[]byte](rowsPageCacheBudget)}
}

// Router builds the mux.Router serving this Server's routes, wrapped
// with CORS and access logging.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/views/{view}/rows", s.handleRows).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/views/{view}/expand/{index}", s.handleExpand).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/views/{view}/collapse/{index}", s.handleCollapse).Methods(http.MethodPost)
	r.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedOrigins([]string{"*"})))
	return handlers.CustomLoggingHandler(pklog.InfoWriter, r, func(w io.Writer, params handlers.LogFormatterParams) {
		pklog.Finfof(w, "%s %s (Response: %d, Size: %d)", params.Request.Method, params.URL.RequestURI(), params.StatusCode, params.Size)
	})
}

type rowDTO struct {
	Depth       int    `json:"depth"`
	Summary     string `json:"summary"`
	TimestampNs int64  `json:"timestamp_ns"`
	Expandable  bool   `json:"expandable"`
	Expanded    bool   `json:"expanded"`
	ChildCount  int    `json:"child_count"`
	CursorKind  int    `json:"cursor_kind"`
	CursorID    uint64 `json:"cursor_id"`
}

type rowsPage struct {
	Total uint64   `json:"total"`
	Start uint64   `json:"start"`
	Rows  []rowDTO `json:"rows"`
}

func (s *Server) lookupView(r *http.Request) (*view.View, bool) {
	v, ok := s.views[mux.Vars(r)["view"]]
	return v, ok
}

// handleRows serves a page of rendered rows: ?start=N&count=M, both
// optional (default start=0, count=100).
func (s *Server) handleRows(w http.ResponseWriter, r *http.Request) {
	v, ok := s.lookupView(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	start := queryUint(r, "start", 0)
	count := queryUint(r, "count", 100)

	key := mux.Vars(r)["view"] + ":" + strconv.FormatUint(start, 10) + ":" + strconv.FormatUint(count, 10)
	body := s.cache.Get(key, func() ([]byte, time.Duration, int) {
		page := buildPage(v, start, count)
		raw, err := json.Marshal(page)
		if err != nil {
			return nil, 0, 0
		}
		return raw, rowsPageCacheTTL, len(raw)
	})
	if body == nil {
		http.Error(w, "failed to render rows", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(body)
}

func buildPage(v *view.View, start, count uint64) rowsPage {
	total := v.RowCount()
	page := rowsPage{Total: total, Start: start}
	for i := uint64(0); i < count && start+i < total; i++ {
		row, err := v.RowAt(start + i)
		if err != nil {
			break
		}
		page.Rows = append(page.Rows, rowDTO{
			Depth:       row.Depth,
			Summary:     row.Summary,
			TimestampNs: row.TimestampNs,
			Expandable:  row.Expandable,
			Expanded:    row.Expanded,
			ChildCount:  row.ChildCount,
			CursorKind:  int(row.Cursor.Kind),
			CursorID:    row.Cursor.ID,
		})
	}
	return page
}

func (s *Server) handleExpand(w http.ResponseWriter, r *http.Request) {
	s.mutateRow(w, r, (*view.View).Expand)
}

func (s *Server) handleCollapse(w http.ResponseWriter, r *http.Request) {
	s.mutateRow(w, r, (*view.View).Collapse)
}

func (s *Server) mutateRow(w http.ResponseWriter, r *http.Request, fn func(*view.View, uint64) error) {
	v, ok := s.lookupView(r)
	if !ok {
		http.NotFound(w, r)
		return
	}
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 64)
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	if err := fn(v, index); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func queryUint(r *http.Request, name string, def uint64) uint64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}
