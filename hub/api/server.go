// Package api is the hub's REST query surface. Every endpoint reads the
// session store or drives the analysis coordinator; none of them touches a
// socket or holds state of its own.
package api

import (
	"net/http"

	"github.com/clarketm/json"
	"github.com/julienschmidt/httprouter"
	log "github.com/sirupsen/logrus"

	"github.com/heaplane/heaplane/hub/analysis"
	"github.com/heaplane/heaplane/hub/publish"
	"github.com/heaplane/heaplane/hub/reassembly"
	"github.com/heaplane/heaplane/hub/store"
)

type jsonError struct {
	Error string `json:"error"`
}

// Handler serves the REST endpoints. It is mounted behind the connection
// handler, which routes every non-upgrade request here.
type Handler struct {
	store         *store.Store
	reassembler   *reassembly.Reassembler
	coordinator   *analysis.Coordinator
	publisher     *publish.Publisher
	allowedOrigin string
	maxBodyBytes  int64
	router        *httprouter.Router
}

// NewHandler builds the REST router. maxBodyBytes bounds upload request
// bodies; zero means unbounded.
func NewHandler(
	st *store.Store,
	reassembler *reassembly.Reassembler,
	coordinator *analysis.Coordinator,
	publisher *publish.Publisher,
	allowedOrigin string,
	maxBodyBytes int64,
) *Handler {
	h := &Handler{
		store:         st,
		reassembler:   reassembler,
		coordinator:   coordinator,
		publisher:     publisher,
		allowedOrigin: allowedOrigin,
		maxBodyBytes:  maxBodyBytes,
	}

	h.router = &httprouter.Router{
		RedirectTrailingSlash:  true,
		RedirectFixedPath:      true,
		HandleMethodNotAllowed: false, // disable 405s
	}
	h.router.NotFound = http.HandlerFunc(h.handleNotFound)

	h.router.GET("/health", h.handleHealth)
	h.router.GET("/api/version", h.handleVersion)
	h.router.GET("/api/services", h.handleServices)
	h.router.GET("/api/services/:name/metrics", h.handleServiceMetrics)
	h.router.GET("/api/alerts", h.handleAlerts)
	h.router.GET("/api/stats", h.handleStats)
	h.router.GET("/api/snapshots", h.handleSnapshots)
	h.router.POST("/api/snapshots/upload", h.handleSnapshotUpload)
	h.router.POST("/api/snapshots/compare", h.handleSnapshotCompare)
	h.router.GET("/api/snapshots/comparisons", h.handleComparisons)
	h.router.GET("/api/snapshots/comparisons/:sessionId", h.handleComparison)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if h.allowedOrigin != "" {
		w.Header().Set("Access-Control-Allow-Origin", h.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	}
	if req.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.router.ServeHTTP(w, req)
}

func renderJson(w http.ResponseWriter, resp interface{}) {
	w.Header().Set("Content-Type", "application/json")
	jsonResp, err := json.Marshal(resp)
	if err != nil {
		renderJsonError(w, err, http.StatusInternalServerError)
		return
	}
	w.Write(jsonResp)
}

func renderJsonError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	log.Error(err.Error())
	rsp, _ := json.Marshal(jsonError{Error: err.Error()})
	w.WriteHeader(status)
	w.Write(rsp)
}
