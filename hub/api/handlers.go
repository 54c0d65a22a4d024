package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/clarketm/json"
	"github.com/julienschmidt/httprouter"

	"github.com/heaplane/heaplane/hub/store"
	"github.com/heaplane/heaplane/pkg/protocol"
	"github.com/heaplane/heaplane/pkg/version"
)

type (
	healthResponse struct {
		Status    string `json:"status"`
		Timestamp int64  `json:"timestamp"`
		Services  int    `json:"services"`
		Alerts    int    `json:"alerts"`
	}

	metricsResponse struct {
		Service string             `json:"service"`
		Metrics []protocol.Metrics `json:"metrics"`
		Total   int                `json:"total"`
	}

	snapshotsResponse struct {
		Snapshots []protocol.SnapshotInfo `json:"snapshots"`
		Sessions  []SnapshotSession       `json:"sessions"`
	}

	uploadRequest struct {
		ServiceName  string `json:"serviceName"`
		ContainerID  string `json:"containerId"`
		Phase        string `json:"phase"`
		SnapshotData string `json:"snapshotData"`
		Filename     string `json:"filename"`
	}

	compareRequest struct {
		ServiceName      string `json:"serviceName"`
		ContainerID      string `json:"containerId"`
		BeforeSnapshotID string `json:"beforeSnapshotId"`
		AfterSnapshotID  string `json:"afterSnapshotId"`
	}

	// compareResponse always carries the analysis field; it is null unless
	// the session completed.
	compareResponse struct {
		SessionID        string                     `json:"sessionId"`
		Status           string                     `json:"status"`
		Analysis         *protocol.AnalysisReport   `json:"analysis"`
		Error            string                     `json:"error,omitempty"`
		MissingSnapshots *protocol.MissingSnapshots `json:"missingSnapshots,omitempty"`
	}
)

func (h *Handler) handleNotFound(w http.ResponseWriter, req *http.Request) {
	renderJsonError(w, fmt.Errorf("endpoint not found: %s", req.URL.Path), http.StatusNotFound)
}

func (h *Handler) handleHealth(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	_, connected := h.store.ServiceCounts()
	renderJson(w, healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UnixMilli(),
		Services:  connected,
		Alerts:    h.store.AlertCount(),
	})
}

func (h *Handler) handleVersion(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	renderJson(w, map[string]string{"version": version.Version})
}

func (h *Handler) handleServices(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	renderJson(w, h.store.ConnectedServices())
}

func (h *Handler) handleServiceMetrics(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	name := p.ByName("name")
	limit, err := intParam(req, "limit")
	if err != nil {
		renderJsonError(w, fmt.Errorf("invalid limit: %s", err), http.StatusBadRequest)
		return
	}
	from, err := int64Param(req, "from")
	if err != nil {
		renderJsonError(w, fmt.Errorf("invalid from: %s", err), http.StatusBadRequest)
		return
	}
	to, err := int64Param(req, "to")
	if err != nil {
		renderJsonError(w, fmt.Errorf("invalid to: %s", err), http.StatusBadRequest)
		return
	}

	samples, total, ok := h.store.MetricsWindow(name, from, to, limit)
	if !ok {
		renderJsonError(w, fmt.Errorf("service %s not found", name), http.StatusNotFound)
		return
	}
	renderJson(w, metricsResponse{Service: name, Metrics: samples, Total: total})
}

func (h *Handler) handleAlerts(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	limit, err := intParam(req, "limit")
	if err != nil {
		renderJsonError(w, fmt.Errorf("invalid limit: %s", err), http.StatusBadRequest)
		return
	}
	renderJson(w, h.store.Alerts(req.FormValue("service"), req.FormValue("severity"), limit))
}

func (h *Handler) handleStats(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	renderJson(w, h.store.Stats())
}

func (h *Handler) handleSnapshots(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	snapshots := h.store.Snapshots()
	renderJson(w, snapshotsResponse{
		Snapshots: snapshots,
		Sessions:  groupSessions(snapshots),
	})
}

// handleSnapshotUpload ingests a whole snapshot in one request. It is the
// single-shot equivalent of announce, one chunk, and complete, and emits the
// same subscriber events.
func (h *Handler) handleSnapshotUpload(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	body := req.Body
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, req.Body, h.maxBodyBytes)
	}

	var upload uploadRequest
	if err := json.NewDecoder(body).Decode(&upload); err != nil {
		renderJsonError(w, fmt.Errorf("decoding upload request: %s", err), http.StatusBadRequest)
		return
	}
	if upload.ServiceName == "" || upload.Phase == "" || upload.SnapshotData == "" {
		renderJsonError(w, fmt.Errorf("serviceName, phase and snapshotData are required"), http.StatusBadRequest)
		return
	}

	ts := time.Now().UnixMilli()
	filename := upload.Filename
	if filename == "" {
		filename = fmt.Sprintf("%s_%s_%d.heapsnapshot", upload.Phase, upload.ServiceName, ts)
	}

	info, events, err := h.reassembler.IngestWhole(upload.ServiceName, upload.ContainerID, upload.Phase, filename, upload.SnapshotData, ts)
	if err != nil {
		renderJsonError(w, err, http.StatusInternalServerError)
		return
	}
	h.publisher.PublishAll(events)
	renderJson(w, info)
}

// handleSnapshotCompare runs a comparison inline and returns the terminal
// session. A pair with a missing half leaves the session waiting and reports
// which snapshot is absent.
func (h *Handler) handleSnapshotCompare(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	var compare compareRequest
	if err := json.NewDecoder(req.Body).Decode(&compare); err != nil {
		renderJsonError(w, fmt.Errorf("decoding compare request: %s", err), http.StatusBadRequest)
		return
	}
	if compare.ServiceName == "" || compare.BeforeSnapshotID == "" || compare.AfterSnapshotID == "" {
		renderJsonError(w, fmt.Errorf("serviceName, beforeSnapshotId and afterSnapshotId are required"), http.StatusBadRequest)
		return
	}

	sess, missing := h.coordinator.RunSync(compare.ServiceName, compare.ContainerID, compare.BeforeSnapshotID, compare.AfterSnapshotID)

	resp := compareResponse{
		SessionID: sess.ID,
		Status:    sess.Status,
		Analysis:  sess.Analysis,
		Error:     sess.Error,
	}
	if sess.Status == store.SessionWaiting {
		resp.MissingSnapshots = &missing
	}
	renderJson(w, resp)
}

func (h *Handler) handleComparisons(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	renderJson(w, h.store.Sessions())
}

func (h *Handler) handleComparison(w http.ResponseWriter, req *http.Request, p httprouter.Params) {
	id := p.ByName("sessionId")
	sess, ok := h.store.SessionByID(id)
	if !ok {
		renderJsonError(w, fmt.Errorf("comparison session %s not found", id), http.StatusNotFound)
		return
	}
	renderJson(w, sess)
}

func intParam(req *http.Request, name string) (int, error) {
	raw := req.FormValue(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func int64Param(req *http.Request, name string) (int64, error) {
	raw := req.FormValue(name)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
