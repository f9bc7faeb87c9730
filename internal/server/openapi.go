package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "Memory Hunt API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Orchestrator API for the memory-token scavenger game.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /ws
	getWS, _ := r.NewOperationContext(http.MethodGet, "/ws")
	getWS.SetSummary("Realtime sync stream")
	getWS.SetDescription("Upgrades to a WebSocket connection. Pass the device token as the token query parameter; rejected handshakes close with codes 4001-4003.")
	getWS.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	_ = r.AddOperation(getWS)

	// POST /api/auth/device
	postAuth, _ := r.NewOperationContext(http.MethodPost, "/api/auth/device")
	postAuth.SetSummary("Issue device token")
	postAuth.SetDescription("Issues the signed bearer token a station presents on REST calls and the websocket handshake. Facilitator devices must supply the password when one is configured.")
	postAuth.AddReqStructure(DeviceAuthRequest{})
	postAuth.AddRespStructure(DeviceAuthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postAuth.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postAuth.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(postAuth)

	// POST /api/scan
	postScan, _ := r.NewOperationContext(http.MethodPost, "/api/scan")
	postScan.SetSummary("Submit a token scan")
	postScan.SetDescription("Processes one scan through the transaction pipeline. Requires Bearer token.")
	postScan.AddReqStructure(ScanRequest{})
	postScan.AddRespStructure(ScanResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postScan.AddRespStructure(ScanResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postScan.AddRespStructure(ScanResponse{}, openapi.WithHTTPStatus(http.StatusUnprocessableEntity))
	postScan.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postScan.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(postScan)

	// POST /api/batch
	postBatch, _ := r.NewOperationContext(http.MethodPost, "/api/batch")
	postBatch.SetSummary("Replay an offline batch")
	postBatch.SetDescription("Applies queued scans in order. Replaying a batch id returns the recorded response without reprocessing. Requires Bearer token.")
	postBatch.AddReqStructure(BatchRequest{})
	postBatch.AddRespStructure(BatchResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postBatch.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postBatch.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(postBatch)

	// GET /api/state
	getState, _ := r.NewOperationContext(http.MethodGet, "/api/state")
	getState.SetSummary("Get full state")
	getState.SetDescription("Returns the same per-device view the websocket sends on connect. Requires Bearer token.")
	getState.AddRespStructure(FullState{}, openapi.WithHTTPStatus(http.StatusOK))
	getState.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	_ = r.AddOperation(getState)

	// POST /api/admin/session
	postSession, _ := r.NewOperationContext(http.MethodPost, "/api/admin/session")
	postSession.SetSummary("Create session")
	postSession.SetDescription("Creates the single game session with its team roster. Requires a facilitator token.")
	postSession.AddReqStructure(CreateSessionRequest{})
	postSession.AddRespStructure(SessionMeta{}, openapi.WithHTTPStatus(http.StatusCreated))
	postSession.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postSession.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postSession.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	_ = r.AddOperation(postSession)

	// POST /api/admin/session/status
	postStatus, _ := r.NewOperationContext(http.MethodPost, "/api/admin/session/status")
	postStatus.SetSummary("Change session status")
	postStatus.SetDescription("Moves the session through its lifecycle: active, paused, ended, archived. Requires a facilitator token.")
	postStatus.AddReqStructure(SetStatusRequest{})
	postStatus.AddRespStructure(SessionMeta{}, openapi.WithHTTPStatus(http.StatusOK))
	postStatus.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postStatus.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	postStatus.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postStatus.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	_ = r.AddOperation(postStatus)

	// POST /api/admin/adjust
	postAdjust, _ := r.NewOperationContext(http.MethodPost, "/api/admin/adjust")
	postAdjust.SetSummary("Adjust a team score")
	postAdjust.SetDescription("Applies a manual score correction as an audited transaction. Requires a facilitator token.")
	postAdjust.AddReqStructure(AdjustRequest{})
	postAdjust.AddRespStructure(ScanResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postAdjust.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusBadRequest))
	postAdjust.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	postAdjust.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusForbidden))
	_ = r.AddOperation(postAdjust)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
