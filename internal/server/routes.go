package server

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func addRoutes(r chi.Router, logger *slog.Logger, deps Deps, batches *batchCache) {
	pers := &persister{logger: logger, store: deps.Store, sink: deps.Snapshots}

	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("Memory Hunt API", "/openapi.json", "/docs"))
	r.Get("/healthz", handleHealthz(logger, deps.DB))
	r.Get("/ws", handleWS(logger, deps.Hub, deps.Issuer))

	r.Post("/api/auth/device", handleDeviceAuth(logger, deps.Issuer, deps.FacilitatorHash))

	r.Group(func(r chi.Router) {
		r.Use(requireDevice(deps.Issuer))

		r.Post("/api/scan", handleScan(logger, deps.Processor, deps.Hub, pers, deps.Media))
		r.Post("/api/batch", handleBatch(logger, deps.Processor, deps.Hub, pers, batches))
		r.Get("/api/state", handleState(deps.Hub))

		r.Group(func(r chi.Router) {
			r.Use(requireFacilitator)

			r.Post("/api/admin/session", handleCreateSession(logger, deps.Store, deps.Hub, pers))
			r.Post("/api/admin/session/status", handleSetSessionStatus(logger, deps.Store, deps.Hub, pers))
			r.Post("/api/admin/adjust", handleAdjust(logger, deps.Processor, deps.Hub, pers))
		})
	})
}
