package api

import (
	"database/sql"

	"github.com/go-chi/chi/v5"

	"github.com/hong710/nexhub/internal/reconcile"
	"github.com/hong710/nexhub/internal/repository"
)

// API holds the repositories, the reconciliation engine, and the agent
// shared key for the HTTP surface.
type API struct {
	db         *sql.DB
	subnetRepo repository.SubnetRepository
	deviceRepo repository.DeviceRepository
	allocRepo  repository.AllocationRepository
	engine     *reconcile.Engine
	agentKey   string
}

// NewAPI creates the API over a database connection
func NewAPI(db *sql.DB, agentKey string) *API {
	return &API{
		db:         db,
		subnetRepo: repository.NewSubnetRepository(db),
		deviceRepo: repository.NewDeviceRepository(db),
		allocRepo:  repository.NewAllocationRepository(db),
		engine:     reconcile.NewEngine(db),
		agentKey:   agentKey,
	}
}

// RegisterRoutes registers all API routes with the router
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v0", func(r chi.Router) {
		r.Get("/subnets", a.listSubnetsHandler)
		r.Post("/subnets", a.createSubnetHandler)
		r.Get("/subnets/{id}", a.getSubnetHandler)
		r.Put("/subnets/{id}", a.updateSubnetHandler)
		r.Delete("/subnets/{id}", a.deleteSubnetHandler)

		r.Get("/devices", a.listDevicesHandler)
		r.Get("/devices/{id}", a.getDeviceHandler)
		r.Delete("/devices/{id}", a.deleteDeviceHandler)

		r.Get("/allocations", a.listAllocationsHandler)
		r.Get("/allocations/counts", a.allocationCountsHandler)
		r.Patch("/allocations/{id}", a.updateAllocationHandler)

		r.Post("/reconcile", a.reconcileHandler)

		r.With(BearerAuth(a.agentKey)).Post("/agent/report", a.agentReportHandler)
	})
}
