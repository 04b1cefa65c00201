package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hong710/nexhub/internal/domain"
	"github.com/hong710/nexhub/internal/reconcile"
)

// AgentReportResponse tells the agent what its report did
type AgentReportResponse struct {
	DeviceID   int64             `json:"device_id"`
	Created    bool              `json:"created"`
	Outcome    reconcile.Outcome `json:"outcome"`
	BMCOutcome reconcile.Outcome `json:"bmc_outcome,omitempty"`
}

// agentReportHandler ingests a device report from the collection
// agent. Authentication already happened in BearerAuth; from here the
// flow is identity resolution, then reconciliation if the resolved
// device's address changed.
func (a *API) agentReportHandler(w http.ResponseWriter, r *http.Request) {
	var report domain.DeviceReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if report.Hostname == "" {
		writeError(w, http.StatusBadRequest, "hostname is required")
		return
	}

	device, created, err := a.engine.ResolveIdentity(r.Context(), report)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	outcome := reconcile.OutcomeNoChange
	if report.IPAddress != "" && report.IPAddress != device.IPAddress {
		outcome, err = a.engine.OnDeviceAddressChanged(r.Context(), device, device.IPAddress, report.IPAddress)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		// The engine saved the moved address; keep the local copy in
		// step so the BMC pass does not write the old one back.
		device.IPAddress = report.IPAddress
	}

	bmcOutcome := reconcile.OutcomeNoChange
	if report.BMCIP != "" && report.BMCIP != device.BMCIP {
		bmcOutcome, err = a.engine.OnDeviceBMCAddressChanged(r.Context(), device, device.BMCIP, report.BMCIP)
		if err != nil {
			writeDomainError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, AgentReportResponse{
		DeviceID:   device.ID,
		Created:    created,
		Outcome:    outcome,
		BMCOutcome: bmcOutcome,
	})
}

func (a *API) listDevicesHandler(w http.ResponseWriter, r *http.Request) {
	devices, err := a.deviceRepo.FindAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if devices == nil {
		devices = []domain.Device{}
	}
	writeJSON(w, http.StatusOK, devices)
}

func (a *API) getDeviceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device ID")
		return
	}

	device, err := a.deviceRepo.FindByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

// deleteDeviceHandler removes a device after releasing every ledger
// record it holds.
func (a *API) deleteDeviceHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid device ID")
		return
	}

	device, err := a.deviceRepo.FindByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if err := a.engine.OnDeviceDeleted(r.Context(), device); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := a.deviceRepo.DeleteByID(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
