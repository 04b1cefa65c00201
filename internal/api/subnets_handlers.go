package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hong710/nexhub/internal/domain"
	"github.com/hong710/nexhub/internal/ipam"
	"github.com/hong710/nexhub/internal/reconcile"
	"github.com/hong710/nexhub/internal/repository"
)

// SubnetRequest is the JSON body for subnet create/update
type SubnetRequest struct {
	Name        string   `json:"name"`
	CIDR        string   `json:"cidr"`
	VLANID      *int64   `json:"vlan_id,omitempty"`
	Gateway     string   `json:"gateway,omitempty"`
	Description string   `json:"description,omitempty"`
	StaticPools []string `json:"static_pools,omitempty"`
}

// SubnetResponse is a subnet plus its derived pool and utilization data
type SubnetResponse struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	CIDR        string   `json:"cidr"`
	VLANID      *int64   `json:"vlan_id,omitempty"`
	Gateway     string   `json:"gateway,omitempty"`
	Description string   `json:"description,omitempty"`
	StaticPools []string `json:"static_pools"`
	DHCPPools   []string `json:"dhcp_pools"`

	UsableIPs            uint32  `json:"usable_ips"`
	AvailableIPs         int64   `json:"available_ips"`
	AllocationPercentage float64 `json:"allocation_percentage"`

	Reconcile *reconcile.SubnetResult `json:"reconcile,omitempty"`
}

func (a *API) listSubnetsHandler(w http.ResponseWriter, r *http.Request) {
	subnets, err := a.subnetRepo.FindAll(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := make([]SubnetResponse, 0, len(subnets))
	for _, s := range subnets {
		sr, err := a.subnetResponse(r, s, nil)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		resp = append(resp, sr)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) getSubnetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subnet ID")
		return
	}

	subnet, err := a.subnetRepo.FindByID(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp, err := a.subnetResponse(r, subnet, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) createSubnetHandler(w http.ResponseWriter, r *http.Request) {
	a.upsertSubnet(w, r, 0)
}

func (a *API) updateSubnetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subnet ID")
		return
	}
	a.upsertSubnet(w, r, id)
}

// upsertSubnet validates and saves a subnet definition, then fires the
// reconciliation engine so the ledger's static coverage follows it.
func (a *API) upsertSubnet(w http.ResponseWriter, r *http.Request, id int64) {
	var req SubnetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	subnet := domain.Subnet{
		ID:          id,
		Name:        req.Name,
		CIDR:        req.CIDR,
		VLANID:      req.VLANID,
		Gateway:     req.Gateway,
		Description: req.Description,
		StaticPools: req.StaticPools,
	}

	// Subnet and pool rows move together
	err := repository.Transact(r.Context(), a.db, func(tx *sql.Tx) error {
		saved, err := repository.NewSubnetRepository(tx).Save(r.Context(), subnet)
		if err != nil {
			return err
		}
		subnet = saved
		return nil
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := a.engine.OnSubnetUpserted(r.Context(), subnet)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp, err := a.subnetResponse(r, subnet, &result)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if id == 0 {
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (a *API) deleteSubnetHandler(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subnet ID")
		return
	}

	// Ledger records go first; the cascade is explicit, not an FK side effect
	if _, err := a.engine.OnSubnetDeleted(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := a.subnetRepo.DeleteByID(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// subnetResponse decorates a subnet with its derived DHCP pools and
// utilization figures.
func (a *API) subnetResponse(r *http.Request, s domain.Subnet, result *reconcile.SubnetResult) (SubnetResponse, error) {
	network, err := ipam.ParseNetwork(s.CIDR)
	if err != nil {
		return SubnetResponse{}, err
	}
	static, err := ipam.ParsePools(network, s.StaticPools)
	if err != nil {
		return SubnetResponse{}, err
	}

	dhcp := ipam.DHCPPool(network, static)
	dhcpStrings := make([]string, 0, len(dhcp))
	for _, rg := range dhcp {
		dhcpStrings = append(dhcpStrings, rg.String())
	}

	counts, err := a.allocRepo.CountByStatus(r.Context(), s.ID)
	if err != nil {
		return SubnetResponse{}, err
	}

	usable := network.UsableSize()
	available := int64(usable) - counts.Allocated - counts.Reserved - counts.Quarantine
	var pct float64
	if usable > 0 {
		pct = float64(counts.Allocated) / float64(usable) * 100
	}

	if s.StaticPools == nil {
		s.StaticPools = []string{}
	}
	return SubnetResponse{
		ID:                   s.ID,
		Name:                 s.Name,
		CIDR:                 s.CIDR,
		VLANID:               s.VLANID,
		Gateway:              s.Gateway,
		Description:          s.Description,
		StaticPools:          s.StaticPools,
		DHCPPools:            dhcpStrings,
		UsableIPs:            usable,
		AvailableIPs:         available,
		AllocationPercentage: pct,
		Reconcile:            result,
	}, nil
}
