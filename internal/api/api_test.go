package api_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hong710/nexhub/internal/api"
	"github.com/hong710/nexhub/internal/domain"
	"github.com/hong710/nexhub/internal/reconcile"
	"github.com/hong710/nexhub/internal/testutil"
)

const testAgentKey = "test-shared-key"

func setupServer(t *testing.T, testName, agentKey string) (*httptest.Server, *sql.DB, func()) {
	db, cleanup := testutil.SetupTestDBWithMigrations(t, testName)

	r := chi.NewRouter()
	api.NewAPI(db, agentKey).RegisterRoutes(r)
	server := httptest.NewServer(r)

	return server, db, func() {
		server.Close()
		cleanup()
	}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestSubnetLifecycle(t *testing.T) {
	server, _, cleanup := setupServer(t, "api_subnet_lifecycle", "")
	defer cleanup()

	// Create
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name:        "lab",
		CIDR:        "10.0.0.0/24",
		Gateway:     "10.0.0.1",
		StaticPools: []string{"10.0.0.10-10.0.0.12"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var created api.SubnetResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotZero(t, created.ID)
	assert.Equal(t, uint32(254), created.UsableIPs)
	assert.Equal(t, []string{"10.0.0.10-10.0.0.12"}, created.StaticPools)
	assert.Equal(t, []string{"10.0.0.1-10.0.0.9", "10.0.0.13-10.0.0.254"}, created.DHCPPools)
	require.NotNil(t, created.Reconcile)
	assert.Equal(t, int64(3), created.Reconcile.Created)

	// Get
	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v0/subnets/%d", server.URL, created.ID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched api.SubnetResponse
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, "lab", fetched.Name)

	// Update: shrink the pool
	resp, body = doJSON(t, http.MethodPut, fmt.Sprintf("%s/api/v0/subnets/%d", server.URL, created.ID), api.SubnetRequest{
		Name:        "lab",
		CIDR:        "10.0.0.0/24",
		StaticPools: []string{"10.0.0.10-10.0.0.11"},
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated api.SubnetResponse
	require.NoError(t, json.Unmarshal(body, &updated))
	require.NotNil(t, updated.Reconcile)
	assert.Equal(t, int64(1), updated.Reconcile.Demoted)

	// List
	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v0/subnets", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []api.SubnetResponse
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Len(t, list, 1)

	// Delete
	resp, _ = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/v0/subnets/%d", server.URL, created.ID), nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v0/subnets/%d", server.URL, created.ID), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSubnetValidation(t *testing.T) {
	server, _, cleanup := setupServer(t, "api_subnet_validation", "")
	defer cleanup()

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name: "bad", CIDR: "not-a-network",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name: "lab", CIDR: "10.0.0.0/24",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Overlapping CIDR is a configuration conflict
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name: "wide", CIDR: "10.0.0.0/16",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Duplicate name
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name: "lab", CIDR: "10.9.0.0/24",
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAgentReportAuth(t *testing.T) {
	server, _, cleanup := setupServer(t, "api_agent_auth", testAgentKey)
	defer cleanup()

	report := domain.DeviceReport{Hostname: "node01"}

	// No token
	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v0/agent/report", report, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong token
	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/v0/agent/report", report,
		map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Correct token
	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v0/agent/report", report,
		map[string]string{"Authorization": "Bearer " + testAgentKey})
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}

func TestAgentReportDisabledWithoutKey(t *testing.T) {
	server, _, cleanup := setupServer(t, "api_agent_disabled", "")
	defer cleanup()

	resp, _ := doJSON(t, http.MethodPost, server.URL+"/api/v0/agent/report",
		domain.DeviceReport{Hostname: "node01"},
		map[string]string{"Authorization": "Bearer anything"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestAgentReportFlow(t *testing.T) {
	server, _, cleanup := setupServer(t, "api_agent_flow", testAgentKey)
	defer cleanup()
	auth := map[string]string{"Authorization": "Bearer " + testAgentKey}

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name: "lab", CIDR: "10.0.0.0/24", StaticPools: []string{"10.0.0.1-10.0.0.3"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	report := domain.DeviceReport{
		Hostname:  "node01",
		MAC:       "aa:bb:cc:dd:ee:ff",
		IPAddress: "10.0.0.2",
		OS:        "Debian",
	}

	// First report creates the device and claims the address
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v0/agent/report", report, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var first api.AgentReportResponse
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, first.Created)
	assert.Equal(t, reconcile.OutcomeClaimed, first.Outcome)

	// The ledger shows the claim
	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v0/allocations?status=allocated", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page api.AllocationPage
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Records, 1)
	assert.Equal(t, "10.0.0.2", page.Records[0].IPAddress)
	assert.Equal(t, "node01", page.Records[0].Hostname)

	// Repeating the same report is a no-op
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v0/agent/report", report, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var second api.AgentReportResponse
	require.NoError(t, json.Unmarshal(body, &second))
	assert.False(t, second.Created)
	assert.Equal(t, first.DeviceID, second.DeviceID)
	assert.Equal(t, reconcile.OutcomeNoChange, second.Outcome)

	// The device moved: old claim released, new one created
	report.IPAddress = "10.0.0.50"
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v0/agent/report", report, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var third api.AgentReportResponse
	require.NoError(t, json.Unmarshal(body, &third))
	assert.Equal(t, reconcile.OutcomeClaimed, third.Outcome)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v0/allocations?status=allocated", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Records, 1)
	assert.Equal(t, "10.0.0.50", page.Records[0].IPAddress)

	resp, _ = doJSON(t, http.MethodPost, server.URL+"/api/v0/agent/report",
		domain.DeviceReport{IPAddress: "10.0.0.9"}, auth)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "hostname is required")
}

func TestAgentReportSyncsBMCAddress(t *testing.T) {
	server, db, cleanup := setupServer(t, "api_agent_bmc", testAgentKey)
	defer cleanup()
	auth := map[string]string{"Authorization": "Bearer " + testAgentKey}

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name: "lab", CIDR: "10.0.0.0/24", StaticPools: []string{"10.0.0.1-10.0.0.5"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	report := domain.DeviceReport{
		Hostname:  "node01",
		MAC:       "aa:bb:cc:dd:ee:ff",
		IPAddress: "10.0.0.2",
		BMCIP:     "10.0.0.3",
		BMCMAC:    "aa:bb:cc:dd:ee:01",
	}

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v0/agent/report", report, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var reported api.AgentReportResponse
	require.NoError(t, json.Unmarshal(body, &reported))
	assert.Equal(t, reconcile.OutcomeClaimed, reported.Outcome)
	assert.Equal(t, reconcile.OutcomeClaimed, reported.BMCOutcome)

	// One report, two claims: the primary NIC and the BMC
	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v0/allocations?status=allocated", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page api.AllocationPage
	require.NoError(t, json.Unmarshal(body, &page))
	require.Len(t, page.Records, 2)
	byIP := map[string]domain.AllocationRecord{}
	for _, rec := range page.Records {
		byIP[rec.IPAddress] = rec
	}
	assert.False(t, byIP["10.0.0.2"].IsBMC)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", byIP["10.0.0.2"].MACAddress)
	assert.True(t, byIP["10.0.0.3"].IsBMC)
	assert.Equal(t, "aa:bb:cc:dd:ee:01", byIP["10.0.0.3"].MACAddress)

	// The device row carries both addresses; the BMC pass must not
	// clobber the primary one.
	resp, body = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v0/devices/%d", server.URL, reported.DeviceID), nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var device domain.Device
	require.NoError(t, json.Unmarshal(body, &device))
	assert.Equal(t, "10.0.0.2", device.IPAddress)
	assert.Equal(t, "10.0.0.3", device.BMCIP)

	// Repeating the report changes nothing
	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v0/agent/report", report, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &reported))
	assert.Equal(t, reconcile.OutcomeNoChange, reported.Outcome)
	assert.Equal(t, reconcile.OutcomeNoChange, reported.BMCOutcome)

	var total int64
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM allocations WHERE status = 'allocated'`).Scan(&total))
	assert.Equal(t, int64(2), total)
}

func TestManualAllocationEdit(t *testing.T) {
	server, db, cleanup := setupServer(t, "api_manual_edit", "")
	defer cleanup()

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name: "lab", CIDR: "10.0.0.0/24", StaticPools: []string{"10.0.0.1-10.0.0.3"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var recID int64
	err := db.QueryRow(`SELECT id FROM allocations WHERE ip_address = '10.0.0.1'`).Scan(&recID)
	require.NoError(t, err)

	// Description on an available record is rejected
	desc := "edge router"
	resp, _ = doJSON(t, http.MethodPatch, fmt.Sprintf("%s/api/v0/allocations/%d", server.URL, recID),
		reconcile.ManualEdit{Description: &desc}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	// Reserving with a description succeeds
	status := domain.StatusReserved
	resp, body = doJSON(t, http.MethodPatch, fmt.Sprintf("%s/api/v0/allocations/%d", server.URL, recID),
		reconcile.ManualEdit{Status: &status, Description: &desc}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var rec domain.AllocationRecord
	require.NoError(t, json.Unmarshal(body, &rec))
	assert.Equal(t, domain.StatusReserved, rec.Status)
	assert.Equal(t, desc, rec.Description)

	// Unknown record
	resp, _ = doJSON(t, http.MethodPatch, server.URL+"/api/v0/allocations/99999",
		reconcile.ManualEdit{Status: &status}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAllocationCountsEndpoint(t *testing.T) {
	server, _, cleanup := setupServer(t, "api_counts", "")
	defer cleanup()

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name: "lab", CIDR: "10.0.0.0/24", StaticPools: []string{"10.0.0.1-10.0.0.4"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v0/allocations/counts", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var counts domain.StatusCounts
	require.NoError(t, json.Unmarshal(body, &counts))
	assert.Equal(t, domain.StatusCounts{Total: 4, Available: 4}, counts)
}

func TestDeviceEndpoints(t *testing.T) {
	server, _, cleanup := setupServer(t, "api_devices", testAgentKey)
	defer cleanup()
	auth := map[string]string{"Authorization": "Bearer " + testAgentKey}

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name: "lab", CIDR: "10.0.0.0/24", StaticPools: []string{"10.0.0.1-10.0.0.3"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v0/agent/report", domain.DeviceReport{
		Hostname: "node01", IPAddress: "10.0.0.2",
	}, auth)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var reported api.AgentReportResponse
	require.NoError(t, json.Unmarshal(body, &reported))

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v0/devices", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var devices []domain.Device
	require.NoError(t, json.Unmarshal(body, &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "node01", devices[0].Hostname)

	resp, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v0/devices/%d", server.URL, reported.DeviceID), nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Deleting the device releases its static claim
	resp, _ = doJSON(t, http.MethodDelete, fmt.Sprintf("%s/api/v0/devices/%d", server.URL, reported.DeviceID), nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v0/allocations?status=allocated", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page api.AllocationPage
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Empty(t, page.Records)

	resp, _ = doJSON(t, http.MethodGet, fmt.Sprintf("%s/api/v0/devices/%d", server.URL, reported.DeviceID), nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReconcileEndpoint(t *testing.T) {
	server, _, cleanup := setupServer(t, "api_reconcile", "")
	defer cleanup()

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name: "lab", CIDR: "10.0.0.0/24", StaticPools: []string{"10.0.0.1-10.0.0.3"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodPost, server.URL+"/api/v0/reconcile", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary reconcile.Summary
	require.NoError(t, json.Unmarshal(body, &summary))
	assert.Equal(t, int64(1), summary.Subnets)
	assert.Equal(t, domain.StatusCounts{Total: 3, Available: 3}, summary.Counts)
}

func TestListAllocationsPagination(t *testing.T) {
	server, _, cleanup := setupServer(t, "api_alloc_pagination", "")
	defer cleanup()

	resp, body := doJSON(t, http.MethodPost, server.URL+"/api/v0/subnets", api.SubnetRequest{
		Name: "lab", CIDR: "10.0.0.0/24", StaticPools: []string{"10.0.0.1-10.0.0.30"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v0/allocations?page_size=25&page=2", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page api.AllocationPage
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, int64(30), page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 25, page.PageSize)
	assert.Len(t, page.Records, 5)

	// Unknown page sizes fall back to the default
	resp, body = doJSON(t, http.MethodGet, server.URL+"/api/v0/allocations?page_size=7", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &page))
	assert.Equal(t, 25, page.PageSize)
	assert.Len(t, page.Records, 25)
}
