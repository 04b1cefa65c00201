package domain

// IP type values for allocation records
const (
	IPTypeStatic = "static"
	IPTypeDHCP   = "dhcp"
)

// Allocation status values
const (
	StatusAvailable  = "available"
	StatusAllocated  = "allocated"
	StatusReserved   = "reserved"
	StatusQuarantine = "quarantine"
)

// Device lifecycle status values
const (
	DeviceActive         = "active"
	DeviceInactive       = "inactive"
	DeviceMaintenance    = "maintenance"
	DeviceDecommissioned = "decommissioned"
)

// Subnet represents a managed network segment
type Subnet struct {
	ID          int64    // Unique identifier
	Name        string   // Subnet name (e.g., "lab-mgmt")
	CIDR        string   // Network in CIDR notation (e.g., "10.0.0.0/24")
	VLANID      *int64   // VLAN id 1-4094 (optional)
	Gateway     string   // Gateway IP address (optional)
	Description string   // Optional description
	StaticPools []string // Ordered "start-end" static pool ranges
}

// Device represents a server known to the inventory. The identity
// fields (UUID, MAC, Hostname, IPAddress) are each individually unique
// when present; Device is the authority for who holds an address.
type Device struct {
	ID         int64  `json:"id"`
	UUID       string `json:"uuid,omitempty"`       // System UUID (optional, unique)
	Hostname   string `json:"hostname"`             // Unique
	IPAddress  string `json:"ip_address,omitempty"` // Current primary address (optional, unique)
	MAC        string `json:"mac,omitempty"`        // Primary NIC MAC (optional, unique)
	BMCIP      string `json:"bmc_ip,omitempty"`     // Out-of-band management address (optional, unique)
	BMCMAC     string `json:"bmc_mac,omitempty"`    // BMC NIC MAC
	Status     string `json:"status"`               // active, inactive, maintenance, decommissioned
	DataSource string `json:"data_source"`          // manual, discovery, import, api

	// Hardware metadata, not relevant to allocation invariants
	Manufacturer string `json:"manufacturer,omitempty"`
	Platform     string `json:"platform,omitempty"` // Product name
	OS           string `json:"os,omitempty"`
	OSVersion    string `json:"os_version,omitempty"`
	Kernel       string `json:"kernel,omitempty"`
	CPU          string `json:"cpu,omitempty"`
	CoreCount    *int64 `json:"core_count,omitempty"`
	TotalMemGB   *int64 `json:"total_mem_gb,omitempty"`
	DiskCount    *int64 `json:"disk_count,omitempty"`
}

// DeviceReport is an inbound payload from the collection agent.
// Only Hostname is required; everything else is best-effort.
type DeviceReport struct {
	Hostname     string `json:"hostname"`
	UUID         string `json:"uuid,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	MAC          string `json:"nic_mac,omitempty"`
	BMCIP        string `json:"bmc_ip,omitempty"`
	BMCMAC       string `json:"bmc_mac,omitempty"`
	Manufacturer string `json:"manufacture,omitempty"`
	Platform     string `json:"product_name,omitempty"`
	OS           string `json:"os,omitempty"`
	OSVersion    string `json:"os_version,omitempty"`
	Kernel       string `json:"kernel,omitempty"`
	CPU          string `json:"cpu,omitempty"`
	CoreCount    *int64 `json:"core_count,omitempty"`
	TotalMemGB   *int64 `json:"total_mem,omitempty"`
	DiskCount    *int64 `json:"disk_count,omitempty"`
}

// AllocationRecord is the ledger entry for one (address, subnet) pair.
// Device fields are denormalized snapshots copied at allocation time,
// not live joins; DeviceID is a weak reference.
type AllocationRecord struct {
	ID             int64  `json:"id"`
	IPAddress      string `json:"ip_address"` // Dotted-quad address
	SubnetID       int64  `json:"subnet_id"`  // Owning subnet
	IPType         string `json:"ip_type"`    // static or dhcp
	Status         string `json:"status"`     // available, allocated, reserved, quarantine
	DeviceID       *int64 `json:"device_id,omitempty"`
	Hostname       string `json:"hostname,omitempty"`     // Snapshot of device hostname
	MACAddress     string `json:"mac_address,omitempty"`  // Snapshot of the claiming NIC's MAC
	IsBMC          bool   `json:"is_bmc"`                 // Claimed by the device's BMC, not its primary NIC
	Platform       string `json:"platform,omitempty"`     // Snapshot of device platform
	Manufacturer   string `json:"manufacturer,omitempty"` // Snapshot of device manufacturer
	Description    string `json:"description,omitempty"`  // Free text, writable only while reserved
	Active         bool   `json:"active"`                 // Liveness flag, externally supplied
	NeedsAttention bool   `json:"needs_attention"`        // Set when a pool edit strands a live record
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

// StatusCounts aggregates ledger records per status.
type StatusCounts struct {
	Total      int64 `json:"total"`
	Available  int64 `json:"available"`
	Allocated  int64 `json:"allocated"`
	Reserved   int64 `json:"reserved"`
	Quarantine int64 `json:"quarantine"`
}
