package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hong710/nexhub/internal/domain"
	"github.com/hong710/nexhub/internal/ipam"
	"github.com/hong710/nexhub/internal/log"
	"github.com/hong710/nexhub/internal/repository"
)

// Outcome classifies what a device address change did to the ledger, so
// "outside managed space" is distinguishable from a successful claim.
type Outcome string

const (
	OutcomeClaimed   Outcome = "claimed"   // new address upserted as allocated
	OutcomeUnmanaged Outcome = "unmanaged" // new address is in no managed subnet
	OutcomeReleased  Outcome = "released"  // only the old address was released
	OutcomeNoChange  Outcome = "no_change"
)

// SubnetResult summarizes what OnSubnetUpserted changed.
type SubnetResult struct {
	Created  int64    `json:"created"`  // new static records
	Promoted int64    `json:"promoted"` // dhcp records now covered by a static pool
	Demoted  int64    `json:"demoted"`  // available static records no longer covered
	Flagged  []string `json:"flagged"`  // live records stranded by a pool edit
}

// Summary is the ledger census returned by ReconcileAll.
type Summary struct {
	Subnets int64               `json:"subnets"`
	Devices int64               `json:"devices"`
	Counts  domain.StatusCounts `json:"counts"`
}

// ManualEdit is an operator-initiated ledger mutation. Nil fields are
// left untouched.
type ManualEdit struct {
	Status      *string `json:"status,omitempty"`
	Description *string `json:"description,omitempty"`
	Active      *bool   `json:"active,omitempty"`
	DeviceID    *int64  `json:"device_id,omitempty"` // required for reserved -> allocated
}

// Engine is the reconciliation engine: the only component that mutates
// the allocation ledger. Every entry point runs as one atomic
// transaction with a single bounded retry on write conflicts.
type Engine struct {
	db *sql.DB
}

// NewEngine creates a reconciliation engine over the given database
func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// transact runs fn in a transaction. A unique-constraint conflict is
// retried exactly once; inside the retry the losing writer re-reads row
// existence, so a create-conflict becomes an update. Anything beyond
// that surfaces as ErrConflictRetryExhausted.
func (e *Engine) transact(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := repository.Transact(ctx, e.db, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrDuplicate) && !repository.IsUniqueViolation(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrConflictRetryExhausted, lastErr)
}

// OnSubnetUpserted recomputes the static ledger rows for a subnet after
// its definition (CIDR or pools) changed.
//
// Newly covered addresses with no record get status=available,
// ip_type=static. Existing dhcp records now inside a static pool are
// promoted to static. Static records no longer covered are demoted to
// dhcp when available, or flagged for operator attention when allocated
// or reserved - a pool edit never destroys a live allocation or manual
// reservation. Quarantined records are not touched at all.
func (e *Engine) OnSubnetUpserted(ctx context.Context, subnet domain.Subnet) (SubnetResult, error) {
	network, err := ipam.ParseNetwork(subnet.CIDR)
	if err != nil {
		return SubnetResult{}, err
	}
	pools, err := ipam.ParsePools(network, subnet.StaticPools)
	if err != nil {
		return SubnetResult{}, err
	}

	var result SubnetResult
	err = e.transact(ctx, func(tx *sql.Tx) error {
		result = SubnetResult{}
		ledger := repository.NewAllocationRepository(tx)

		existing, err := ledger.FindBySubnetID(ctx, subnet.ID)
		if err != nil {
			return err
		}
		byAddress := make(map[string]domain.AllocationRecord, len(existing))
		for _, rec := range existing {
			byAddress[rec.IPAddress] = rec
		}

		// Walk the declared pools and make sure every covered address
		// has a static record.
		for _, pool := range pools {
			for ip := pool.Start; ; ip++ {
				addr := ipam.UintToIP(ip).String()
				rec, ok := byAddress[addr]
				if !ok {
					_, err := ledger.Create(ctx, domain.AllocationRecord{
						IPAddress: addr,
						SubnetID:  subnet.ID,
						IPType:    domain.IPTypeStatic,
						Status:    domain.StatusAvailable,
						Active:    true,
					})
					if err != nil {
						return err
					}
					result.Created++
				} else if rec.IPType == domain.IPTypeDHCP && rec.Status != domain.StatusQuarantine {
					rec.IPType = domain.IPTypeStatic
					if err := ledger.Update(ctx, rec); err != nil {
						return err
					}
					result.Promoted++
				}
				if ip == pool.End {
					break
				}
			}
		}

		// Handle static records the edited pools no longer cover.
		for _, rec := range existing {
			if rec.IPType != domain.IPTypeStatic {
				continue
			}
			ip, err := ipam.ParseIPv4(rec.IPAddress)
			if err != nil || ipam.ContainsIP(pools, ip) {
				continue
			}
			switch rec.Status {
			case domain.StatusAvailable:
				// Keep the row: the address may still be claimed via
				// DHCP, so only the type changes.
				rec.IPType = domain.IPTypeDHCP
				if err := ledger.Update(ctx, rec); err != nil {
					return err
				}
				result.Demoted++
			case domain.StatusAllocated, domain.StatusReserved:
				if !rec.NeedsAttention {
					rec.NeedsAttention = true
					if err := ledger.Update(ctx, rec); err != nil {
						return err
					}
				}
				result.Flagged = append(result.Flagged, rec.IPAddress)
			case domain.StatusQuarantine:
				// Never weakened by automatic reconciliation
			}
		}

		return nil
	})
	if err != nil {
		return SubnetResult{}, err
	}

	for _, addr := range result.Flagged {
		log.Warn("static pool edit stranded a live record",
			"subnet", subnet.Name, "ip", addr)
	}
	return result, nil
}

// OnSubnetDeleted removes every ledger record of the subnet,
// unconditionally. Deletion semantics live here, not in foreign-key
// configuration.
func (e *Engine) OnSubnetDeleted(ctx context.Context, subnetID int64) (int64, error) {
	var deleted int64
	err := e.transact(ctx, func(tx *sql.Tx) error {
		var err error
		deleted, err = repository.NewAllocationRepository(tx).DeleteBySubnetID(ctx, subnetID)
		return err
	})
	return deleted, err
}

// OnDeviceAddressChanged releases the device's old primary address and
// claims the new one in a single transaction; no intermediate state
// where both or neither record reflects the device is ever visible. The
// device row's current address is updated in the same transaction.
//
// A new address outside every managed subnet yields OutcomeUnmanaged
// with no ledger mutation for it. A quarantined new address rejects the
// whole operation with ErrAddressQuarantined.
func (e *Engine) OnDeviceAddressChanged(ctx context.Context, device domain.Device, oldAddress, newAddress string) (Outcome, error) {
	return e.changeAddress(ctx, device, oldAddress, newAddress, false)
}

// OnDeviceBMCAddressChanged is OnDeviceAddressChanged for the device's
// out-of-band management address. BMC claims carry the BMC NIC's MAC
// and are marked is_bmc on the ledger row.
func (e *Engine) OnDeviceBMCAddressChanged(ctx context.Context, device domain.Device, oldAddress, newAddress string) (Outcome, error) {
	return e.changeAddress(ctx, device, oldAddress, newAddress, true)
}

func (e *Engine) changeAddress(ctx context.Context, device domain.Device, oldAddress, newAddress string, bmc bool) (Outcome, error) {
	if oldAddress == newAddress {
		return OutcomeNoChange, nil
	}

	var outcome Outcome
	err := e.transact(ctx, func(tx *sql.Tx) error {
		outcome = OutcomeNoChange
		ledger := repository.NewAllocationRepository(tx)
		subnets, err := repository.NewSubnetRepository(tx).FindAll(ctx)
		if err != nil {
			return err
		}

		// Claim first so a quarantine rejection leaves the old claim
		// in place.
		if newAddress != "" {
			claimed, err := e.claimAddress(ctx, ledger, subnets, device, newAddress, bmc)
			if err != nil {
				return err
			}
			if claimed {
				outcome = OutcomeClaimed
			} else {
				outcome = OutcomeUnmanaged
			}
		}

		if oldAddress != "" {
			if err := e.releaseAddress(ctx, ledger, subnets, device, oldAddress); err != nil {
				return err
			}
			if outcome == OutcomeNoChange {
				outcome = OutcomeReleased
			}
		}

		// The device row stays in step with the ledger.
		if bmc {
			device.BMCIP = newAddress
		} else {
			device.IPAddress = newAddress
		}
		if _, err := repository.NewDeviceRepository(tx).Save(ctx, device); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if outcome == OutcomeUnmanaged {
		log.Info("device reported an unmanaged address",
			"hostname", device.Hostname, "ip", newAddress, "bmc", bmc)
	}
	return outcome, nil
}

// claimAddress upserts the ledger record for a newly reported address.
// A BMC claim snapshots the BMC NIC's MAC instead of the primary one.
// Returns false when the address is outside managed space.
func (e *Engine) claimAddress(ctx context.Context, ledger repository.AllocationRepository,
	subnets []domain.Subnet, device domain.Device, address string, bmc bool) (bool, error) {

	subnet, err := ipam.ResolveSubnet(address, subnets)
	if errors.Is(err, ipam.ErrNoSubnet) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	mac := device.MAC
	if bmc {
		mac = device.BMCMAC
	}

	rec, err := ledger.FindByAddress(ctx, subnet.ID, address)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		ipType, err := e.classify(subnet, address)
		if err != nil {
			return false, err
		}
		_, err = ledger.Create(ctx, domain.AllocationRecord{
			IPAddress:    address,
			SubnetID:     subnet.ID,
			IPType:       ipType,
			Status:       domain.StatusAllocated,
			DeviceID:     &device.ID,
			Hostname:     device.Hostname,
			MACAddress:   mac,
			IsBMC:        bmc,
			Platform:     device.Platform,
			Manufacturer: device.Manufacturer,
			Active:       true,
		})
		return true, err
	case err != nil:
		return false, err
	}

	if rec.Status == domain.StatusQuarantine {
		return false, fmt.Errorf("%w: %s in subnet %q", ErrAddressQuarantined, address, subnet.Name)
	}

	rec.Status = domain.StatusAllocated
	rec.DeviceID = &device.ID
	rec.Hostname = device.Hostname
	rec.MACAddress = mac
	rec.IsBMC = bmc
	rec.Platform = device.Platform
	rec.Manufacturer = device.Manufacturer
	return true, ledger.Update(ctx, rec)
}

// releaseAddress drops the device's claim on an address: static records
// revert to available with device fields cleared, dhcp records are
// deleted outright. Quarantined records are left alone.
func (e *Engine) releaseAddress(ctx context.Context, ledger repository.AllocationRepository,
	subnets []domain.Subnet, device domain.Device, address string) error {

	subnet, err := ipam.ResolveSubnet(address, subnets)
	if errors.Is(err, ipam.ErrNoSubnet) {
		return nil
	}
	if err != nil {
		return err
	}

	rec, err := ledger.FindByAddress(ctx, subnet.ID, address)
	if errors.Is(err, repository.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.DeviceID == nil || *rec.DeviceID != device.ID {
		// Someone else claimed it since; last committed writer wins.
		return nil
	}
	if rec.Status == domain.StatusQuarantine {
		return nil
	}

	return e.releaseRecord(ctx, ledger, rec)
}

// releaseRecord applies the static-revert / dhcp-delete release rule
func (e *Engine) releaseRecord(ctx context.Context, ledger repository.AllocationRepository, rec domain.AllocationRecord) error {
	if rec.IPType == domain.IPTypeDHCP {
		return ledger.DeleteByID(ctx, rec.ID)
	}
	rec.Status = domain.StatusAvailable
	rec.DeviceID = nil
	rec.Hostname = ""
	rec.MACAddress = ""
	rec.IsBMC = false
	rec.Platform = ""
	rec.Manufacturer = ""
	return ledger.Update(ctx, rec)
}

// OnDeviceDeleted releases every ledger record referencing the device.
// Static records revert to available, dhcp records are deleted.
// Quarantined records keep their status but lose the dangling device
// reference.
func (e *Engine) OnDeviceDeleted(ctx context.Context, device domain.Device) error {
	return e.transact(ctx, func(tx *sql.Tx) error {
		ledger := repository.NewAllocationRepository(tx)
		records, err := ledger.FindByDeviceID(ctx, device.ID)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.Status == domain.StatusQuarantine {
				rec.DeviceID = nil
				rec.Hostname = ""
				rec.MACAddress = ""
				rec.IsBMC = false
				rec.Platform = ""
				rec.Manufacturer = ""
				if err := ledger.Update(ctx, rec); err != nil {
					return err
				}
				continue
			}
			if err := e.releaseRecord(ctx, ledger, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

// ManualUpdate applies an operator edit to a single ledger record.
//
// Permitted transitions: available <-> reserved, reserved -> allocated
// (with an explicit device), any -> quarantine, quarantine ->
// available. Description is writable only when the resulting status is
// reserved. Clearing needs_attention is implicit on any manual edit -
// the operator has looked at the record.
func (e *Engine) ManualUpdate(ctx context.Context, recordID int64, edit ManualEdit) (domain.AllocationRecord, error) {
	var updated domain.AllocationRecord
	err := e.transact(ctx, func(tx *sql.Tx) error {
		ledger := repository.NewAllocationRepository(tx)
		rec, err := ledger.FindByID(ctx, recordID)
		if err != nil {
			return err
		}

		target := rec.Status
		if edit.Status != nil && *edit.Status != rec.Status {
			target = *edit.Status
			if !transitionAllowed(rec.Status, target) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.Status, target)
			}
			if rec.Status == domain.StatusReserved && target == domain.StatusAllocated {
				if edit.DeviceID == nil {
					return fmt.Errorf("%w: reserved -> allocated requires a device", ErrInvalidTransition)
				}
				device, err := repository.NewDeviceRepository(tx).FindByID(ctx, *edit.DeviceID)
				if err != nil {
					return err
				}
				rec.DeviceID = &device.ID
				rec.Hostname = device.Hostname
				rec.MACAddress = device.MAC
				rec.IsBMC = false
				rec.Platform = device.Platform
				rec.Manufacturer = device.Manufacturer
			}
			if target == domain.StatusAvailable {
				rec.DeviceID = nil
				rec.Hostname = ""
				rec.MACAddress = ""
				rec.IsBMC = false
				rec.Platform = ""
				rec.Manufacturer = ""
			}
			rec.Status = target
		}

		if edit.Description != nil && *edit.Description != rec.Description {
			if target != domain.StatusReserved {
				return fmt.Errorf("%w: description is writable only while reserved (status is %s)",
					ErrInvalidFieldState, target)
			}
			rec.Description = *edit.Description
		}

		if edit.Active != nil {
			rec.Active = *edit.Active
		}
		rec.NeedsAttention = false

		if err := ledger.Update(ctx, rec); err != nil {
			return err
		}
		updated = rec
		return nil
	})
	if err != nil {
		return domain.AllocationRecord{}, err
	}
	return updated, nil
}

// transitionAllowed encodes the manual status state machine
func transitionAllowed(from, to string) bool {
	switch {
	case to == domain.StatusQuarantine:
		return true
	case from == domain.StatusQuarantine:
		return to == domain.StatusAvailable
	case from == domain.StatusAvailable:
		return to == domain.StatusReserved
	case from == domain.StatusReserved:
		return to == domain.StatusAvailable || to == domain.StatusAllocated
	default:
		return false
	}
}

// ReconcileAll rebuilds the ledger from the full current set of subnets
// and devices, as if every OnSubnetUpserted and OnDeviceAddressChanged
// had been replayed. Running it twice with no intervening changes
// produces identical ledger content; quarantined claims are logged and
// skipped rather than aborting the rebuild.
func (e *Engine) ReconcileAll(ctx context.Context) (Summary, error) {
	var summary Summary
	err := e.transact(ctx, func(tx *sql.Tx) error {
		summary = Summary{}
		ledger := repository.NewAllocationRepository(tx)
		subnets, err := repository.NewSubnetRepository(tx).FindAll(ctx)
		if err != nil {
			return err
		}
		devices, err := repository.NewDeviceRepository(tx).FindAll(ctx)
		if err != nil {
			return err
		}
		summary.Subnets = int64(len(subnets))
		summary.Devices = int64(len(devices))

		deviceByID := make(map[int64]domain.Device, len(devices))
		for _, d := range devices {
			deviceByID[d.ID] = d
		}

		// Replay subnet definitions: static coverage.
		for _, subnet := range subnets {
			if err := e.replaySubnet(ctx, ledger, subnet); err != nil {
				return err
			}
		}

		// Replay device claims, primary and BMC.
		for _, device := range devices {
			claims := []struct {
				address string
				bmc     bool
			}{
				{device.IPAddress, false},
				{device.BMCIP, true},
			}
			for _, c := range claims {
				if c.address == "" {
					continue
				}
				_, err := e.claimAddress(ctx, ledger, subnets, device, c.address, c.bmc)
				if errors.Is(err, ErrAddressQuarantined) {
					log.Warn("rebuild skipped quarantined address",
						"hostname", device.Hostname, "ip", c.address)
					continue
				}
				if errors.Is(err, ipam.ErrAmbiguousSubnet) {
					log.Warn("rebuild skipped ambiguous address",
						"hostname", device.Hostname, "ip", c.address)
					continue
				}
				if err != nil {
					return err
				}
			}
		}

		// Drop claims whose device no longer exists, or no longer holds
		// the recorded address.
		for _, subnet := range subnets {
			records, err := ledger.FindBySubnetID(ctx, subnet.ID)
			if err != nil {
				return err
			}
			for _, rec := range records {
				if rec.DeviceID == nil || rec.Status == domain.StatusQuarantine {
					continue
				}
				device, ok := deviceByID[*rec.DeviceID]
				if ok && (rec.IPAddress == device.IPAddress || rec.IPAddress == device.BMCIP) {
					continue
				}
				if err := e.releaseRecord(ctx, ledger, rec); err != nil {
					return err
				}
			}
		}

		summary.Counts, err = ledger.CountByStatus(ctx, 0)
		return err
	})
	if err != nil {
		return Summary{}, err
	}
	return summary, nil
}

// replaySubnet is the in-transaction body of OnSubnetUpserted, shared
// with ReconcileAll.
func (e *Engine) replaySubnet(ctx context.Context, ledger repository.AllocationRepository, subnet domain.Subnet) error {
	network, err := ipam.ParseNetwork(subnet.CIDR)
	if err != nil {
		return err
	}
	pools, err := ipam.ParsePools(network, subnet.StaticPools)
	if err != nil {
		return err
	}

	existing, err := ledger.FindBySubnetID(ctx, subnet.ID)
	if err != nil {
		return err
	}
	byAddress := make(map[string]domain.AllocationRecord, len(existing))
	for _, rec := range existing {
		byAddress[rec.IPAddress] = rec
	}

	for _, pool := range pools {
		for ip := pool.Start; ; ip++ {
			addr := ipam.UintToIP(ip).String()
			if _, ok := byAddress[addr]; !ok {
				_, err := ledger.Create(ctx, domain.AllocationRecord{
					IPAddress: addr,
					SubnetID:  subnet.ID,
					IPType:    domain.IPTypeStatic,
					Status:    domain.StatusAvailable,
					Active:    true,
				})
				if err != nil {
					return err
				}
			}
			if ip == pool.End {
				break
			}
		}
	}
	return nil
}

// classify determines the ip_type for a fresh claim: static when the
// address sits inside a declared pool, dhcp otherwise.
func (e *Engine) classify(subnet domain.Subnet, address string) (string, error) {
	network, err := ipam.ParseNetwork(subnet.CIDR)
	if err != nil {
		return "", err
	}
	pools, err := ipam.ParsePools(network, subnet.StaticPools)
	if err != nil {
		return "", err
	}
	ip, err := ipam.ParseIPv4(address)
	if err != nil {
		return "", err
	}
	if ipam.ContainsIP(pools, ip) {
		return domain.IPTypeStatic, nil
	}
	return domain.IPTypeDHCP, nil
}
