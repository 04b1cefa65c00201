package reconcile

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/hong710/nexhub/internal/domain"
	"github.com/hong710/nexhub/internal/repository"
)

// ResolveIdentity matches an inbound device report to an existing
// device or creates one, using ordered-preference matching: uuid, then
// MAC, then current address, then hostname. The first field that is
// present in the report and matches an existing device wins.
//
// A created device gets an auto-generated uuid when the report omitted
// one, so future re-submissions of the same report stay idempotent.
// The unique constraints on uuid/mac/hostname plus the engine's
// create-then-conflict retry make two concurrent identical reports
// converge on a single device.
//
// The matched device's identity and hardware metadata are refreshed
// from the report; its current addresses are NOT changed here - that is
// the job of OnDeviceAddressChanged and OnDeviceBMCAddressChanged, so
// the ledger and device row move together.
func (e *Engine) ResolveIdentity(ctx context.Context, report domain.DeviceReport) (domain.Device, bool, error) {
	var (
		device  domain.Device
		created bool
	)
	err := e.transact(ctx, func(tx *sql.Tx) error {
		devices := repository.NewDeviceRepository(tx)

		found, err := matchReport(ctx, devices, report)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return err
		}

		if errors.Is(err, repository.ErrNotFound) {
			d := reportToDevice(report)
			if d.UUID == "" {
				d.UUID = uuid.NewString()
			}
			d.IPAddress = "" // claimed later through the engine
			d, err = devices.Save(ctx, d)
			if err != nil {
				return err
			}
			device = d
			created = true
			return nil
		}

		mergeReport(&found, report)
		found, err = devices.Save(ctx, found)
		if err != nil {
			return err
		}
		device = found
		created = false
		return nil
	})
	if err != nil {
		return domain.Device{}, false, err
	}
	return device, created, nil
}

// matchReport walks the identity preference order
func matchReport(ctx context.Context, devices repository.DeviceRepository, report domain.DeviceReport) (domain.Device, error) {
	type lookup struct {
		value string
		find  func(context.Context, string) (domain.Device, error)
	}
	lookups := []lookup{
		{report.UUID, devices.FindByUUID},
		{report.MAC, devices.FindByMAC},
		{report.IPAddress, devices.FindByIPAddress},
		{report.Hostname, devices.FindByHostname},
	}

	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		d, err := l.find(ctx, l.value)
		if err == nil {
			return d, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return domain.Device{}, err
		}
	}
	return domain.Device{}, repository.ErrNotFound
}

// reportToDevice builds a new device from a report
func reportToDevice(r domain.DeviceReport) domain.Device {
	return domain.Device{
		UUID:         r.UUID,
		Hostname:     r.Hostname,
		MAC:          r.MAC,
		BMCMAC:       r.BMCMAC,
		Status:       domain.DeviceActive,
		DataSource:   "api",
		Manufacturer: r.Manufacturer,
		Platform:     r.Platform,
		OS:           r.OS,
		OSVersion:    r.OSVersion,
		Kernel:       r.Kernel,
		CPU:          r.CPU,
		CoreCount:    r.CoreCount,
		TotalMemGB:   r.TotalMemGB,
		DiskCount:    r.DiskCount,
	}
}

// mergeReport refreshes a matched device from a report. Empty report
// fields never erase known values.
func mergeReport(d *domain.Device, r domain.DeviceReport) {
	if r.UUID != "" {
		d.UUID = r.UUID
	}
	if r.Hostname != "" {
		d.Hostname = r.Hostname
	}
	if r.MAC != "" {
		d.MAC = r.MAC
	}
	if r.BMCMAC != "" {
		d.BMCMAC = r.BMCMAC
	}
	if r.Manufacturer != "" {
		d.Manufacturer = r.Manufacturer
	}
	if r.Platform != "" {
		d.Platform = r.Platform
	}
	if r.OS != "" {
		d.OS = r.OS
	}
	if r.OSVersion != "" {
		d.OSVersion = r.OSVersion
	}
	if r.Kernel != "" {
		d.Kernel = r.Kernel
	}
	if r.CPU != "" {
		d.CPU = r.CPU
	}
	if r.CoreCount != nil {
		d.CoreCount = r.CoreCount
	}
	if r.TotalMemGB != nil {
		d.TotalMemGB = r.TotalMemGB
	}
	if r.DiskCount != nil {
		d.DiskCount = r.DiskCount
	}
	d.DataSource = "api"
}
