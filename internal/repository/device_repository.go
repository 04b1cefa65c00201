package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hong710/nexhub/internal/domain"
)

// DeviceRepository defines domain-specific operations for devices
type DeviceRepository interface {
	Repository[domain.Device, int64]
	FindByUUID(ctx context.Context, uuid string) (domain.Device, error)
	FindByMAC(ctx context.Context, mac string) (domain.Device, error)
	FindByIPAddress(ctx context.Context, ip string) (domain.Device, error)
	FindByHostname(ctx context.Context, hostname string) (domain.Device, error)
}

// deviceRepositoryImpl implements DeviceRepository
type deviceRepositoryImpl struct {
	db DBTX
}

// NewDeviceRepository creates a new device repository
func NewDeviceRepository(db DBTX) DeviceRepository {
	return &deviceRepositoryImpl{
		db: db,
	}
}

const deviceColumns = `id, uuid, hostname, ip_address, mac, bmc_ip, bmc_mac, status, data_source,
	manufacturer, platform, os, os_version, kernel, cpu, core_count, total_mem_gb, disk_count`

// Save creates or updates a device
func (r *deviceRepositoryImpl) Save(ctx context.Context, device domain.Device) (domain.Device, error) {
	if device.Hostname == "" {
		return domain.Device{}, fmt.Errorf("%w: device hostname is required", ErrInvalidEntity)
	}
	if device.Status == "" {
		device.Status = domain.DeviceActive
	}
	if device.DataSource == "" {
		device.DataSource = "manual"
	}

	if device.ID == 0 {
		return r.createDevice(ctx, device)
	}
	return r.updateDevice(ctx, device)
}

// createDevice inserts a new device into the database
func (r *deviceRepositoryImpl) createDevice(ctx context.Context, d domain.Device) (domain.Device, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO devices (uuid, hostname, ip_address, mac, bmc_ip, bmc_mac, status, data_source,
			manufacturer, platform, os, os_version, kernel, cpu, core_count, total_mem_gb, disk_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		nullable(d.UUID), d.Hostname, nullable(d.IPAddress), nullable(d.MAC), nullable(d.BMCIP), d.BMCMAC,
		d.Status, d.DataSource,
		d.Manufacturer, d.Platform, d.OS, d.OSVersion, d.Kernel, d.CPU, d.CoreCount, d.TotalMemGB, d.DiskCount)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.Device{}, fmt.Errorf("%w: device identity collides: %v", ErrDuplicate, err)
		}
		return domain.Device{}, fmt.Errorf("failed to create device: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Device{}, fmt.Errorf("failed to get device ID: %w", err)
	}
	d.ID = id
	return d, nil
}

// updateDevice updates an existing device in the database
func (r *deviceRepositoryImpl) updateDevice(ctx context.Context, d domain.Device) (domain.Device, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE devices
		SET uuid = ?, hostname = ?, ip_address = ?, mac = ?, bmc_ip = ?, bmc_mac = ?,
			status = ?, data_source = ?,
			manufacturer = ?, platform = ?, os = ?, os_version = ?, kernel = ?, cpu = ?,
			core_count = ?, total_mem_gb = ?, disk_count = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		nullable(d.UUID), d.Hostname, nullable(d.IPAddress), nullable(d.MAC), nullable(d.BMCIP), d.BMCMAC,
		d.Status, d.DataSource,
		d.Manufacturer, d.Platform, d.OS, d.OSVersion, d.Kernel, d.CPU,
		d.CoreCount, d.TotalMemGB, d.DiskCount, d.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.Device{}, fmt.Errorf("%w: device identity collides: %v", ErrDuplicate, err)
		}
		return domain.Device{}, fmt.Errorf("failed to update device: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Device{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Device{}, ErrNotFound
	}
	return d, nil
}

// FindByID finds a device by ID
func (r *deviceRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Device, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByUUID finds a device by its unique system UUID
func (r *deviceRepositoryImpl) FindByUUID(ctx context.Context, uuid string) (domain.Device, error) {
	return r.findOne(ctx, "uuid = ?", uuid)
}

// FindByMAC finds a device by its unique primary MAC address
func (r *deviceRepositoryImpl) FindByMAC(ctx context.Context, mac string) (domain.Device, error) {
	return r.findOne(ctx, "mac = ?", mac)
}

// FindByIPAddress finds a device by its unique current address
func (r *deviceRepositoryImpl) FindByIPAddress(ctx context.Context, ip string) (domain.Device, error) {
	return r.findOne(ctx, "ip_address = ?", ip)
}

// FindByHostname finds a device by its unique hostname
func (r *deviceRepositoryImpl) FindByHostname(ctx context.Context, hostname string) (domain.Device, error) {
	return r.findOne(ctx, "hostname = ?", hostname)
}

func (r *deviceRepositoryImpl) findOne(ctx context.Context, where string, arg any) (domain.Device, error) {
	var d domain.Device
	var uuid, ip, mac, bmcIP sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE `+where, arg).Scan(
		&d.ID, &uuid, &d.Hostname, &ip, &mac, &bmcIP, &d.BMCMAC, &d.Status, &d.DataSource,
		&d.Manufacturer, &d.Platform, &d.OS, &d.OSVersion, &d.Kernel, &d.CPU,
		&d.CoreCount, &d.TotalMemGB, &d.DiskCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Device{}, ErrNotFound
		}
		return domain.Device{}, fmt.Errorf("failed to find device: %w", err)
	}
	d.UUID = uuid.String
	d.IPAddress = ip.String
	d.MAC = mac.String
	d.BMCIP = bmcIP.String
	return d, nil
}

// FindAll finds all devices ordered by hostname
func (r *deviceRepositoryImpl) FindAll(ctx context.Context) ([]domain.Device, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+deviceColumns+` FROM devices ORDER BY hostname`)
	if err != nil {
		return nil, fmt.Errorf("failed to find devices: %w", err)
	}
	defer rows.Close()

	var devices []domain.Device
	for rows.Next() {
		var d domain.Device
		var uuid, ip, mac, bmcIP sql.NullString
		err := rows.Scan(
			&d.ID, &uuid, &d.Hostname, &ip, &mac, &bmcIP, &d.BMCMAC, &d.Status, &d.DataSource,
			&d.Manufacturer, &d.Platform, &d.OS, &d.OSVersion, &d.Kernel, &d.CPU,
			&d.CoreCount, &d.TotalMemGB, &d.DiskCount)
		if err != nil {
			return nil, fmt.Errorf("failed to scan device: %w", err)
		}
		d.UUID = uuid.String
		d.IPAddress = ip.String
		d.MAC = mac.String
		d.BMCIP = bmcIP.String
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// DeleteByID deletes a device by ID
func (r *deviceRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ExistsByID checks if a device exists by ID
func (r *deviceRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM devices WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check device existence: %w", err)
	}
	return count > 0, nil
}

// nullable maps "" to NULL so empty identity fields never trip the
// unique constraints.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
