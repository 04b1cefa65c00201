package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hong710/nexhub/internal/domain"
	"github.com/hong710/nexhub/internal/ipam"
)

// AllocationFilter narrows ledger queries. Zero values mean "no filter".
type AllocationFilter struct {
	SubnetID       int64
	Status         string
	Search         string // matches address, hostname, or MAC
	NeedsAttention bool   // only flagged records
	Page           int    // 1-based
	PageSize       int
}

// AllocationRepository is the read/query surface of the allocation
// ledger plus the row primitives the reconciliation engine composes
// inside its transactions. Nothing else mutates ledger rows.
type AllocationRepository interface {
	FindByID(ctx context.Context, id int64) (domain.AllocationRecord, error)
	FindByAddress(ctx context.Context, subnetID int64, ipAddress string) (domain.AllocationRecord, error)
	FindBySubnetID(ctx context.Context, subnetID int64) ([]domain.AllocationRecord, error)
	FindByDeviceID(ctx context.Context, deviceID int64) ([]domain.AllocationRecord, error)
	Query(ctx context.Context, filter AllocationFilter) ([]domain.AllocationRecord, int64, error)
	CountByStatus(ctx context.Context, subnetID int64) (domain.StatusCounts, error)

	Create(ctx context.Context, rec domain.AllocationRecord) (domain.AllocationRecord, error)
	Update(ctx context.Context, rec domain.AllocationRecord) error
	DeleteByID(ctx context.Context, id int64) error
	DeleteBySubnetID(ctx context.Context, subnetID int64) (int64, error)
}

// allocationRepositoryImpl implements AllocationRepository
type allocationRepositoryImpl struct {
	db DBTX
}

// NewAllocationRepository creates a new allocation repository
func NewAllocationRepository(db DBTX) AllocationRepository {
	return &allocationRepositoryImpl{
		db: db,
	}
}

const allocationColumns = `id, ip_address, subnet_id, ip_type, status, device_id,
	hostname, mac_address, is_bmc, platform, manufacturer, description, active, needs_attention,
	created_at, updated_at`

// Create inserts a new ledger row. The UNIQUE(ip_address, subnet_id)
// constraint turns a racing create into ErrDuplicate, which the engine
// retries as an update.
func (r *allocationRepositoryImpl) Create(ctx context.Context, rec domain.AllocationRecord) (domain.AllocationRecord, error) {
	if rec.IPAddress == "" {
		return domain.AllocationRecord{}, fmt.Errorf("%w: allocation address is required", ErrInvalidEntity)
	}
	if rec.SubnetID == 0 {
		return domain.AllocationRecord{}, fmt.Errorf("%w: allocation subnet is required", ErrInvalidEntity)
	}
	numeric, err := ipam.ParseIPv4(rec.IPAddress)
	if err != nil {
		return domain.AllocationRecord{}, fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO allocations (ip_address, ip_numeric, subnet_id, ip_type, status, device_id,
			hostname, mac_address, is_bmc, platform, manufacturer, description, active, needs_attention)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.IPAddress, numeric, rec.SubnetID, rec.IPType, rec.Status, rec.DeviceID,
		rec.Hostname, rec.MACAddress, rec.IsBMC, rec.Platform, rec.Manufacturer, rec.Description,
		rec.Active, rec.NeedsAttention)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.AllocationRecord{}, fmt.Errorf("%w: allocation for %s in subnet %d",
				ErrDuplicate, rec.IPAddress, rec.SubnetID)
		}
		return domain.AllocationRecord{}, fmt.Errorf("failed to create allocation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.AllocationRecord{}, fmt.Errorf("failed to get allocation ID: %w", err)
	}
	rec.ID = id
	return rec, nil
}

// Update rewrites the mutable fields of a ledger row
func (r *allocationRepositoryImpl) Update(ctx context.Context, rec domain.AllocationRecord) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE allocations
		SET ip_type = ?, status = ?, device_id = ?, hostname = ?, mac_address = ?, is_bmc = ?,
			platform = ?, manufacturer = ?, description = ?, active = ?, needs_attention = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		rec.IPType, rec.Status, rec.DeviceID, rec.Hostname, rec.MACAddress, rec.IsBMC,
		rec.Platform, rec.Manufacturer, rec.Description, rec.Active, rec.NeedsAttention,
		rec.ID)
	if err != nil {
		return fmt.Errorf("failed to update allocation: %w", err)
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

// FindByID finds a ledger record by ID
func (r *allocationRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.AllocationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE id = ?`, id)
	return scanAllocation(row)
}

// FindByAddress finds the record for one (address, subnet) key
func (r *allocationRepositoryImpl) FindByAddress(ctx context.Context, subnetID int64, ipAddress string) (domain.AllocationRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE subnet_id = ? AND ip_address = ?`,
		subnetID, ipAddress)
	return scanAllocation(row)
}

// FindBySubnetID returns every record in a subnet in address order
func (r *allocationRepositoryImpl) FindBySubnetID(ctx context.Context, subnetID int64) ([]domain.AllocationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE subnet_id = ? ORDER BY ip_numeric`, subnetID)
	if err != nil {
		return nil, fmt.Errorf("failed to find allocations for subnet: %w", err)
	}
	defer rows.Close()
	return scanAllocations(rows)
}

// FindByDeviceID returns every record referencing a device
func (r *allocationRepositoryImpl) FindByDeviceID(ctx context.Context, deviceID int64) ([]domain.AllocationRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+allocationColumns+` FROM allocations WHERE device_id = ? ORDER BY ip_numeric`, deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to find allocations for device: %w", err)
	}
	defer rows.Close()
	return scanAllocations(rows)
}

// Query filters the ledger and returns one page plus the total match count
func (r *allocationRepositoryImpl) Query(ctx context.Context, filter AllocationFilter) ([]domain.AllocationRecord, int64, error) {
	where := "1=1"
	var args []any

	if filter.SubnetID != 0 {
		where += " AND subnet_id = ?"
		args = append(args, filter.SubnetID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.NeedsAttention {
		where += " AND needs_attention = 1"
	}
	if filter.Search != "" {
		where += " AND (ip_address LIKE ? OR hostname LIKE ? OR mac_address LIKE ?)"
		like := "%" + filter.Search + "%"
		args = append(args, like, like, like)
	}

	var total int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM allocations WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count allocations: %w", err)
	}

	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE ` + where + ` ORDER BY ip_numeric`
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.PageSize, (page-1)*filter.PageSize)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query allocations: %w", err)
	}
	defer rows.Close()

	records, err := scanAllocations(rows)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// CountByStatus aggregates record counts per status. A zero subnetID
// aggregates globally.
func (r *allocationRepositoryImpl) CountByStatus(ctx context.Context, subnetID int64) (domain.StatusCounts, error) {
	query := `SELECT status, COUNT(*) FROM allocations`
	var args []any
	if subnetID != 0 {
		query += ` WHERE subnet_id = ?`
		args = append(args, subnetID)
	}
	query += ` GROUP BY status`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return domain.StatusCounts{}, fmt.Errorf("failed to count allocations by status: %w", err)
	}
	defer rows.Close()

	var counts domain.StatusCounts
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return domain.StatusCounts{}, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts.Total += n
		switch status {
		case domain.StatusAvailable:
			counts.Available = n
		case domain.StatusAllocated:
			counts.Allocated = n
		case domain.StatusReserved:
			counts.Reserved = n
		case domain.StatusQuarantine:
			counts.Quarantine = n
		}
	}
	return counts, rows.Err()
}

// DeleteByID deletes a single ledger record
func (r *allocationRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM allocations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete allocation: %w", err)
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

// DeleteBySubnetID deletes every record in a subnet (cascade on subnet
// deletion) and returns how many rows were removed.
func (r *allocationRepositoryImpl) DeleteBySubnetID(ctx context.Context, subnetID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM allocations WHERE subnet_id = ?`, subnetID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete subnet allocations: %w", err)
	}
	return result.RowsAffected()
}

func scanAllocation(row *sql.Row) (domain.AllocationRecord, error) {
	var rec domain.AllocationRecord
	err := row.Scan(
		&rec.ID, &rec.IPAddress, &rec.SubnetID, &rec.IPType, &rec.Status, &rec.DeviceID,
		&rec.Hostname, &rec.MACAddress, &rec.IsBMC, &rec.Platform, &rec.Manufacturer, &rec.Description,
		&rec.Active, &rec.NeedsAttention, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.AllocationRecord{}, ErrNotFound
		}
		return domain.AllocationRecord{}, fmt.Errorf("failed to find allocation: %w", err)
	}
	return rec, nil
}

func scanAllocations(rows *sql.Rows) ([]domain.AllocationRecord, error) {
	var records []domain.AllocationRecord
	for rows.Next() {
		var rec domain.AllocationRecord
		err := rows.Scan(
			&rec.ID, &rec.IPAddress, &rec.SubnetID, &rec.IPType, &rec.Status, &rec.DeviceID,
			&rec.Hostname, &rec.MACAddress, &rec.IsBMC, &rec.Platform, &rec.Manufacturer, &rec.Description,
			&rec.Active, &rec.NeedsAttention, &rec.CreatedAt, &rec.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan allocation: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
