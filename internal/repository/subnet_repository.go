package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hong710/nexhub/internal/domain"
	"github.com/hong710/nexhub/internal/ipam"
)

// SubnetRepository defines domain-specific operations for subnets
type SubnetRepository interface {
	Repository[domain.Subnet, int64]
	FindByName(ctx context.Context, name string) (domain.Subnet, error)
}

// subnetRepositoryImpl implements SubnetRepository
type subnetRepositoryImpl struct {
	db DBTX
}

// NewSubnetRepository creates a new subnet repository
func NewSubnetRepository(db DBTX) SubnetRepository {
	return &subnetRepositoryImpl{
		db: db,
	}
}

// Save creates or updates a subnet and its static pool declarations.
// The CIDR and pools are validated through the pool parser and the
// CIDR is checked against every other subnet for overlap before any
// row is written.
func (r *subnetRepositoryImpl) Save(ctx context.Context, subnet domain.Subnet) (domain.Subnet, error) {
	if err := r.validate(ctx, &subnet); err != nil {
		return domain.Subnet{}, err
	}

	if subnet.ID == 0 {
		return r.createSubnet(ctx, subnet)
	}
	return r.updateSubnet(ctx, subnet)
}

// validate enforces the subnet-definition rules before any write
func (r *subnetRepositoryImpl) validate(ctx context.Context, s *domain.Subnet) error {
	if s.Name == "" {
		return fmt.Errorf("%w: subnet name is required", ErrInvalidEntity)
	}
	if s.VLANID != nil && (*s.VLANID < 1 || *s.VLANID > 4094) {
		return fmt.Errorf("%w: vlan id %d is outside 1-4094", ErrInvalidEntity, *s.VLANID)
	}

	network, err := ipam.ParseNetwork(s.CIDR)
	if err != nil {
		return err
	}
	s.CIDR = network.CIDR

	if s.Gateway != "" {
		if _, err := ipam.ParseIPv4(s.Gateway); err != nil {
			return fmt.Errorf("%w: gateway %v", ErrInvalidEntity, err)
		}
	}

	if _, err := ipam.ParsePools(network, s.StaticPools); err != nil {
		return err
	}

	existing, err := r.FindAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to load subnets for overlap check: %w", err)
	}
	return ipam.CheckOverlap(*s, existing)
}

// createSubnet inserts a new subnet and its pool rows
func (r *subnetRepositoryImpl) createSubnet(ctx context.Context, s domain.Subnet) (domain.Subnet, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO subnets (name, cidr, vlan_id, gateway, description)
		VALUES (?, ?, ?, ?, ?)`,
		s.Name, s.CIDR, s.VLANID, s.Gateway, s.Description)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.Subnet{}, fmt.Errorf("%w: subnet %q", ErrDuplicate, s.Name)
		}
		return domain.Subnet{}, fmt.Errorf("failed to create subnet: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return domain.Subnet{}, fmt.Errorf("failed to get subnet ID: %w", err)
	}
	s.ID = id

	if err := r.replacePools(ctx, s); err != nil {
		return domain.Subnet{}, err
	}
	return s, nil
}

// updateSubnet updates an existing subnet and replaces its pool rows
func (r *subnetRepositoryImpl) updateSubnet(ctx context.Context, s domain.Subnet) (domain.Subnet, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE subnets
		SET name = ?, cidr = ?, vlan_id = ?, gateway = ?, description = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		s.Name, s.CIDR, s.VLANID, s.Gateway, s.Description, s.ID)
	if err != nil {
		if IsUniqueViolation(err) {
			return domain.Subnet{}, fmt.Errorf("%w: subnet %q", ErrDuplicate, s.Name)
		}
		return domain.Subnet{}, fmt.Errorf("failed to update subnet: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return domain.Subnet{}, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.Subnet{}, ErrNotFound
	}

	if err := r.replacePools(ctx, s); err != nil {
		return domain.Subnet{}, err
	}
	return s, nil
}

// replacePools rewrites the ordered static pool rows for a subnet
func (r *subnetRepositoryImpl) replacePools(ctx context.Context, s domain.Subnet) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM static_pools WHERE subnet_id = ?`, s.ID); err != nil {
		return fmt.Errorf("failed to clear static pools: %w", err)
	}

	network, err := ipam.ParseNetwork(s.CIDR)
	if err != nil {
		return err
	}
	ranges, err := ipam.ParsePools(network, s.StaticPools)
	if err != nil {
		return err
	}

	for i, rg := range ranges {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO static_pools (subnet_id, start_ip, end_ip, position)
			VALUES (?, ?, ?, ?)`,
			s.ID, ipam.UintToIP(rg.Start).String(), ipam.UintToIP(rg.End).String(), i)
		if err != nil {
			return fmt.Errorf("failed to store static pool %s: %w", rg, err)
		}
	}
	return nil
}

// FindByID finds a subnet by ID, including its static pools
func (r *subnetRepositoryImpl) FindByID(ctx context.Context, id int64) (domain.Subnet, error) {
	var s domain.Subnet
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, cidr, vlan_id, gateway, description
		FROM subnets WHERE id = ?`, id).Scan(
		&s.ID, &s.Name, &s.CIDR, &s.VLANID, &s.Gateway, &s.Description)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Subnet{}, ErrNotFound
		}
		return domain.Subnet{}, fmt.Errorf("failed to find subnet: %w", err)
	}

	if err := r.loadPools(ctx, &s); err != nil {
		return domain.Subnet{}, err
	}
	return s, nil
}

// FindByName finds a subnet by its unique name
func (r *subnetRepositoryImpl) FindByName(ctx context.Context, name string) (domain.Subnet, error) {
	var s domain.Subnet
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, cidr, vlan_id, gateway, description
		FROM subnets WHERE name = ?`, name).Scan(
		&s.ID, &s.Name, &s.CIDR, &s.VLANID, &s.Gateway, &s.Description)
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.Subnet{}, ErrNotFound
		}
		return domain.Subnet{}, fmt.Errorf("failed to find subnet by name: %w", err)
	}

	if err := r.loadPools(ctx, &s); err != nil {
		return domain.Subnet{}, err
	}
	return s, nil
}

// FindAll finds all subnets with their static pools
func (r *subnetRepositoryImpl) FindAll(ctx context.Context) ([]domain.Subnet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, cidr, vlan_id, gateway, description
		FROM subnets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to find subnets: %w", err)
	}
	defer rows.Close()

	var subnets []domain.Subnet
	for rows.Next() {
		var s domain.Subnet
		if err := rows.Scan(&s.ID, &s.Name, &s.CIDR, &s.VLANID, &s.Gateway, &s.Description); err != nil {
			return nil, fmt.Errorf("failed to scan subnet: %w", err)
		}
		subnets = append(subnets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subnets: %w", err)
	}

	for i := range subnets {
		if err := r.loadPools(ctx, &subnets[i]); err != nil {
			return nil, err
		}
	}
	return subnets, nil
}

// DeleteByID deletes a subnet; static pool rows cascade
func (r *subnetRepositoryImpl) DeleteByID(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM subnets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete subnet: %w", err)
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

// ExistsByID checks if a subnet exists by ID
func (r *subnetRepositoryImpl) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM subnets WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check subnet existence: %w", err)
	}
	return count > 0, nil
}

// loadPools attaches the ordered static pool declarations to a subnet
func (r *subnetRepositoryImpl) loadPools(ctx context.Context, s *domain.Subnet) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT start_ip, end_ip FROM static_pools
		WHERE subnet_id = ? ORDER BY position`, s.ID)
	if err != nil {
		return fmt.Errorf("failed to load static pools: %w", err)
	}
	defer rows.Close()

	s.StaticPools = nil
	for rows.Next() {
		var start, end string
		if err := rows.Scan(&start, &end); err != nil {
			return fmt.Errorf("failed to scan static pool: %w", err)
		}
		s.StaticPools = append(s.StaticPools, fmt.Sprintf("%s-%s", start, end))
	}
	return rows.Err()
}
