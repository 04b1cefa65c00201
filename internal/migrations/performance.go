package migrations

import (
	"database/sql"
)

// GetPerformanceMigrations returns performance optimization migrations
func GetPerformanceMigrations() []Migration {
	return []Migration{
		{
			Version: 10,
			Name:    "add_performance_indices",
			Up: func(db *sql.DB) error {
				indices := []string{
					"CREATE INDEX IF NOT EXISTS idx_static_pools_subnet_id ON static_pools(subnet_id)",
					"CREATE INDEX IF NOT EXISTS idx_devices_hostname ON devices(hostname)",
					"CREATE INDEX IF NOT EXISTS idx_devices_ip_address ON devices(ip_address)",
					"CREATE INDEX IF NOT EXISTS idx_allocations_subnet_id ON allocations(subnet_id)",
					"CREATE INDEX IF NOT EXISTS idx_allocations_status ON allocations(status)",
					"CREATE INDEX IF NOT EXISTS idx_allocations_device_id ON allocations(device_id)",
					"CREATE INDEX IF NOT EXISTS idx_allocations_ip_numeric ON allocations(ip_numeric)",
				}

				for _, indexSQL := range indices {
					if _, err := db.Exec(indexSQL); err != nil {
						return err
					}
				}

				return nil
			},
			Down: func(db *sql.DB) error {
				indices := []string{
					"DROP INDEX IF EXISTS idx_static_pools_subnet_id",
					"DROP INDEX IF EXISTS idx_devices_hostname",
					"DROP INDEX IF EXISTS idx_devices_ip_address",
					"DROP INDEX IF EXISTS idx_allocations_subnet_id",
					"DROP INDEX IF EXISTS idx_allocations_status",
					"DROP INDEX IF EXISTS idx_allocations_device_id",
					"DROP INDEX IF EXISTS idx_allocations_ip_numeric",
				}

				for _, dropSQL := range indices {
					if _, err := db.Exec(dropSQL); err != nil {
						return err
					}
				}

				return nil
			},
		},
	}
}
