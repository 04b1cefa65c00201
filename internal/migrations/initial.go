package migrations

import (
	"database/sql"
)

// GetInitialMigrations returns the schema migrations for the inventory
// and the allocation ledger.
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_subnets_and_static_pools",
			Up: func(db *sql.DB) error {
				_, err := db.Exec(`
					CREATE TABLE subnets (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						name TEXT NOT NULL UNIQUE,
						cidr TEXT NOT NULL,
						vlan_id INTEGER,
						gateway TEXT NOT NULL DEFAULT '',
						description TEXT NOT NULL DEFAULT '',
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)
				`)
				if err != nil {
					return err
				}

				_, err = db.Exec(`
					CREATE TABLE static_pools (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						subnet_id INTEGER NOT NULL,
						start_ip TEXT NOT NULL,
						end_ip TEXT NOT NULL,
						position INTEGER NOT NULL,
						FOREIGN KEY (subnet_id) REFERENCES subnets(id) ON DELETE CASCADE
					)
				`)
				return err
			},
			Down: func(db *sql.DB) error {
				_, err := db.Exec(`DROP TABLE IF EXISTS static_pools`)
				if err != nil {
					return err
				}
				_, err = db.Exec(`DROP TABLE IF EXISTS subnets`)
				return err
			},
		},
		{
			Version: 2,
			Name:    "create_devices",
			Up: func(db *sql.DB) error {
				// Identity columns are individually UNIQUE; sqlite
				// permits multiple NULLs so absent values never collide.
				_, err := db.Exec(`
					CREATE TABLE devices (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						uuid TEXT UNIQUE,
						hostname TEXT NOT NULL UNIQUE,
						ip_address TEXT UNIQUE,
						mac TEXT UNIQUE,
						bmc_ip TEXT UNIQUE,
						bmc_mac TEXT NOT NULL DEFAULT '',
						status TEXT NOT NULL DEFAULT 'active',
						data_source TEXT NOT NULL DEFAULT 'manual',
						manufacturer TEXT NOT NULL DEFAULT '',
						platform TEXT NOT NULL DEFAULT '',
						os TEXT NOT NULL DEFAULT '',
						os_version TEXT NOT NULL DEFAULT '',
						kernel TEXT NOT NULL DEFAULT '',
						cpu TEXT NOT NULL DEFAULT '',
						core_count INTEGER,
						total_mem_gb INTEGER,
						disk_count INTEGER,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)
				`)
				return err
			},
			Down: func(db *sql.DB) error {
				_, err := db.Exec(`DROP TABLE IF EXISTS devices`)
				return err
			},
		},
		{
			Version: 3,
			Name:    "create_allocations",
			Up: func(db *sql.DB) error {
				// The UNIQUE(ip_address, subnet_id) constraint is what
				// serializes concurrent claims of the same address.
				_, err := db.Exec(`
					CREATE TABLE allocations (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						ip_address TEXT NOT NULL,
						ip_numeric INTEGER NOT NULL,
						subnet_id INTEGER NOT NULL,
						ip_type TEXT NOT NULL,
						status TEXT NOT NULL DEFAULT 'available',
						device_id INTEGER,
						hostname TEXT NOT NULL DEFAULT '',
						mac_address TEXT NOT NULL DEFAULT '',
						is_bmc INTEGER NOT NULL DEFAULT 0,
						platform TEXT NOT NULL DEFAULT '',
						manufacturer TEXT NOT NULL DEFAULT '',
						description TEXT NOT NULL DEFAULT '',
						active INTEGER NOT NULL DEFAULT 1,
						needs_attention INTEGER NOT NULL DEFAULT 0,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (ip_address, subnet_id),
						FOREIGN KEY (subnet_id) REFERENCES subnets(id)
					)
				`)
				return err
			},
			Down: func(db *sql.DB) error {
				_, err := db.Exec(`DROP TABLE IF EXISTS allocations`)
				return err
			},
		},
	}
}
