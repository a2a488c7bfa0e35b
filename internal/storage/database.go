package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"campuswell/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// DriverName maps a configured database type to its database/sql driver.
func DriverName(dbType string) (string, error) {
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		return "sqlite3", nil
	case "mysql":
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported driver: %s", dbType)
	}
}

// Open connects to the database configured under dbType.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}
	driver, err := DriverName(dbType)
	if err != nil {
		return nil, err
	}

	var db *sql.DB
	switch driver {
	case "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		// one connection: keeps :memory: databases shared and serialises writers
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := dbCfg.DSN
		if dsn == "" {
			params := dbCfg.Params
			if !strings.Contains(params, "parseTime") {
				params = strings.TrimPrefix(params+"&parseTime=true", "&")
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
				dbCfg.Username,
				dbCfg.Password,
				dbCfg.Host,
				dbCfg.Port,
				dbCfg.DBName,
				params,
			)
		}
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present. users is a read replica
// of the account service, so message authors carry no foreign key.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id TEXT PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				display_name TEXT NOT NULL,
				role TEXT NOT NULL DEFAULT 'student',
				age_bracket TEXT,
				consent_minor_ok BOOLEAN NOT NULL DEFAULT 0,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS peer_rooms (
				id TEXT PRIMARY KEY,
				slug TEXT NOT NULL UNIQUE,
				title TEXT NOT NULL,
				topic TEXT NOT NULL,
				is_minor_safe BOOLEAN NOT NULL DEFAULT 1,
				created_at DATETIME NOT NULL
			)`,
			`CREATE TABLE IF NOT EXISTS peer_messages (
				id TEXT PRIMARY KEY,
				room_id TEXT NOT NULL,
				author_id TEXT NOT NULL,
				author_name TEXT NOT NULL DEFAULT '',
				body TEXT NOT NULL,
				flagged BOOLEAN NOT NULL DEFAULT 0,
				flags TEXT NOT NULL DEFAULT '[]',
				created_at DATETIME NOT NULL,
				FOREIGN KEY(room_id) REFERENCES peer_rooms(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_peer_messages_room ON peer_messages(room_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_peer_messages_flagged ON peer_messages(flagged, created_at)`,
			`CREATE TABLE IF NOT EXISTS audit_logs (
				id TEXT PRIMARY KEY,
				actor_id TEXT,
				action TEXT NOT NULL,
				metadata TEXT NOT NULL DEFAULT '{}',
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_audit_logs_action ON audit_logs(action, created_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS users (
				id CHAR(36) NOT NULL,
				email VARCHAR(255) NOT NULL,
				display_name VARCHAR(255) NOT NULL,
				role VARCHAR(32) NOT NULL DEFAULT 'student',
				age_bracket VARCHAR(16) NULL,
				consent_minor_ok BOOLEAN NOT NULL DEFAULT FALSE,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_users_email (email)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS peer_rooms (
				id CHAR(36) NOT NULL,
				slug VARCHAR(128) NOT NULL,
				title VARCHAR(255) NOT NULL,
				topic VARCHAR(255) NOT NULL,
				is_minor_safe BOOLEAN NOT NULL DEFAULT TRUE,
				created_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				UNIQUE KEY uniq_peer_rooms_slug (slug)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS peer_messages (
				id CHAR(36) NOT NULL,
				room_id CHAR(36) NOT NULL,
				author_id CHAR(36) NOT NULL,
				author_name VARCHAR(255) NOT NULL DEFAULT '',
				body TEXT NOT NULL,
				flagged BOOLEAN NOT NULL DEFAULT FALSE,
				flags TEXT NOT NULL,
				created_at DATETIME(3) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_peer_messages_room (room_id, created_at),
				INDEX idx_peer_messages_flagged (flagged, created_at),
				CONSTRAINT fk_peer_messages_room FOREIGN KEY (room_id) REFERENCES peer_rooms(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS audit_logs (
				id CHAR(36) NOT NULL,
				actor_id CHAR(36) NULL,
				action VARCHAR(64) NOT NULL,
				metadata TEXT NOT NULL,
				created_at DATETIME(3) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_audit_logs_action (action, created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}
