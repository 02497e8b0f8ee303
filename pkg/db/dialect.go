package db

import (
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func Dialect(cfg Config) (gorm.Dialector, error) {
	dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	switch cfg.Type {
	case TypeMySQL:
		return mysql.Open(dsn), nil
	case TypePostgres:
		return postgres.Open(dsn), nil
	case TypeSQLite:
		return sqlite.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported %s type", cfg.Type)
	}
}

// DSN renders the driver connection string for cfg.
func DSN(cfg Config) (string, error) {
	switch cfg.Type {
	case TypeMySQL:
		return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.User,
			cfg.Password,
			cfg.Host,
			cfg.Port,
			cfg.Name,
		), nil
	case TypePostgres:
		return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
			cfg.Host,
			cfg.User,
			cfg.Password,
			cfg.Name,
			cfg.Port,
			cfg.SSLMode,
		), nil
	case TypeSQLite:
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			name = "farerouter"
		}
		if name == ":memory:" || strings.HasSuffix(name, ".db") {
			return name, nil
		}
		return name + ".db", nil
	default:
		return "", fmt.Errorf("unsupported %s type", cfg.Type)
	}
}
