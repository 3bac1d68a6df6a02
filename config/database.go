package config

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// DBConnections holds the open database handles of the pipeline.
type DBConnections struct {
	WarehouseDB *sql.DB
}

// ConnectDatabases opens the warehouse connection and verifies it. ERP source
// connections are opened by their adapters from the source DSN.
func ConnectDatabases(cfg Config) (*DBConnections, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		cfg.Warehouse.User,
		cfg.Warehouse.Password,
		cfg.Warehouse.Host,
		cfg.Warehouse.Port,
		cfg.Warehouse.DBName,
	)

	db, err := sql.Open(cfg.Warehouse.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening warehouse database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("warehouse database is unreachable: %w", err)
	}

	log.Println("Connected to warehouse database")

	return &DBConnections{WarehouseDB: db}, nil
}

// CloseDatabases closes every open connection.
func CloseDatabases(conns *DBConnections) {
	if conns == nil {
		return
	}
	if conns.WarehouseDB != nil {
		if err := conns.WarehouseDB.Close(); err != nil {
			log.Printf("Error closing warehouse database: %v", err)
		}
	}
}
