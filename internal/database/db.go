// Package database opens the MySQL pool and owns the schema.
package database

import (
	"context"
	"database/sql"
	"net"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Options describes how to reach MySQL and size the pool.
type Options struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	MaxOpen  int
}

// DSN renders the driver connection string.  DATETIME columns are parsed
// into time.Time and interpreted as UTC.
func (o Options) DSN() string {
	c := mysql.NewConfig()
	c.User = o.User
	c.Passwd = o.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(o.Host, o.Port)
	c.DBName = o.Name
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// Open connects to MySQL and verifies the connection with a ping.
func Open(ctx context.Context, o Options) (*sql.DB, error) {
	db, err := sql.Open("mysql", o.DSN())
	if err != nil {
		return nil, err
	}
	maxOpen := o.MaxOpen
	if maxOpen <= 0 {
		maxOpen = 25
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxOpen)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
