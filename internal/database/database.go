// Package database turns connection parameters into driver DSNs and applies schema migrations.
package database

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// Supported drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Params are the record store connection parameters.
type Params struct {
	Driver   string
	Host     string
	Port     int
	User     string
	Password string
	// Name is the database name, or the file path for SQLite (":memory:" for a private in-memory database).
	Name    string
	Options map[string]string
}

// DSN returns the connection string understood by the driver.
func (p Params) DSN() (string, error) {
	switch strings.ToLower(p.Driver) {
	case DriverPostgres:
		return p.postgresURL("postgres"), nil
	case DriverSQLite:
		return p.sqliteDSN(), nil
	default:
		return "", fmt.Errorf("driver %q has no dsn", p.Driver)
	}
}

// MigrationURL returns the URL golang-migrate uses to reach the database.
func (p Params) MigrationURL() (string, error) {
	switch strings.ToLower(p.Driver) {
	case DriverPostgres:
		return p.postgresURL("pgx5"), nil
	case DriverSQLite:
		return "sqlite://" + p.sqliteDSN(), nil
	default:
		return "", fmt.Errorf("driver %q does not support migrations", p.Driver)
	}
}

func (p Params) postgresURL(scheme string) string {
	host := p.Host
	if host == "" {
		host = "localhost"
	}
	if p.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(p.Port))
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     "/" + p.Name,
		RawQuery: encodeOptions(p.Options),
	}
	switch {
	case p.User != "" && p.Password != "":
		u.User = url.UserPassword(p.User, p.Password)
	case p.User != "":
		u.User = url.User(p.User)
	}
	return u.String()
}

func (p Params) sqliteDSN() string {
	name := p.Name
	if name == "" {
		name = ":memory:"
	}
	opts := encodeOptions(p.Options)
	if opts == "" {
		return name
	}
	return name + "?" + opts
}

// encodeOptions renders options sorted by key.
func encodeOptions(opts map[string]string) string {
	if len(opts) == 0 {
		return ""
	}
	values := url.Values{}
	for k, v := range opts {
		values.Set(k, v)
	}
	return values.Encode()
}
