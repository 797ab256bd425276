package connector

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/kingsquare/roundcube-utils/internal/dialect"
	"github.com/kingsquare/roundcube-utils/pkg/models"
)

const enginePrefix = "pdo_"

// Descriptor is the parsed form of a connection URI
type Descriptor struct {
	URI        string
	Flavor     models.Flavor
	DriverName string
	DSN        string
}

// SchemeOf returns everything before the first colon of uri
func SchemeOf(uri string) string {
	scheme, _, found := strings.Cut(uri, ":")
	if !found {
		return uri
	}
	return scheme
}

// FlavorOf classifies a URI scheme or driver name, ignoring the pdo_ family prefix
func FlavorOf(scheme string) models.Flavor {
	return models.Flavor(strings.TrimPrefix(strings.ToLower(scheme), enginePrefix))
}

// GuardSupported rejects flavors outside the supported set
func GuardSupported(flavor models.Flavor, supported []string) error {
	for _, s := range supported {
		if models.Flavor(s) == flavor {
			return nil
		}
	}
	return &dialect.UnsupportedFlavorError{Flavor: string(flavor)}
}

// ParseURI derives the driver name and driver specific DSN from a
// <flavor>:<parameters> connection URI
func ParseURI(uri string) (Descriptor, error) {
	scheme, rest, found := strings.Cut(uri, ":")
	if !found || scheme == "" {
		return Descriptor{}, &dialect.UnsupportedFlavorError{Flavor: uri}
	}

	desc := Descriptor{URI: uri, Flavor: FlavorOf(scheme)}

	switch desc.Flavor {
	case models.SQLite:
		desc.DriverName = "sqlite"
		desc.DSN = strings.TrimPrefix(rest, "//")
		if desc.DSN == "" {
			return Descriptor{}, fmt.Errorf("sqlite uri %q names no database file", uri)
		}
	case models.MySQL:
		dsn, err := mysqlDSN(rest)
		if err != nil {
			return Descriptor{}, fmt.Errorf("invalid mysql uri: %w", err)
		}
		desc.DriverName = "mysql"
		desc.DSN = dsn
	default:
		return Descriptor{}, &dialect.UnsupportedFlavorError{Flavor: string(desc.Flavor)}
	}

	return desc, nil
}

// SQLiteFilePath returns the database file a sqlite DSN opens, without the
// file: prefix and query options, or "" for in-memory databases
func SQLiteFilePath(dsn string) string {
	path := dsn
	if rest, ok := strings.CutPrefix(path, "file:"); ok {
		path = rest
		if strings.HasPrefix(path, "///") {
			path = strings.TrimPrefix(path, "//")
		}
	}
	path, query, _ := strings.Cut(path, "?")
	if path == "" || path == ":memory:" || strings.Contains(query, "mode=memory") {
		return ""
	}
	return path
}

// mysqlDSN accepts either a native driver DSN or the URL form
// //user:pass@host:port/dbname?param=value
func mysqlDSN(rest string) (string, error) {
	if !strings.HasPrefix(rest, "//") {
		if _, err := mysql.ParseDSN(rest); err != nil {
			return "", err
		}
		return rest, nil
	}

	u, err := url.Parse("mysql:" + rest)
	if err != nil {
		return "", err
	}

	cfg := mysql.NewConfig()
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" && u.Host != "" {
		cfg.Addr = u.Host + ":3306"
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")

	dsn := cfg.FormatDSN()
	if u.RawQuery != "" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		parsed, err := mysql.ParseDSN(dsn + sep + u.RawQuery)
		if err != nil {
			return "", err
		}
		dsn = parsed.FormatDSN()
	}
	return dsn, nil
}

// Redact hides the password of a connection URI for display
func Redact(uri string) string {
	scheme, rest, found := strings.Cut(uri, ":")
	if !found || FlavorOf(scheme) != models.MySQL {
		return uri
	}
	if strings.HasPrefix(rest, "//") {
		if u, err := url.Parse("mysql:" + rest); err == nil {
			return scheme + ":" + strings.TrimPrefix(u.Redacted(), "mysql:")
		}
		return uri
	}
	cfg, err := mysql.ParseDSN(rest)
	if err != nil || cfg.Passwd == "" {
		return uri
	}
	cfg.Passwd = "xxxxx"
	return scheme + ":" + cfg.FormatDSN()
}
