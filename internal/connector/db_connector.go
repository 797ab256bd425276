package connector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/kingsquare/roundcube-utils/internal/dialect"
	"github.com/kingsquare/roundcube-utils/pkg/models"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

const (
	Source      = "source"
	Destination = "destination"
)

// ConnectionError reports which side of the copy could not be reached
type ConnectionError struct {
	Side string
	URI  string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("can not connect to %s %s: %v", e.Side, Redact(e.URI), e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// DatabaseConnector handles one side of the copy and its query execution
type DatabaseConnector struct {
	Side       string
	URI        string
	Flavor     models.Flavor
	DriverName string
	DSN        string
	Dialect    dialect.Dialect
	DB         *sql.DB
	Logger     *logrus.Logger
}

// NewDatabaseConnector parses uri and prepares a connector for side
func NewDatabaseConnector(side, uri string, logger *logrus.Logger) (*DatabaseConnector, error) {
	desc, err := ParseURI(uri)
	if err != nil {
		return nil, &ConnectionError{Side: side, URI: uri, Err: err}
	}

	d, err := dialect.ForFlavor(desc.Flavor)
	if err != nil {
		return nil, err
	}

	return &DatabaseConnector{
		Side:       side,
		URI:        uri,
		Flavor:     desc.Flavor,
		DriverName: desc.DriverName,
		DSN:        desc.DSN,
		Dialect:    d,
		Logger:     logger,
	}, nil
}

// Connect opens the database and probes it with a ping
func (dc *DatabaseConnector) Connect(ctx context.Context) error {
	// sqlite would silently create a missing source file
	if dc.Side == Source && dc.Flavor == models.SQLite {
		if path := SQLiteFilePath(dc.DSN); path != "" {
			if _, err := os.Stat(path); err != nil {
				return &ConnectionError{Side: dc.Side, URI: dc.URI, Err: err}
			}
		}
	}

	db, err := sql.Open(dc.DriverName, dc.DSN)
	if err != nil {
		dc.Logger.Errorf("Error opening %s database: %v", dc.Side, err)
		return &ConnectionError{Side: dc.Side, URI: dc.URI, Err: err}
	}

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		dc.Logger.Errorf("Error pinging %s database: %v", dc.Side, err)
		db.Close()
		return &ConnectionError{Side: dc.Side, URI: dc.URI, Err: err}
	}

	dc.DB = db
	dc.Logger.Debugf("%s connection: connected (%s)", dc.Side, dc.Flavor)
	return nil
}

// Connect parses uri, opens it and verifies liveness in one step
func Connect(ctx context.Context, side, uri string, logger *logrus.Logger) (*DatabaseConnector, error) {
	dc, err := NewDatabaseConnector(side, uri, logger)
	if err != nil {
		return nil, err
	}
	if err := dc.Connect(ctx); err != nil {
		return nil, err
	}
	return dc, nil
}

// Disconnect closes the database connection
func (dc *DatabaseConnector) Disconnect() {
	if dc.DB != nil {
		err := dc.DB.Close()
		if err != nil {
			dc.Logger.Errorf("Error closing %s connection: %v", dc.Side, err)
		} else {
			dc.Logger.Debugf("%s connection closed", dc.Side)
		}
		dc.DB = nil
	}
}

// Quote quotes name for this connection's engine when required
func (dc *DatabaseConnector) Quote(name string) string {
	return dc.Dialect.QuoteIdentifier(name)
}

// ExecuteQuery executes a SQL query and returns the results
func (dc *DatabaseConnector) ExecuteQuery(ctx context.Context, query string, params ...interface{}) ([]map[string]interface{}, error) {
	if dc.DB == nil {
		return nil, errors.New("not connected")
	}

	rows, err := dc.DB.QueryContext(ctx, query, params...)
	if err != nil {
		dc.Logger.Debugf("Error executing query: %v", err)
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}

	for rows.Next() {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range columns {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}

		row := make(map[string]interface{})
		for i, col := range columns {
			// Convert []byte to string for text fields
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}

		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// QueryColumn returns the first column of every row as a string
func (dc *DatabaseConnector) QueryColumn(ctx context.Context, query string, params ...interface{}) ([]string, error) {
	if dc.DB == nil {
		return nil, errors.New("not connected")
	}

	rows, err := dc.DB.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var result []string
	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, err
		}
		result = append(result, asString(values[0]))
	}

	return result, rows.Err()
}

// QueryScalar returns the first column of the first row, or nil when there is no row
func (dc *DatabaseConnector) QueryScalar(ctx context.Context, query string, params ...interface{}) (interface{}, error) {
	if dc.DB == nil {
		return nil, errors.New("not connected")
	}

	var value interface{}
	err := dc.DB.QueryRowContext(ctx, query, params...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if b, ok := value.([]byte); ok {
		return string(b), nil
	}
	return value, nil
}

// ExecuteStatement executes a SQL statement and returns the number of affected rows
func (dc *DatabaseConnector) ExecuteStatement(ctx context.Context, query string, params ...interface{}) (int64, error) {
	if dc.DB == nil {
		return 0, errors.New("not connected")
	}

	result, err := dc.DB.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		// DDL statements do not always report affected rows
		return 0, nil
	}

	return affected, nil
}

func asString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case string:
		return val
	default:
		return fmt.Sprintf("%v", val)
	}
}
