package copier

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kingsquare/roundcube-utils/internal/connector"
	"github.com/kingsquare/roundcube-utils/internal/progress"
	"github.com/kingsquare/roundcube-utils/pkg/models"
	"github.com/sirupsen/logrus"
)

// Copier streams the rows of source tables into the destination one row at a time
type Copier struct {
	Source      *connector.DatabaseConnector
	Destination *connector.DatabaseConnector
	Writer      RowWriter
	Reporter    progress.Reporter
	SkipTables  map[string]bool
	Logger      *logrus.Logger
}

// NewCopier creates a copier writing through single row inserts
func NewCopier(
	source *connector.DatabaseConnector,
	destination *connector.DatabaseConnector,
	skipTables []string,
	reporter progress.Reporter,
	logger *logrus.Logger,
) *Copier {
	skip := make(map[string]bool, len(skipTables))
	for _, table := range skipTables {
		skip[table] = true
	}
	if reporter == nil {
		reporter = progress.Nop{}
	}

	return &Copier{
		Source:      source,
		Destination: destination,
		Writer:      NewInsertWriter(destination),
		Reporter:    reporter,
		SkipTables:  skip,
		Logger:      logger,
	}
}

// AdaptRow replaces every column name the destination needs quoted by its
// quoted form, keeping order and values
func (c *Copier) AdaptRow(row models.Row) models.Row {
	for i, col := range row {
		if quoted := c.Destination.Quote(col.Name); quoted != col.Name {
			row[i].Name = quoted
		}
	}
	return row
}

// CopyTable copies every row of table from source to destination
func (c *Copier) CopyTable(ctx context.Context, table string) (models.CopyReport, error) {
	report := models.CopyReport{Table: table}

	if c.SkipTables[table] {
		report.Excluded = true
		c.Reporter.Skip(table)
		return report, nil
	}

	started := time.Now()
	quotedTable := c.Source.Quote(table)

	count, err := c.Source.QueryScalar(ctx, "SELECT COUNT(*) FROM "+quotedTable)
	if err != nil {
		return report, fmt.Errorf("failed to count rows of %s: %w", table, err)
	}
	report.Total = toInt64(count)
	if report.Total == 0 {
		c.Reporter.Empty(table)
		return report, nil
	}

	rows, err := c.Source.DB.QueryContext(ctx, "SELECT * FROM "+quotedTable)
	if err != nil {
		return report, fmt.Errorf("failed to read %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return report, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		types = nil
	}
	binary := binaryColumns(len(columns), types)

	values := make([]interface{}, len(columns))
	valuePtrs := make([]interface{}, len(columns))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	tracker := c.Reporter.Begin(table, report.Total)

	for rows.Next() {
		if err := rows.Scan(valuePtrs...); err != nil {
			tracker.Abort()
			return report, fmt.Errorf("failed to scan row %d of %s: %w", report.Processed+1, table, err)
		}

		row := make(models.Row, len(columns))
		for i, col := range columns {
			row[i] = models.Column{Name: col, Value: convertValue(values[i], binary[i])}
		}

		outcome, err := c.Writer.WriteRowSkipOnConflict(ctx, table, c.AdaptRow(row))
		if err != nil {
			tracker.Abort()
			return report, fmt.Errorf("failed to copy row %d of %s: %w", report.Processed+1, table, err)
		}

		switch outcome {
		case OutcomeWritten:
			report.Written++
		case OutcomeSkippedDuplicate:
			report.Skipped++
			c.Logger.Debugf("%s: row %d already exists, skipped", table, report.Processed+1)
		}

		report.Processed++
		tracker.Increment()
	}

	if err := rows.Err(); err != nil {
		tracker.Abort()
		return report, fmt.Errorf("failed while reading %s: %w", table, err)
	}

	tracker.Finish()
	report.Elapsed = time.Since(started)
	return report, nil
}

// binaryColumns flags the columns whose raw bytes must not become strings
func binaryColumns(n int, types []*sql.ColumnType) []bool {
	flags := make([]bool, n)
	for i, ct := range types {
		if i >= n {
			break
		}
		name := strings.ToUpper(ct.DatabaseTypeName())
		flags[i] = strings.Contains(name, "BLOB") || strings.Contains(name, "BINARY")
	}
	return flags
}

func convertValue(v interface{}, binary bool) interface{} {
	b, ok := v.([]byte)
	if !ok {
		return v
	}
	if binary {
		// the scan buffer is reused by the next row
		return append([]byte(nil), b...)
	}
	return string(b)
}

func toInt64(v interface{}) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case int64:
		return val
	case int:
		return int64(val)
	case int32:
		return int64(val)
	case uint64:
		return int64(val)
	case float64:
		return int64(val)
	case string:
		n, _ := strconv.ParseInt(val, 10, 64)
		return n
	case []byte:
		n, _ := strconv.ParseInt(string(val), 10, 64)
		return n
	default:
		n, _ := strconv.ParseInt(fmt.Sprint(val), 10, 64)
		return n
	}
}
