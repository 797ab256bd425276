package copier

import (
	"context"
	"fmt"
	"strings"

	"github.com/kingsquare/roundcube-utils/internal/connector"
	"github.com/kingsquare/roundcube-utils/pkg/models"
)

// Outcome is the result of writing a single row
type Outcome int

const (
	OutcomeWritten Outcome = iota
	OutcomeSkippedDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWritten:
		return "written"
	case OutcomeSkippedDuplicate:
		return "skipped duplicate"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// RowWriter appends a row to a table, leaving rows that collide with a
// unique key on the destination as they are
type RowWriter interface {
	WriteRowSkipOnConflict(ctx context.Context, table string, row models.Row) (Outcome, error)
}

// InsertWriter writes each row with its own single row INSERT
type InsertWriter struct {
	DB *connector.DatabaseConnector
}

// NewInsertWriter creates a writer for the destination connection
func NewInsertWriter(db *connector.DatabaseConnector) *InsertWriter {
	return &InsertWriter{DB: db}
}

// WriteRowSkipOnConflict inserts row into table; column names are used as given
func (w *InsertWriter) WriteRowSkipOnConflict(ctx context.Context, table string, row models.Row) (Outcome, error) {
	placeholders := make([]string, len(row))
	for i := range placeholders {
		placeholders[i] = "?"
	}

	insertSQL := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		w.DB.Quote(table),
		strings.Join(row.Names(), ", "),
		strings.Join(placeholders, ", "),
	)

	if _, err := w.DB.DB.ExecContext(ctx, insertSQL, row.Values()...); err != nil {
		if w.DB.Dialect.IsUniqueViolation(err) {
			return OutcomeSkippedDuplicate, nil
		}
		return OutcomeWritten, err
	}
	return OutcomeWritten, nil
}
