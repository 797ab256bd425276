package dialect

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kingsquare/roundcube-utils/pkg/models"
)

// ErrUnsupportedFlavor is matched by every UnsupportedFlavorError
var ErrUnsupportedFlavor = errors.New("unsupported schema type")

// UnsupportedFlavorError reports an engine flavor outside the supported set
type UnsupportedFlavorError struct {
	Flavor string
}

func (e *UnsupportedFlavorError) Error() string {
	return fmt.Sprintf("schema type %s is not supported", e.Flavor)
}

func (e *UnsupportedFlavorError) Unwrap() error {
	return ErrUnsupportedFlavor
}

// Dialect captures the engine specific SQL details the copy needs
type Dialect interface {
	// Flavor returns the engine this dialect speaks for
	Flavor() models.Flavor
	// QuoteIdentifier returns name unchanged unless the engine needs it escaped
	QuoteIdentifier(name string) string
	// IsUniqueViolation reports whether err was caused by a unique or primary key constraint
	IsUniqueViolation(err error) bool
	// ListTablesQuery returns a statement whose first column lists the user tables
	ListTablesQuery() string
	// ForeignKeysQuery returns a statement taking a table name and yielding
	// column_name, referenced_table and referenced_column rows
	ForeignKeysQuery() string
}

// ForFlavor returns the dialect for the given flavor
func ForFlavor(flavor models.Flavor) (Dialect, error) {
	switch flavor {
	case models.SQLite:
		return sqliteDialect{}, nil
	case models.MySQL:
		return mysqlDialect{}, nil
	default:
		return nil, &UnsupportedFlavorError{Flavor: string(flavor)}
	}
}

var bareIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// quoteIfNeeded wraps name in quote, doubling embedded quotes, when it is
// reserved or not a bare identifier
func quoteIfNeeded(name, quote string, reserved map[string]bool) string {
	if bareIdentifier.MatchString(name) && !reserved[strings.ToUpper(name)] {
		return name
	}
	return quote + strings.ReplaceAll(name, quote, quote+quote) + quote
}

func keywordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
