package models

import "time"

// Flavor identifies a database engine family
type Flavor string

const (
	SQLite Flavor = "sqlite"
	MySQL  Flavor = "mysql"
)

// String returns the URI scheme form of the flavor
func (f Flavor) String() string {
	return string(f)
}

// Column is a single named value of a fetched row
type Column struct {
	Name  string
	Value interface{}
}

// Row is an ordered mapping from column name to value, as produced by one fetch
type Row []Column

// Names returns the column names in row order
func (r Row) Names() []string {
	names := make([]string, len(r))
	for i, col := range r {
		names[i] = col.Name
	}
	return names
}

// Values returns the column values in row order
func (r Row) Values() []interface{} {
	values := make([]interface{}, len(r))
	for i, col := range r {
		values[i] = col.Value
	}
	return values
}

// CopyReport represents the outcome of copying a single table
type CopyReport struct {
	Table     string
	Total     int64
	Processed int64
	Written   int64
	Skipped   int64
	Excluded  bool
	Elapsed   time.Duration
}

// RunSummary represents the outcome of a full copy run
type RunSummary struct {
	SourceFlavor      Flavor
	DestinationFlavor Flavor
	Version           string
	Reports           []CopyReport
}

// TotalProcessed returns the number of rows processed across all tables
func (s RunSummary) TotalProcessed() int64 {
	var total int64
	for _, report := range s.Reports {
		total += report.Processed
	}
	return total
}

// TotalSkipped returns the number of duplicate rows left untouched across all tables
func (s RunSummary) TotalSkipped() int64 {
	var total int64
	for _, report := range s.Reports {
		total += report.Skipped
	}
	return total
}

// ForeignKey represents a foreign key relationship between two tables
type ForeignKey struct {
	Table            string
	Column           string
	ReferencedTable  string
	ReferencedColumn string
}
