package analyzer

import (
	"context"
	"fmt"
	"sort"

	"github.com/kingsquare/roundcube-utils/internal/connector"
	"github.com/kingsquare/roundcube-utils/internal/dialect"
	"github.com/kingsquare/roundcube-utils/pkg/models"
	"github.com/sirupsen/logrus"
	"github.com/yourbasic/graph"
)

// SchemaAnalyzer enumerates the tables of a database and, on request,
// orders them by their foreign key dependencies
type SchemaAnalyzer struct {
	DB              *connector.DatabaseConnector
	Tables          []string
	ForeignKeys     map[string][]models.ForeignKey
	DependencyGraph *graph.Mutable
	TableIndexMap   map[string]int
	IndexTableMap   map[int]string
	Logger          *logrus.Logger
}

// NewSchemaAnalyzer creates a new schema analyzer
func NewSchemaAnalyzer(db *connector.DatabaseConnector, logger *logrus.Logger) *SchemaAnalyzer {
	return &SchemaAnalyzer{
		DB:            db,
		ForeignKeys:   make(map[string][]models.ForeignKey),
		TableIndexMap: make(map[string]int),
		IndexTableMap: make(map[int]string),
		Logger:        logger,
	}
}

// ListTables lists the user tables using the engine specific listing statement
func (sa *SchemaAnalyzer) ListTables(ctx context.Context) ([]string, error) {
	d, err := dialect.ForFlavor(sa.DB.Flavor)
	if err != nil {
		return nil, err
	}

	tables, err := sa.DB.QueryColumn(ctx, d.ListTablesQuery())
	if err != nil {
		return nil, fmt.Errorf("failed to list %s tables: %w", sa.DB.Flavor, err)
	}

	sa.Tables = tables
	sa.Logger.Debugf("found %d tables", len(tables))
	return tables, nil
}

// AnalyzeDependencies reads the foreign keys of every listed table and
// builds the dependency graph
func (sa *SchemaAnalyzer) AnalyzeDependencies(ctx context.Context) error {
	d, err := dialect.ForFlavor(sa.DB.Flavor)
	if err != nil {
		return err
	}

	for i, table := range sa.Tables {
		sa.TableIndexMap[table] = i
		sa.IndexTableMap[i] = table
	}
	sa.DependencyGraph = graph.New(len(sa.Tables))

	for _, table := range sa.Tables {
		rows, err := sa.DB.ExecuteQuery(ctx, d.ForeignKeysQuery(), table)
		if err != nil {
			return fmt.Errorf("failed to read foreign keys of %s: %w", table, err)
		}

		for _, row := range rows {
			fk := models.ForeignKey{
				Table:            table,
				Column:           fmt.Sprint(row["column_name"]),
				ReferencedTable:  fmt.Sprint(row["referenced_table"]),
				ReferencedColumn: fmt.Sprint(row["referenced_column"]),
			}
			sa.ForeignKeys[table] = append(sa.ForeignKeys[table], fk)

			// Skip self-references
			if fk.ReferencedTable == table {
				continue
			}
			// referenced tables come before the tables pointing at them
			if refIdx, ok := sa.TableIndexMap[fk.ReferencedTable]; ok {
				sa.DependencyGraph.Add(refIdx, sa.TableIndexMap[table])
			}
		}
	}

	return nil
}

// GetCircularTables returns the tables involved in circular dependencies
func (sa *SchemaAnalyzer) GetCircularTables() []string {
	var circular []string
	if sa.DependencyGraph == nil {
		return circular
	}
	for _, component := range graph.StrongComponents(sa.DependencyGraph) {
		if len(component) < 2 {
			continue
		}
		for _, idx := range component {
			circular = append(circular, sa.IndexTableMap[idx])
		}
	}
	sort.Strings(circular)
	return circular
}

// GetTableInsertionOrder returns the tables with referenced tables first;
// when the dependencies are circular the listing order is kept
func (sa *SchemaAnalyzer) GetTableInsertionOrder() []string {
	if sa.DependencyGraph == nil {
		return sa.Tables
	}

	order, ok := graph.TopSort(sa.DependencyGraph)
	if !ok {
		sa.Logger.Warnf("Circular dependencies between %v, keeping listing order", sa.GetCircularTables())
		return sa.Tables
	}

	ordered := make([]string, 0, len(order))
	for _, idx := range order {
		ordered = append(ordered, sa.IndexTableMap[idx])
	}
	return ordered
}

// DependencyOrder lists the tables and orders them by foreign key dependencies
func (sa *SchemaAnalyzer) DependencyOrder(ctx context.Context) ([]string, error) {
	if _, err := sa.ListTables(ctx); err != nil {
		return nil, err
	}
	if err := sa.AnalyzeDependencies(ctx); err != nil {
		return nil, err
	}
	return sa.GetTableInsertionOrder(), nil
}
