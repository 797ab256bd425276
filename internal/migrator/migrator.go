package migrator

import (
	"context"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/kingsquare/roundcube-utils/internal/analyzer"
	"github.com/kingsquare/roundcube-utils/internal/config"
	"github.com/kingsquare/roundcube-utils/internal/connector"
	"github.com/kingsquare/roundcube-utils/internal/copier"
	"github.com/kingsquare/roundcube-utils/internal/progress"
	"github.com/kingsquare/roundcube-utils/internal/schema"
	"github.com/kingsquare/roundcube-utils/internal/utils"
	"github.com/kingsquare/roundcube-utils/pkg/models"
	"github.com/sirupsen/logrus"
)

// MissingArgumentError reports a required flag that was not given
type MissingArgumentError struct {
	Flag string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("%s is required", e.Flag)
}

// Migrator copies a complete roundcube database from one engine to another
type Migrator struct {
	Settings    config.Settings
	Provisioner *schema.Provisioner
	Reporter    progress.Reporter
	Out         io.Writer
	Logger      *logrus.Logger
}

// NewMigrator creates a new migrator
func NewMigrator(
	settings config.Settings,
	provisioner *schema.Provisioner,
	reporter progress.Reporter,
	out io.Writer,
	logger *logrus.Logger,
) *Migrator {
	if reporter == nil {
		reporter = progress.Nop{}
	}
	return &Migrator{
		Settings:    settings,
		Provisioner: provisioner,
		Reporter:    reporter,
		Out:         out,
		Logger:      logger,
	}
}

// Validate checks both URIs are present, name a supported flavor and parse
func (m *Migrator) Validate() error {
	_, _, err := m.prepare()
	return err
}

// prepare builds both connectors without connecting either
func (m *Migrator) prepare() (*connector.DatabaseConnector, *connector.DatabaseConnector, error) {
	source, err := m.side(connector.Source, "from-uri", m.Settings.FromURI)
	if err != nil {
		return nil, nil, err
	}
	dest, err := m.side(connector.Destination, "to-uri", m.Settings.ToURI)
	if err != nil {
		return nil, nil, err
	}
	return source, dest, nil
}

func (m *Migrator) side(side, flag, uri string) (*connector.DatabaseConnector, error) {
	if uri == "" {
		return nil, &MissingArgumentError{Flag: flag}
	}
	if err := connector.GuardSupported(connector.FlavorOf(connector.SchemeOf(uri)), m.Settings.SupportedFlavors); err != nil {
		return nil, err
	}
	m.Logger.Debugf("%s = %s", flag, connector.Redact(uri))
	return connector.NewDatabaseConnector(side, uri, m.Logger)
}

// Run validates the input, connects both sides, provisions the destination
// schema and copies every source table
func (m *Migrator) Run(ctx context.Context) (models.RunSummary, error) {
	var summary models.RunSummary

	source, dest, err := m.prepare()
	if err != nil {
		return summary, err
	}

	if err := source.Connect(ctx); err != nil {
		return summary, err
	}
	defer source.Disconnect()

	if err := dest.Connect(ctx); err != nil {
		return summary, err
	}
	defer dest.Disconnect()

	summary.SourceFlavor = source.Flavor
	summary.DestinationFlavor = dest.Flavor

	version, err := ReadVersion(ctx, source, m.Settings.VersionTable, m.Settings.VersionName)
	if err != nil {
		return summary, err
	}
	summary.Version = version

	fmt.Fprintf(m.Out, "From db version: %s %s\n", source.Flavor, version)
	fmt.Fprintf(m.Out, "To db version: %s %s\n", dest.Flavor, version)

	if m.Settings.SkipSchema {
		m.Logger.Warn("Skipping schema provisioning, the destination schema must already exist")
	} else {
		if m.Provisioner == nil {
			return summary, fmt.Errorf("no schema provisioner configured")
		}
		if err := m.Provisioner.Provision(ctx, dest, dest.Flavor, version); err != nil {
			return summary, err
		}
		m.Logger.Infof("Provisioned %s schema for version %s", dest.Flavor, version)
	}

	tables, err := m.tables(ctx, source)
	if err != nil {
		return summary, err
	}
	m.Logger.Debugf("Copying %d tables", len(tables))

	c := copier.NewCopier(source, dest, m.Settings.SkipTables, m.Reporter, m.Logger)
	for _, table := range tables {
		report, err := c.CopyTable(ctx, table)
		summary.Reports = append(summary.Reports, report)
		if err != nil {
			return summary, err
		}
	}

	utils.PrintSummary(m.Out, summary)

	fmt.Fprintln(m.Out)
	fmt.Fprintf(m.Out, "Now connect your roundcube instance to %s\n", color.GreenString(connector.Redact(m.Settings.ToURI)))
	fmt.Fprintln(m.Out)

	return summary, nil
}

func (m *Migrator) tables(ctx context.Context, source *connector.DatabaseConnector) ([]string, error) {
	schemaAnalyzer := analyzer.NewSchemaAnalyzer(source, m.Logger)
	if m.Settings.DependencyOrder {
		return schemaAnalyzer.DependencyOrder(ctx)
	}
	return schemaAnalyzer.ListTables(ctx)
}

// ReadVersion returns the application version stored in the metadata table
func ReadVersion(ctx context.Context, db *connector.DatabaseConnector, table, name string) (string, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ?",
		db.Quote("value"), db.Quote(table), db.Quote("name"),
	)

	value, err := db.QueryScalar(ctx, query, name)
	if err != nil {
		return "", fmt.Errorf("failed to read %s from %s: %w", name, table, err)
	}
	if value == nil {
		return "", fmt.Errorf("no %s found in table %s", name, table)
	}
	return fmt.Sprint(value), nil
}
