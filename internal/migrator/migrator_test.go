package migrator

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fatih/color"
	"github.com/kingsquare/roundcube-utils/internal/config"
	"github.com/kingsquare/roundcube-utils/internal/connector"
	"github.com/kingsquare/roundcube-utils/internal/dialect"
	"github.com/kingsquare/roundcube-utils/internal/schema"
	"github.com/kingsquare/roundcube-utils/pkg/models"
	"github.com/sirupsen/logrus"
)

const initialSchema = `-- Roundcube Webmail initial database structure

CREATE TABLE system (
  name varchar(64) NOT NULL PRIMARY KEY,
  value text NOT NULL
);

CREATE TABLE contacts (
  contact_id integer NOT NULL PRIMARY KEY,
  name varchar(128) NOT NULL default '',
  email text NOT NULL default ''
);

CREATE TABLE session (
  sess_id varchar(128) NOT NULL PRIMARY KEY,
  vars text NOT NULL
);

INSERT INTO system (name, value) VALUES ('roundcube-version', '20220101000000');
`

// fakeProvider serves a fixed revision history for every flavor
type fakeProvider struct {
	revisions []string
	contents  map[string]string
	flavors   []models.Flavor
	since     time.Time
}

func (f *fakeProvider) ListRevisions(ctx context.Context, flavor models.Flavor, since, until time.Time) ([]string, error) {
	f.flavors = append(f.flavors, flavor)
	f.since = since
	return f.revisions, nil
}

func (f *fakeProvider) FetchRevision(ctx context.Context, flavor models.Flavor, revision string) (string, error) {
	content, ok := f.contents[revision]
	if !ok {
		return "", errors.New("no such revision")
	}
	return content, nil
}

func createTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress log output during tests
	return logger
}

func createSQLite(t *testing.T, name string, statements ...string) string {
	t.Helper()
	ctx := context.Background()
	uri := "sqlite://" + filepath.Join(t.TempDir(), name)

	db, err := connector.Connect(ctx, connector.Destination, uri, createTestLogger())
	if err != nil {
		t.Fatalf("Failed to create %s: %v", name, err)
	}
	defer db.Disconnect()

	for _, stmt := range statements {
		if _, err := db.ExecuteStatement(ctx, stmt); err != nil {
			t.Fatalf("Failed to run %q: %v", stmt, err)
		}
	}
	return uri
}

func createRoundcubeSource(t *testing.T) string {
	return createSQLite(t, "source.db",
		"CREATE TABLE system (name varchar(64) NOT NULL PRIMARY KEY, value text NOT NULL)",
		"CREATE TABLE contacts (contact_id integer NOT NULL PRIMARY KEY, name varchar(128) NOT NULL default '', email text NOT NULL default '')",
		"CREATE TABLE session (sess_id varchar(128) NOT NULL PRIMARY KEY, vars text NOT NULL)",
		"INSERT INTO system (name, value) VALUES ('roundcube-version', '20220101000000')",
		"INSERT INTO contacts (contact_id, name, email) VALUES (1, 'Alice', 'alice@example.org')",
		"INSERT INTO contacts (contact_id, name, email) VALUES (2, 'Bob', 'bob@example.org')",
		"INSERT INTO contacts (contact_id, name, email) VALUES (3, 'Carol', 'carol@example.org')",
		"INSERT INTO session (sess_id, vars) VALUES ('a', 'x')",
		"INSERT INTO session (sess_id, vars) VALUES ('b', 'y')",
	)
}

func testSettings(fromURI, toURI string) config.Settings {
	settings := config.Defaults()
	settings.FromURI = fromURI
	settings.ToURI = toURI
	return settings
}

func reportFor(t *testing.T, summary models.RunSummary, table string) models.CopyReport {
	t.Helper()
	for _, report := range summary.Reports {
		if report.Table == table {
			return report
		}
	}
	t.Fatalf("No report for table %s in %+v", table, summary.Reports)
	return models.CopyReport{}
}

func TestRunCopiesDatabase(t *testing.T) {
	noColor := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = noColor }()

	ctx := context.Background()
	fromURI := createRoundcubeSource(t)
	toURI := "sqlite://" + filepath.Join(t.TempDir(), "destination.db")

	provider := &fakeProvider{
		revisions: []string{"older", "matching", "unrelated"},
		contents: map[string]string{
			"older":     strings.Replace(initialSchema, "20220101000000", "2021120100", 1),
			"matching":  initialSchema,
			"unrelated": "CREATE TABLE unrelated (id integer);",
		},
	}
	logger := createTestLogger()
	var out bytes.Buffer

	m := NewMigrator(testSettings(fromURI, toURI), schema.NewProvisioner(provider, nil, logger), nil, &out, logger)
	summary, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v", err)
	}

	if summary.Version != "20220101000000" {
		t.Errorf("Expected version 20220101000000, got %q", summary.Version)
	}
	if len(provider.flavors) != 1 || provider.flavors[0] != models.SQLite {
		t.Errorf("Expected the destination flavor schema to be looked up once, got %v", provider.flavors)
	}
	if want := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC); !provider.since.Equal(want) {
		t.Errorf("Expected search window to start at %s, got %s", want, provider.since)
	}

	contacts := reportFor(t, summary, "contacts")
	if contacts.Total != 3 || contacts.Processed != 3 || contacts.Written != 3 {
		t.Errorf("Expected contacts to copy 3/3, got %+v", contacts)
	}
	session := reportFor(t, summary, "session")
	if !session.Excluded || session.Total != 0 || session.Processed != 0 {
		t.Errorf("Expected session to be skipped with 0/0, got %+v", session)
	}
	// the provisioned schema already holds the version row
	system := reportFor(t, summary, "system")
	if system.Processed != 1 || system.Skipped != 1 {
		t.Errorf("Expected the system row to be left as provisioned, got %+v", system)
	}

	dest, err := connector.Connect(ctx, connector.Source, toURI, logger)
	if err != nil {
		t.Fatalf("Failed to open destination: %v", err)
	}
	defer dest.Disconnect()

	if count, _ := dest.QueryScalar(ctx, "SELECT COUNT(*) FROM contacts"); count != int64(3) {
		t.Errorf("Expected 3 contacts in destination, got %v", count)
	}
	if count, _ := dest.QueryScalar(ctx, "SELECT COUNT(*) FROM session"); count != int64(0) {
		t.Errorf("Expected no sessions in destination, got %v", count)
	}

	text := out.String()
	for _, want := range []string{
		"From db version: sqlite 20220101000000",
		"To db version: sqlite 20220101000000",
		"Now connect your roundcube instance to " + toURI,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, text)
		}
	}
}

func TestRunMissingArguments(t *testing.T) {
	tests := []struct {
		fromURI string
		toURI   string
		flag    string
	}{
		{"", "mysql://root@localhost/roundcube", "from-uri"},
		{"sqlite:///tmp/roundcube.db", "", "to-uri"},
	}

	for _, tt := range tests {
		m := NewMigrator(testSettings(tt.fromURI, tt.toURI), nil, nil, &bytes.Buffer{}, createTestLogger())
		_, err := m.Run(context.Background())

		var missing *MissingArgumentError
		if !errors.As(err, &missing) {
			t.Errorf("Expected MissingArgumentError, got %v", err)
			continue
		}
		if missing.Flag != tt.flag {
			t.Errorf("Expected missing flag %s, got %s", tt.flag, missing.Flag)
		}
	}
}

func TestRunRejectsUnsupportedFlavorBeforeConnecting(t *testing.T) {
	missing := "sqlite://" + filepath.Join(t.TempDir(), "missing.db")

	tests := []struct {
		fromURI string
		toURI   string
	}{
		{"pgsql://localhost/roundcube", missing},
		{missing, "pgsql://localhost/roundcube"},
	}

	for _, tt := range tests {
		provider := &fakeProvider{}
		logger := createTestLogger()
		m := NewMigrator(testSettings(tt.fromURI, tt.toURI), schema.NewProvisioner(provider, nil, logger), nil, &bytes.Buffer{}, logger)

		_, err := m.Run(context.Background())
		if !errors.Is(err, dialect.ErrUnsupportedFlavor) {
			t.Errorf("Expected unsupported flavor error for %s -> %s, got %v", tt.fromURI, tt.toURI, err)
		}
		var connErr *connector.ConnectionError
		if errors.As(err, &connErr) {
			t.Errorf("Expected no connection attempt, got %v", err)
		}
		if len(provider.flavors) != 0 {
			t.Error("Expected no schema lookup")
		}
	}
}

func TestRunConnectionError(t *testing.T) {
	fromURI := "sqlite://" + filepath.Join(t.TempDir(), "missing.db")
	toURI := "sqlite://" + filepath.Join(t.TempDir(), "destination.db")

	m := NewMigrator(testSettings(fromURI, toURI), nil, nil, &bytes.Buffer{}, createTestLogger())
	_, err := m.Run(context.Background())

	var connErr *connector.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}
	if connErr.Side != connector.Source {
		t.Errorf("Expected the source side to fail, got %s", connErr.Side)
	}
}

func TestRunRejectsMalformedDestinationBeforeConnecting(t *testing.T) {
	fromURI := "sqlite://" + filepath.Join(t.TempDir(), "missing.db")

	m := NewMigrator(testSettings(fromURI, "mysql:roundcube@tcp(db:3306"), nil, nil, &bytes.Buffer{}, createTestLogger())
	_, err := m.Run(context.Background())

	// the missing source file would fail first if the source were opened
	var connErr *connector.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}
	if connErr.Side != connector.Destination {
		t.Errorf("Expected the destination side to be named, got %s: %v", connErr.Side, err)
	}
}

func TestRunSchemaNotFound(t *testing.T) {
	ctx := context.Background()
	fromURI := createRoundcubeSource(t)
	toURI := "sqlite://" + filepath.Join(t.TempDir(), "destination.db")

	provider := &fakeProvider{
		revisions: []string{"older"},
		contents:  map[string]string{"older": strings.ReplaceAll(initialSchema, "20220101000000", "2021120100")},
	}
	logger := createTestLogger()

	m := NewMigrator(testSettings(fromURI, toURI), schema.NewProvisioner(provider, nil, logger), nil, &bytes.Buffer{}, logger)
	summary, err := m.Run(ctx)

	var notFound *schema.SchemaNotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Expected SchemaNotFoundError, got %v", err)
	}
	if notFound.Version != "20220101000000" || notFound.Flavor != models.SQLite {
		t.Errorf("Unexpected error details %+v", notFound)
	}
	if len(summary.Reports) != 0 {
		t.Errorf("Expected no table to be copied, got %+v", summary.Reports)
	}
}

func TestRunSkipSchemaInDependencyOrder(t *testing.T) {
	ctx := context.Background()
	tables := []string{
		"CREATE TABLE contacts (contact_id integer PRIMARY KEY, user_id integer NOT NULL REFERENCES users(user_id), name text)",
		"CREATE TABLE users (user_id integer PRIMARY KEY, username text NOT NULL UNIQUE)",
		"CREATE TABLE system (name varchar(64) NOT NULL PRIMARY KEY, value text NOT NULL)",
	}
	fromURI := createSQLite(t, "source.db", append(tables,
		"INSERT INTO system (name, value) VALUES ('roundcube-version', '20220101000000')",
		"INSERT INTO users (user_id, username) VALUES (1, 'alice')",
		"INSERT INTO contacts (contact_id, user_id, name) VALUES (1, 1, 'Bob')",
	)...)
	toURI := createSQLite(t, "destination.db", tables...)

	settings := testSettings(fromURI, toURI)
	settings.SkipSchema = true
	settings.DependencyOrder = true

	m := NewMigrator(settings, nil, nil, &bytes.Buffer{}, createTestLogger())
	summary, err := m.Run(ctx)
	if err != nil {
		t.Fatalf("Expected run to succeed, got %v", err)
	}

	position := make(map[string]int)
	for i, report := range summary.Reports {
		position[report.Table] = i
	}
	if position["users"] > position["contacts"] {
		t.Errorf("Expected users to be copied before contacts, got %+v", summary.Reports)
	}
	if summary.TotalProcessed() != 3 {
		t.Errorf("Expected 3 processed rows, got %d", summary.TotalProcessed())
	}
}

func TestReadVersion(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	d, _ := dialect.ForFlavor(models.MySQL)
	db := &connector.DatabaseConnector{Side: connector.Source, Flavor: models.MySQL, Dialect: d, DB: mockDB, Logger: createTestLogger()}

	mock.ExpectQuery("SELECT value FROM `system` WHERE name = ?").
		WithArgs("roundcube-version").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte("2022081200")))

	version, err := ReadVersion(context.Background(), db, "system", "roundcube-version")
	if err != nil {
		t.Fatalf("Expected version to be read, got %v", err)
	}
	if version != "2022081200" {
		t.Errorf("Expected version 2022081200, got %q", version)
	}

	mock.ExpectQuery("SELECT value FROM `system` WHERE name = ?").
		WithArgs("roundcube-version").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	if _, err := ReadVersion(context.Background(), db, "system", "roundcube-version"); err == nil {
		t.Error("Expected an error when no version row exists")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}
