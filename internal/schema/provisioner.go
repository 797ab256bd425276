package schema

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kingsquare/roundcube-utils/pkg/models"
	"github.com/sirupsen/logrus"
)

// SchemaNotFoundError reports that no historical initial schema matched a version
type SchemaNotFoundError struct {
	Flavor  models.Flavor
	Version string
	Err     error
}

func (e *SchemaNotFoundError) Error() string {
	msg := fmt.Sprintf("could not find initial %s schema for version %s", e.Flavor, e.Version)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SchemaNotFoundError) Unwrap() error {
	return e.Err
}

// Provider returns the historical revisions of the initial schema of a flavor
type Provider interface {
	// ListRevisions lists the revisions of the flavor's initial schema changed in [since, until)
	ListRevisions(ctx context.Context, flavor models.Flavor, since, until time.Time) ([]string, error)
	// FetchRevision returns the raw initial schema at revision
	FetchRevision(ctx context.Context, flavor models.Flavor, revision string) (string, error)
}

// Executor runs a single statement
type Executor interface {
	ExecuteStatement(ctx context.Context, query string, params ...interface{}) (int64, error)
}

// Provisioner locates the initial schema belonging to an application version
// and applies it to a destination database
type Provisioner struct {
	Provider Provider
	Matcher  Matcher
	Logger   *logrus.Logger
}

// NewProvisioner creates a new provisioner
func NewProvisioner(provider Provider, matcher Matcher, logger *logrus.Logger) *Provisioner {
	if matcher == nil {
		matcher = ContainsMatcher{}
	}
	return &Provisioner{
		Provider: provider,
		Matcher:  matcher,
		Logger:   logger,
	}
}

var versionDate = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})`)

// SearchWindow returns the one day window starting at the date that
// prefixes version (YYYYMMDD...)
func SearchWindow(version string) (time.Time, time.Time, error) {
	m := versionDate.FindStringSubmatch(version)
	if m == nil {
		return time.Time{}, time.Time{}, fmt.Errorf("version %q does not start with a YYYYMMDD date", version)
	}
	since, err := time.Parse("20060102", m[1]+m[2]+m[3])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("version %q: %w", version, err)
	}
	return since, since.AddDate(0, 0, 1), nil
}

// Resolve returns the filtered initial schema for flavor at version
func (p *Provisioner) Resolve(ctx context.Context, flavor models.Flavor, version string) (string, error) {
	since, until, err := SearchWindow(version)
	if err != nil {
		return "", &SchemaNotFoundError{Flavor: flavor, Version: version, Err: err}
	}

	p.Logger.Debug("retrieving initial schema history")
	revisions, err := p.Provider.ListRevisions(ctx, flavor, since, until)
	if err != nil {
		return "", fmt.Errorf("failed to list %s schema revisions: %w", flavor, err)
	}
	p.Logger.Debugf("found %d commits", len(revisions))

	// later revisions in the listed order override earlier matches
	var matched string
	for _, revision := range revisions {
		p.Logger.Debugf("trying commit sha: %s", revision)
		raw, err := p.Provider.FetchRevision(ctx, flavor, revision)
		if err != nil {
			return "", fmt.Errorf("failed to fetch %s schema at %s: %w", flavor, revision, err)
		}
		if p.Matcher.Match(raw, version) {
			matched = raw
		}
	}

	if matched == "" {
		return "", &SchemaNotFoundError{Flavor: flavor, Version: version}
	}
	return FilterSQL(matched), nil
}

// Provision resolves the initial schema and executes it against dest
func (p *Provisioner) Provision(ctx context.Context, dest Executor, flavor models.Flavor, version string) error {
	ddl, err := p.Resolve(ctx, flavor, version)
	if err != nil {
		return err
	}

	statements := SplitStatements(ddl)
	p.Logger.Debugf("executing %d schema statements", len(statements))
	for i, stmt := range statements {
		if _, err := dest.ExecuteStatement(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// FilterSQL drops blank lines and lines starting with a -- comment
func FilterSQL(sql string) string {
	var kept []string
	for _, line := range strings.Split(sql, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// SplitStatements splits filtered DDL into statements terminated by a
// semicolon at the end of a line
func SplitStatements(ddl string) []string {
	var statements []string
	var current []string

	for _, line := range strings.Split(ddl, "\n") {
		current = append(current, line)
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			statements = append(statements, strings.Join(current, "\n"))
			current = nil
		}
	}

	if rest := strings.TrimSpace(strings.Join(current, "\n")); rest != "" {
		statements = append(statements, strings.Join(current, "\n"))
	}
	return statements
}
