package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kingsquare/roundcube-utils/internal/config"
	"github.com/kingsquare/roundcube-utils/pkg/models"
	"github.com/sirupsen/logrus"
)

const githubTimeFormat = "2006-01-02T15:04:05Z"

// GitHubProvider reads initial schema history from the GitHub REST API
type GitHubProvider struct {
	Settings config.GitHubSettings
	Client   *http.Client
	Logger   *logrus.Logger
}

// NewGitHubProvider creates a provider with a client level timeout
func NewGitHubProvider(settings config.GitHubSettings, logger *logrus.Logger) *GitHubProvider {
	return &GitHubProvider{
		Settings: settings,
		Client:   &http.Client{Timeout: settings.Timeout},
		Logger:   logger,
	}
}

type commit struct {
	SHA string `json:"sha"`
}

func (g *GitHubProvider) schemaPath(flavor models.Flavor) string {
	return fmt.Sprintf(g.Settings.SchemaPath, flavor)
}

// ListRevisions lists the commits touching the flavor's initial schema in [since, until)
func (g *GitHubProvider) ListRevisions(ctx context.Context, flavor models.Flavor, since, until time.Time) ([]string, error) {
	query := url.Values{}
	query.Set("since", since.UTC().Format(githubTimeFormat))
	query.Set("until", until.UTC().Format(githubTimeFormat))
	query.Set("path", g.schemaPath(flavor))

	endpoint := fmt.Sprintf(g.Settings.CommitsTemplate, g.Settings.Repository) + "?" + query.Encode()
	body, err := g.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var commits []commit
	if err := json.Unmarshal(body, &commits); err != nil {
		return nil, fmt.Errorf("failed to decode commit list: %w", err)
	}

	revisions := make([]string, 0, len(commits))
	for _, c := range commits {
		revisions = append(revisions, c.SHA)
	}
	return revisions, nil
}

// FetchRevision returns the raw initial schema of flavor at revision
func (g *GitHubProvider) FetchRevision(ctx context.Context, flavor models.Flavor, revision string) (string, error) {
	endpoint := fmt.Sprintf(g.Settings.ContentsTemplate, g.Settings.Repository, g.schemaPath(flavor)) +
		"?ref=" + url.QueryEscape(revision)
	body, err := g.get(ctx, endpoint)
	if err != nil {
		return "", err
	}
	return string(body), nil
}

func (g *GitHubProvider) get(ctx context.Context, endpoint string) ([]byte, error) {
	target := strings.TrimRight(g.Settings.BaseURL, "/") + endpoint

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", g.Settings.UserAgent)
	req.Header.Set("Accept", g.Settings.Accept)
	if g.Settings.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.Settings.Token)
	}

	g.Logger.Debugf("GET %s", target)
	resp, err := g.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: unexpected status %s", target, resp.Status)
	}
	return body, nil
}
