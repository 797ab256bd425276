package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// EnvPrefix namespaces every environment variable the tool reads
	EnvPrefix = "RCUTILS"

	// ConfigName is the config file looked up in the home directory
	ConfigName = ".roundcube-utils"
)

// GitHubSettings describes the remote history of the initial schema files
type GitHubSettings struct {
	BaseURL          string
	Repository       string
	CommitsTemplate  string
	ContentsTemplate string
	SchemaPath       string
	UserAgent        string
	Accept           string
	Token            string
	Timeout          time.Duration
}

// Settings holds the settled configuration of a copy run
type Settings struct {
	FromURI          string
	ToURI            string
	LogLevel         string
	SupportedFlavors []string
	SkipTables       []string
	VersionTable     string
	VersionName      string
	SchemaMatcher    string
	DependencyOrder  bool
	SkipSchema       bool
	NoProgress       bool
	GitHub           GitHubSettings
}

// SetDefaults registers the defaults of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("supported-flavors", []string{"sqlite", "mysql"})
	v.SetDefault("skip-tables", []string{"session"})
	v.SetDefault("version-table", "system")
	v.SetDefault("version-name", "roundcube-version")
	v.SetDefault("schema-matcher", "contains")
	v.SetDefault("github.base-url", "https://api.github.com")
	v.SetDefault("github.repository", "roundcube/roundcubemail")
	v.SetDefault("github.commits-template", "/repos/%s/commits")
	v.SetDefault("github.contents-template", "/repos/%s/contents/%s")
	v.SetDefault("github.schema-path", "SQL/%s.initial.sql")
	v.SetDefault("github.user-agent", "kingsquare/roundcube-utils (https://github.com/kingsquare/roundcube-utils)")
	v.SetDefault("github.accept", "application/vnd.github.VERSION.raw, application/json")
	v.SetDefault("github.timeout", 30*time.Second)
}

// New creates a viper instance reading RCUTILS_* environment variables
// and the optional config file
func New(cfgFile string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(home)
		}
		v.SetConfigName(ConfigName)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("github.token", "GITHUB_TOKEN", EnvPrefix+"_GITHUB_TOKEN"); err != nil {
		return nil, err
	}

	// the config file is optional unless named explicitly
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// Load reads the settings from v
func Load(v *viper.Viper) Settings {
	return Settings{
		FromURI:          v.GetString("from-uri"),
		ToURI:            v.GetString("to-uri"),
		LogLevel:         v.GetString("log-level"),
		SupportedFlavors: v.GetStringSlice("supported-flavors"),
		SkipTables:       v.GetStringSlice("skip-tables"),
		VersionTable:     v.GetString("version-table"),
		VersionName:      v.GetString("version-name"),
		SchemaMatcher:    v.GetString("schema-matcher"),
		DependencyOrder:  v.GetBool("dependency-order"),
		SkipSchema:       v.GetBool("skip-schema"),
		NoProgress:       v.GetBool("no-progress"),
		GitHub: GitHubSettings{
			BaseURL:          v.GetString("github.base-url"),
			Repository:       v.GetString("github.repository"),
			CommitsTemplate:  v.GetString("github.commits-template"),
			ContentsTemplate: v.GetString("github.contents-template"),
			SchemaPath:       v.GetString("github.schema-path"),
			UserAgent:        v.GetString("github.user-agent"),
			Accept:           v.GetString("github.accept"),
			Token:            v.GetString("github.token"),
			Timeout:          v.GetDuration("github.timeout"),
		},
	}
}

// Defaults returns the settings used when nothing is configured
func Defaults() Settings {
	v := viper.New()
	SetDefaults(v)
	return Load(v)
}
