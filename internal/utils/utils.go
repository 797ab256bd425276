package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/kingsquare/roundcube-utils/internal/config"
	"github.com/kingsquare/roundcube-utils/internal/connector"
	"github.com/kingsquare/roundcube-utils/pkg/models"
	"github.com/sirupsen/logrus"
)

// SetupLogging configures the logging system
func SetupLogging(logLevel string) *logrus.Logger {
	// Create a new logger
	logger := logrus.New()

	// Get log level from environment variable or parameter
	levelStr := logLevel
	if levelStr == "" {
		levelStr = os.Getenv(config.EnvPrefix + "_LOG_LEVEL")
		if levelStr == "" {
			levelStr = "info"
		}
	}

	// Parse log level
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		level = logrus.InfoLevel
	}

	// Configure logger
	logger.SetLevel(level)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	// stdout carries the progress bars and the report
	logger.SetOutput(os.Stderr)

	logger.Debugf("Logging configured with level: %s", level)
	return logger
}

// LoadEnvironmentVariables loads environment variables from .env file and
// reports whether the file was loaded
func LoadEnvironmentVariables(envFile string, logger *logrus.Logger) bool {
	// Check if a sample .env file exists but not the actual .env file
	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		sampleEnvFile := envFile + ".sample"
		if _, err := os.Stat(sampleEnvFile); err == nil {
			logger.Infof("No %s file found, but %s exists. Consider copying %s to %s and updating it.",
				envFile, sampleEnvFile, sampleEnvFile, envFile)
		}
	}

	loaded := false
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			logger.Warningf("Error loading %s file: %v", envFile, err)
		} else {
			logger.Debugf("Loaded environment variables from %s", envFile)
			loaded = true
		}
	} else {
		logger.Debugf("No %s file found, using existing environment variables", envFile)
	}

	// Log all available RCUTILS_* environment variables (for debugging)
	if logger.Level == logrus.DebugLevel {
		for _, env := range os.Environ() {
			if !strings.HasPrefix(env, config.EnvPrefix+"_") {
				continue
			}
			key, value, found := strings.Cut(env, "=")
			if !found {
				continue
			}
			switch {
			case strings.HasSuffix(key, "_TOKEN"):
				logger.Debugf("%s=********", key)
			case strings.HasSuffix(key, "_URI"):
				logger.Debugf("%s=%s", key, connector.Redact(value))
			default:
				logger.Debugf("%s=%s", key, value)
			}
		}
	}

	return loaded
}

// PrintSummary prints a summary of the copy run
func PrintSummary(out io.Writer, summary models.RunSummary) {
	var copied, empty, excluded int
	for _, report := range summary.Reports {
		switch {
		case report.Excluded:
			excluded++
		case report.Total == 0:
			empty++
		default:
			copied++
		}
	}

	fmt.Fprintln(out, "\n"+strings.Repeat("=", 50))
	color.New(color.Bold).Fprintln(out, "DATABASE COPY SUMMARY")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintf(out, "Source: %s %s\n", summary.SourceFlavor, summary.Version)
	fmt.Fprintf(out, "Destination: %s\n", summary.DestinationFlavor)
	fmt.Fprintf(out, "Copied: %s\n", english.Plural(copied, "table", ""))
	fmt.Fprintf(out, "Empty: %s\n", english.Plural(empty, "table", ""))
	fmt.Fprintf(out, "Skipped: %s\n", english.Plural(excluded, "table", ""))
	fmt.Fprintf(out, "Rows processed: %s\n", humanize.Comma(summary.TotalProcessed()))

	if skipped := summary.TotalSkipped(); skipped > 0 {
		color.New(color.FgYellow).Fprintf(out, "Rows left as they were (already present): %s\n", humanize.Comma(skipped))
	}

	if copied > 0 {
		fmt.Fprintln(out, "\nTables:")
		for _, report := range summary.Reports {
			if report.Excluded || report.Total == 0 {
				continue
			}
			fmt.Fprintf(out, "  - %s: %s/%s in %s\n",
				report.Table, humanize.Comma(report.Processed), humanize.Comma(report.Total), report.Elapsed.Round(time.Millisecond))
		}
	}

	fmt.Fprintln(out, strings.Repeat("=", 50))
}
