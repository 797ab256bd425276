package schema

import (
	"fmt"
	"regexp"
	"strings"
)

// Matcher decides whether a raw schema revision belongs to a version
type Matcher interface {
	Match(raw, version string) bool
}

// ContainsMatcher matches when the version occurs anywhere in the raw text
type ContainsMatcher struct{}

func (ContainsMatcher) Match(raw, version string) bool {
	return version != "" && strings.Contains(raw, version)
}

// VersionRowMatcher only matches the version stored by the schema's own
// ('roundcube-version', '<version>') row
type VersionRowMatcher struct {
	Name string
}

func (m VersionRowMatcher) Match(raw, version string) bool {
	if version == "" {
		return false
	}
	name := m.Name
	if name == "" {
		name = "roundcube-version"
	}
	pattern := fmt.Sprintf(`'%s'\s*,\s*'%s'`, regexp.QuoteMeta(name), regexp.QuoteMeta(version))
	return regexp.MustCompile(pattern).MatchString(raw)
}

// MatcherFor returns the matcher configured under name
func MatcherFor(name, versionName string) (Matcher, error) {
	switch name {
	case "", "contains":
		return ContainsMatcher{}, nil
	case "version-row":
		return VersionRowMatcher{Name: versionName}, nil
	default:
		return nil, fmt.Errorf("unknown schema matcher %q", name)
	}
}
