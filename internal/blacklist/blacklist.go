// Package blacklist decides whether capturing the active window is
// forbidden for privacy reasons.
package blacklist

import "strings"

// Matcher holds the configured privacy rules. Matching is case-insensitive
// substring on both the application name and the window title. The rule set
// is immutable for the lifetime of a recording session.
type Matcher struct {
	apps   []string
	titles []string
}

// New builds a matcher from app-name patterns and title substrings.
// Patterns are lowercased; empty entries are dropped.
func New(apps, titles []string) *Matcher {
	m := &Matcher{}
	for _, a := range apps {
		if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
			m.apps = append(m.apps, a)
		}
	}
	for _, t := range titles {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			m.titles = append(m.titles, t)
		}
	}
	return m
}

// Blocked reports whether capture is forbidden for the given window.
// Unknown or empty input yields false.
func (m *Matcher) Blocked(appName, windowTitle string) bool {
	app := strings.ToLower(appName)
	title := strings.ToLower(windowTitle)
	for _, b := range m.apps {
		if strings.Contains(app, b) {
			return true
		}
	}
	for _, b := range m.titles {
		if strings.Contains(title, b) {
			return true
		}
	}
	return false
}
