// Package allowlist implements the hot-reloaded suppression list (spec.md
// §4.5): text-contains, regex, and rule-id entries that downgrade a BLOCK
// candidate to PASS. Grounded on the teacher's memory.AuthStore copy-on-write
// snapshot pattern so hot-path reads never contend with a background
// reload.
package allowlist

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Entry is a single suppression rule. Exactly one of TextContains, Regex,
// or RuleID should be set per spec.md §3's tagged-variant AllowlistEntry.
type Entry struct {
	TextContains string `yaml:"text_contains,omitempty"`
	Regex        string `yaml:"regex,omitempty"`
	RuleID       string `yaml:"rule_id,omitempty"`
	Reason       string `yaml:"reason,omitempty"`
}

type compiledEntry struct {
	Entry
	re *regexp.Regexp // non-nil only when Entry.Regex is set
}

// snapshot is the immutable, currently-active compiled entry set.
type snapshot struct {
	entries []compiledEntry
}

// List is the hot-reloaded allowlist. Reads (Suppress) are lock-free;
// reloads build a new snapshot and swap it in atomically.
type List struct {
	path   string
	logger *slog.Logger
	snap   atomic.Pointer[snapshot]
}

// New creates a List backed by the YAML file at path. If the file does not
// exist, the list starts empty (not an error — an allowlist is optional).
func New(path string, logger *slog.Logger) (*List, error) {
	l := &List{path: path, logger: logger}
	l.snap.Store(&snapshot{})
	if err := l.Reload(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	return l, nil
}

// Reload re-reads and recompiles the allowlist file. On a parse error, the
// previously loaded set remains in force and a warning is logged (spec.md
// §4.5) rather than returning a fatal error to the caller's startup path.
func (l *List) Reload() error {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return err
	}

	var entries []Entry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		l.logger.Warn("allowlist reload failed, keeping previous set", "path", l.path, "error", err)
		return fmt.Errorf("parse allowlist %s: %w", l.path, err)
	}

	compiled := make([]compiledEntry, 0, len(entries))
	for _, e := range entries {
		ce := compiledEntry{Entry: e}
		if e.Regex != "" {
			re, err := regexp.Compile(e.Regex)
			if err != nil {
				l.logger.Warn("allowlist reload failed, keeping previous set", "path", l.path, "error", err, "regex", e.Regex)
				return fmt.Errorf("compile allowlist regex %q: %w", e.Regex, err)
			}
			ce.re = re
		}
		compiled = append(compiled, ce)
	}

	l.snap.Store(&snapshot{entries: compiled})
	if l.logger != nil {
		l.logger.Info("allowlist loaded", "path", l.path, "entries", len(compiled))
	}
	return nil
}

// Suppress reports whether the candidate finding (excerpt + rule_id) is
// covered by any allowlist entry: a text_contains substring of the excerpt,
// a regex match against the excerpt, or an exact rule_id match.
func (l *List) Suppress(excerpt, ruleID string) (bool, string) {
	snap := l.snap.Load()
	for _, e := range snap.entries {
		switch {
		case e.TextContains != "" && strings.Contains(excerpt, e.TextContains):
			return true, e.Reason
		case e.re != nil && e.re.MatchString(excerpt):
			return true, e.Reason
		case e.RuleID != "" && e.RuleID == ruleID:
			return true, e.Reason
		}
	}
	return false, ""
}

// Len reports the number of entries in the currently active snapshot.
func (l *List) Len() int {
	return len(l.snap.Load().entries)
}
