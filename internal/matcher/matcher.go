// Package matcher turns article subjects into release segment records.
//
// A matcher is a compiled regular expression plus a newsgroup glob and
// a description. Patterns are written as templates; a fixed macro table
// is interpolated before compilation. Matching is case-insensitive and
// anchored at both ends, first match wins in registration order.
package matcher

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-while/go-nzbindex/internal/models"
)

// Macros is the fixed template macro table. Each `{name}` occurrence in
// a pattern template expands to the regex fragment on the right.
var Macros = map[string]string{
	"release":         `(?P<release_name>.+?)`,
	"comment":         `(?P<comment>.+?)`,
	"seperator":       `(?:-|||||)`,
	"parts_p":         `\((?P<part_number>\d+)(?:/| of )(?P<part_total>\d+)\)`,
	"parts_b":         `\[(?P<part_number>\d+)(?:/| of )(?P<part_total>\d+)\]`,
	"files_b":         `\[(?P<file_number>\d+)(?:/| ?of ?)(?P<file_total>\d+)\]`,
	"file_name_parts": `(?P<file_name>.+\.part(?P<file_number>\d+)\.rar)`,
	"file_name":       `(?P<file_name>[^"]+)`,
	"yenc":            `yEnc`,
}

var macroReplacer = buildReplacer()

func buildReplacer() *strings.Replacer {
	pairs := make([]string, 0, len(Macros)*2)
	for name, expansion := range Macros {
		pairs = append(pairs, "{"+name+"}", expansion)
	}
	return strings.NewReplacer(pairs...)
}

// ExpandTemplate interpolates the macro table into a pattern template.
func ExpandTemplate(template string) string {
	return macroReplacer.Replace(template)
}

// Matcher is one compiled subject pattern.
type Matcher struct {
	Pattern     *regexp.Regexp
	Template    string // the original template line, before expansion
	GroupGlob   string // shell-style glob restricting newsgroups; "*" = all
	Description string
}

// AppliesTo reports whether this matcher is active for a newsgroup.
func (m *Matcher) AppliesTo(group string) bool {
	ok, err := path.Match(m.GroupGlob, group)
	return err == nil && ok
}

// Registry is an ordered, immutable-after-load list of matchers.
type Registry struct {
	matchers []*Matcher
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add compiles a pattern template and appends it to the registry.
// Identical (template, glob) pairs are registered only once.
func (r *Registry) Add(template, groupGlob, description string) error {
	if groupGlob == "" {
		groupGlob = "*"
	}
	for _, m := range r.matchers {
		if m.Template == template && m.GroupGlob == groupGlob {
			return nil
		}
	}
	pattern, err := regexp.Compile(`(?i)^` + ExpandTemplate(template) + `$`)
	if err != nil {
		return fmt.Errorf("failed to compile matcher '%s': %w", description, err)
	}
	r.matchers = append(r.matchers, &Matcher{
		Pattern:     pattern,
		Template:    template,
		GroupGlob:   groupGlob,
		Description: description,
	})
	return nil
}

// Matchers returns the registered matchers in registration order.
func (r *Registry) Matchers() []*Matcher {
	return r.matchers
}

// Len returns the number of registered matchers.
func (r *Registry) Len() int {
	return len(r.matchers)
}

// Match runs the registry against a subject line for one newsgroup.
// The first fully matching pattern yields a Segment built from its
// named captures; the MessageID field is left for the caller to fill.
// release_name defaults to file_name; integer captures default to 0
// which means "unknown".
func (r *Registry) Match(group, subject string) (models.Segment, *Matcher, bool) {
	for _, m := range r.matchers {
		if !m.AppliesTo(group) {
			continue
		}
		sub := m.Pattern.FindStringSubmatch(subject)
		if sub == nil {
			continue
		}
		caps := make(map[string]string)
		for i, name := range m.Pattern.SubexpNames() {
			if name != "" && sub[i] != "" {
				caps[name] = sub[i]
			}
		}
		seg := segmentFromCaptures(caps)
		return seg, m, true
	}
	return models.Segment{}, nil, false
}

// MatchAny runs every matcher regardless of its group glob. Used for
// offline re-matching where the article's groups are not at hand.
func (r *Registry) MatchAny(subject string) (models.Segment, *Matcher, bool) {
	for _, m := range r.matchers {
		sub := m.Pattern.FindStringSubmatch(subject)
		if sub == nil {
			continue
		}
		caps := make(map[string]string)
		for i, name := range m.Pattern.SubexpNames() {
			if name != "" && sub[i] != "" {
				caps[name] = sub[i]
			}
		}
		return segmentFromCaptures(caps), m, true
	}
	return models.Segment{}, nil, false
}

func segmentFromCaptures(caps map[string]string) models.Segment {
	fileName := strings.TrimSpace(caps["file_name"])
	releaseName := caps["release_name"]
	if releaseName == "" {
		releaseName = fileName
	}
	return models.Segment{
		ReleaseName: releaseName,
		FileName:    fileName,
		FileTotal:   captureInt(caps, "file_total"),
		FileNumber:  captureInt(caps, "file_number"),
		PartTotal:   captureInt(caps, "part_total"),
		PartNumber:  captureInt(caps, "part_number"),
	}
}

func captureInt(caps map[string]string, name string) int {
	v, ok := caps[name]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0 // 0 is unknown
	}
	return n
}

// LoadFile reads a matcher template file: blank lines and #-comments
// are skipped, every other line is one pattern template applying to
// all groups. The line number becomes the matcher description.
func LoadFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open matcher file: %w", err)
	}
	defer f.Close()

	registry := NewRegistry()
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r\n")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if err := registry.Add(line, "*", fmt.Sprintf("line %d", lineNo)); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read matcher file '%s': %w", path, err)
	}
	return registry, nil
}
