// Package scope compiles campaign selections into concrete archive
// listing prefixes and filename match patterns.
//
// A campaign names the slice of the archive a run cares about: which
// network subtrees, which years, optionally a day-of-year window and a
// station allow/deny selection. Compilation is deterministic; the same
// campaign always yields the same plan and the same identity hash.
package scope

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/gnssops/rinextank/pkg/rinex"
)

// Archive trees lay out entries as <network>/<year>/<doy>/<file>.
const (
	yearSegmentFormat = "%04d/"
	doySegmentFormat  = "%03d/"
)

// Grammar limits: two-digit years expand to 1980..2079.
const (
	minCampaignYear = 1980
	maxCampaignYear = 2079
)

// DayRange is an inclusive day-of-year window.
type DayRange struct {
	From int `json:"from" yaml:"from" mapstructure:"from"`
	To   int `json:"to" yaml:"to" mapstructure:"to"`
}

// Campaign selects a portion of the archive.
type Campaign struct {
	// Name labels the campaign for logs and run records. It does not
	// contribute to the scope identity hash.
	Name string `json:"name" yaml:"name" mapstructure:"name"`

	// Networks are the archive subtrees to cover. At least one is
	// required.
	Networks []string `json:"networks" yaml:"networks" mapstructure:"networks"`

	// Years restrict the selection to full years. Empty means every
	// year present under the networks.
	Years []int `json:"years,omitempty" yaml:"years" mapstructure:"years"`

	// Days restricts the selection to a day-of-year window inside each
	// selected year.
	Days *DayRange `json:"days,omitempty" yaml:"days" mapstructure:"days"`

	// Stations is a literal station allow-list, case-insensitive.
	Stations []string `json:"stations,omitempty" yaml:"stations" mapstructure:"stations"`

	// StationGlobs allow stations by glob, e.g. "ab??".
	StationGlobs []string `json:"station_globs,omitempty" yaml:"station_globs" mapstructure:"station_globs"`

	// DenyStationGlobs remove stations from the selection after the
	// allow rules.
	DenyStationGlobs []string `json:"deny_station_globs,omitempty" yaml:"deny_station_globs" mapstructure:"deny_station_globs"`
}

// Plan is a compiled campaign: everything a scan needs, made explicit.
type Plan struct {
	// Prefixes are listing prefixes relative to the archive root, one
	// per network/year/day combination, sorted and deduplicated.
	Prefixes []string

	// Includes and Excludes are match patterns applying the station
	// selection to relative paths. Empty Includes means every file.
	Includes []string
	Excludes []string
}

// Validate checks the campaign selection.
func (c *Campaign) Validate() error {
	if c == nil {
		return errors.New("campaign is nil")
	}
	if len(normalizeList(c.Networks)) == 0 {
		return errors.New("campaign.networks must not be empty")
	}
	for _, y := range c.Years {
		if y < minCampaignYear || y > maxCampaignYear {
			return fmt.Errorf("campaign.years: %d outside %d..%d", y, minCampaignYear, maxCampaignYear)
		}
	}
	if c.Days != nil {
		if c.Days.From < 1 || c.Days.To > 366 || c.Days.From > c.Days.To {
			return fmt.Errorf("campaign.days: %d..%d outside 1..366", c.Days.From, c.Days.To)
		}
	}
	for _, g := range append(append([]string{}, c.StationGlobs...), c.DenyStationGlobs...) {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if !doublestar.ValidatePattern(g) {
			return fmt.Errorf("campaign: invalid station glob %q", g)
		}
	}
	return nil
}

// Compile expands the campaign into an explicit plan.
func Compile(c *Campaign) (*Plan, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}

	var prefixes []string
	for _, network := range normalizeList(c.Networks) {
		base := network + "/"
		if len(c.Years) == 0 {
			prefixes = append(prefixes, base)
			continue
		}
		for _, year := range dedupeInts(c.Years) {
			yearPrefix := base + fmt.Sprintf(yearSegmentFormat, year)
			if c.Days == nil {
				prefixes = append(prefixes, yearPrefix)
				continue
			}
			for d := c.Days.From; d <= c.Days.To; d++ {
				prefixes = append(prefixes, yearPrefix+fmt.Sprintf(doySegmentFormat, d))
			}
		}
	}

	plan := &Plan{Prefixes: normalizePrefixes(prefixes)}
	for _, s := range normalizeList(c.Stations) {
		plan.Includes = append(plan.Includes, stationPattern(strings.ToLower(s)))
	}
	for _, g := range normalizeList(c.StationGlobs) {
		plan.Includes = append(plan.Includes, stationPattern(g))
	}
	for _, g := range normalizeList(c.DenyStationGlobs) {
		plan.Excludes = append(plan.Excludes, stationPattern(g))
	}
	return plan, nil
}

// stationPattern turns a station code or glob into a path pattern
// matching any file that starts with it, at any depth.
func stationPattern(g string) string {
	if !strings.HasSuffix(g, "*") {
		g += "*"
	}
	return "**/" + g
}

// Allows reports whether a classified entry falls inside the campaign
// selection. Network membership is not checked here: classification
// cannot assign networks, so network scoping happens through the listing
// prefixes instead.
func (c *Campaign) Allows(e rinex.Entry) (bool, error) {
	if len(c.Years) > 0 && !containsInt(c.Years, e.FullYear()) {
		return false, nil
	}
	if c.Days != nil && (e.DayOfYear < c.Days.From || e.DayOfYear > c.Days.To) {
		return false, nil
	}
	return c.stationAllowed(strings.ToLower(e.Station))
}

func (c *Campaign) stationAllowed(station string) (bool, error) {
	literals := normalizeList(c.Stations)
	globs := normalizeList(c.StationGlobs)

	if len(literals) > 0 || len(globs) > 0 {
		allowed := false
		for _, s := range literals {
			if strings.EqualFold(s, station) {
				allowed = true
				break
			}
		}
		if !allowed {
			ok, err := matchAnyGlob(globs, station)
			if err != nil {
				return false, err
			}
			allowed = ok
		}
		if !allowed {
			return false, nil
		}
	}

	denied, err := matchAnyGlob(normalizeList(c.DenyStationGlobs), station)
	if err != nil {
		return false, err
	}
	return !denied, nil
}

func matchAnyGlob(patterns []string, value string) (bool, error) {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(strings.ToLower(pattern), value)
		if err != nil {
			return false, fmt.Errorf("match glob %q: %w", pattern, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}

func normalizePrefixes(prefixes []string) []string {
	if len(prefixes) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(prefixes))
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}

func normalizeList(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.Trim(strings.TrimSpace(v), "/")
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func dedupeInts(values []int) []int {
	seen := make(map[int]struct{}, len(values))
	out := make([]int, 0, len(values))
	for _, v := range values {
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}

func containsInt(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
