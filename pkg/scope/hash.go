package scope

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// campaignHashPayload is the canonical form fed to the hash. Fields are
// normalized (sorted, deduplicated, lowercased globs untouched) so two
// campaigns selecting the same archive slice hash identically regardless
// of declaration order.
type campaignHashPayload struct {
	Networks         []string  `json:"networks"`
	Years            []int     `json:"years,omitempty"`
	Days             *DayRange `json:"days,omitempty"`
	Stations         []string  `json:"stations,omitempty"`
	StationGlobs     []string  `json:"station_globs,omitempty"`
	DenyStationGlobs []string  `json:"deny_station_globs,omitempty"`
}

// Hash computes the campaign's scope identity. The name is a label and
// deliberately excluded: renaming a campaign must not change which runs
// it can be compared against.
func Hash(c *Campaign) (string, error) {
	if err := c.Validate(); err != nil {
		return "", err
	}

	payload := campaignHashPayload{
		Networks:         normalizeList(c.Networks),
		Years:            dedupeInts(c.Years),
		Days:             c.Days,
		Stations:         lowerAll(normalizeList(c.Stations)),
		StationGlobs:     normalizeList(c.StationGlobs),
		DenyStationGlobs: normalizeList(c.DenyStationGlobs),
	}
	if len(payload.Years) == 0 {
		payload.Years = nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal campaign hash payload: %w", err)
	}
	sha := sha256.Sum256(b)
	return hex.EncodeToString(sha[:]), nil
}

func lowerAll(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = strings.ToLower(v)
	}
	return out
}
