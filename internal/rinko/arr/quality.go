package arr

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"
)

var (
	resolutionSuffix = regexp.MustCompile(`(?i)(\d{3,4})p`)
	resolutionDigits = regexp.MustCompile(`(\d{3,4})`)
	uhdPattern       = regexp.MustCompile(`(?i)2160|uhd|4k`)
	sdPattern        = regexp.MustCompile(`(?i)480|sd`)
)

// DefaultTargetResolution is assumed when a profile reveals nothing.
const DefaultTargetResolution = 1080

// ResolutionFromName extracts the vertical resolution from a quality name
// such as "WEBDL-2160p" or "Bluray-4K". Unknown names yield 0.
func ResolutionFromName(name string) int {
	if name == "" {
		return 0
	}
	if m := resolutionSuffix.FindStringSubmatch(name); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	switch {
	case uhdPattern.MatchString(name):
		return 2160
	case strings.Contains(name, "1440"):
		return 1440
	case strings.Contains(name, "1080"):
		return 1080
	case strings.Contains(name, "720"):
		return 720
	case sdPattern.MatchString(name):
		return 480
	}
	return 0
}

// TargetResolution is the resolution a profile aims for: its cutoff quality
// when recognisable, else the best allowed quality.
func (p *QualityProfile) TargetResolution() int {
	if p == nil {
		return DefaultTargetResolution
	}
	if p.Cutoff != 0 {
		for _, item := range p.Items {
			if item.Quality != nil && item.Quality.ID == p.Cutoff {
				if res := ResolutionFromName(item.Quality.Name); res > 0 {
					return res
				}
			}
		}
	}
	best, seen := 0, false
	for _, item := range p.Items {
		if !item.Allowed || item.Quality == nil {
			continue
		}
		seen = true
		best = max(best, ResolutionFromName(item.Quality.Name))
	}
	if seen {
		return best
	}
	return DefaultTargetResolution
}

// MatchProfile finds the profile a user meant by name. It tries, in order:
// the numeric id, the exact case-insensitive name, a name containing the
// query, a name containing the query's resolution digits, and finally a
// fuzzy subsequence match. It returns nil when nothing fits.
func MatchProfile(profiles []QualityProfile, name string) *QualityProfile {
	name = strings.TrimSpace(name)
	if name == "" || len(profiles) == 0 {
		return nil
	}
	lower := strings.ToLower(name)

	if id, err := strconv.Atoi(name); err == nil {
		for i := range profiles {
			if profiles[i].ID == id {
				return &profiles[i]
			}
		}
	}
	for i := range profiles {
		if strings.ToLower(profiles[i].Name) == lower {
			return &profiles[i]
		}
	}
	for i := range profiles {
		if strings.Contains(strings.ToLower(profiles[i].Name), lower) {
			return &profiles[i]
		}
	}
	if m := resolutionDigits.FindString(lower); m != "" {
		for i := range profiles {
			if strings.Contains(profiles[i].Name, m) {
				return &profiles[i]
			}
		}
	}

	names := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
	}
	if matches := fuzzy.Find(lower, names); len(matches) > 0 {
		return &profiles[matches[0].Index]
	}
	return nil
}

// PickTargetProfile resolves the requested profile, then the configured
// fallback, then the first profile. It returns nil only when profiles is
// empty.
func PickTargetProfile(profiles []QualityProfile, requested, fallback string) *QualityProfile {
	if len(profiles) == 0 {
		return nil
	}
	if p := MatchProfile(profiles, requested); p != nil {
		return p
	}
	if p := MatchProfile(profiles, fallback); p != nil {
		return p
	}
	return &profiles[0]
}
