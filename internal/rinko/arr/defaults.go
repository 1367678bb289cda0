package arr

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNoDefaults is returned when a service has no root folder or no quality
// profile to add media with.
var ErrNoDefaults = errors.New("arr: root folder or quality profile is missing")

// Defaults are the root folder and profile new media is added with.
type Defaults struct {
	RootFolderPath   string
	QualityProfileID int
}

// PickDefaults chooses the root folder whose path equals wantRoot, else the
// first one, and the profile whose id or case-insensitive name equals
// wantProfile, else the first one.
func PickDefaults(roots []RootFolder, profiles []QualityProfile, wantRoot, wantProfile string) (Defaults, error) {
	if len(roots) == 0 || len(profiles) == 0 {
		return Defaults{}, ErrNoDefaults
	}

	root := roots[0]
	if wantRoot != "" {
		for _, r := range roots {
			if r.Path == wantRoot {
				root = r
				break
			}
		}
	}

	profile := profiles[0]
	if wantProfile != "" {
		id, idErr := strconv.Atoi(wantProfile)
		for _, p := range profiles {
			if (idErr == nil && p.ID == id) || strings.EqualFold(p.Name, wantProfile) {
				profile = p
				break
			}
		}
	}

	return Defaults{RootFolderPath: root.Path, QualityProfileID: profile.ID}, nil
}
