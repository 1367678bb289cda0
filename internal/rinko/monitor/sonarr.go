package monitor

import (
	"context"

	"github.com/bdobrica/Rinko/internal/rinko/arr"
	"github.com/bdobrica/Rinko/internal/rinko/sonarr"
)

// SonarrAPI is the subset of *sonarr.Client a monitor needs.
type SonarrAPI interface {
	Command(ctx context.Context, id int) (*arr.Command, error)
	Episode(ctx context.Context, id int) (*sonarr.Episode, error)
	EpisodeFile(ctx context.Context, id int) (*sonarr.EpisodeFile, error)
	EpisodeSearch(ctx context.Context, episodeIDs ...int) (*arr.Command, error)
}

// SonarrBackend tracks EpisodeSearch commands. Target ids are episode ids.
type SonarrBackend struct {
	api SonarrAPI
}

// NewSonarrBackend wraps api.
func NewSonarrBackend(api SonarrAPI) *SonarrBackend {
	return &SonarrBackend{api: api}
}

func (b *SonarrBackend) CommandState(ctx context.Context, commandID int) (string, error) {
	cmd, err := b.api.Command(ctx, commandID)
	if err != nil {
		return "", err
	}
	return cmd.Phase(), nil
}

func (b *SonarrBackend) Artifact(ctx context.Context, episodeID int) (Artifact, error) {
	ep, err := b.api.Episode(ctx, episodeID)
	if err != nil {
		return Artifact{}, err
	}
	if ep.EpisodeFileID == 0 {
		return Artifact{}, nil
	}
	file := ep.EpisodeFile
	if file == nil {
		// Size and quality are best effort; the id alone proves the file exists.
		if f, err := b.api.EpisodeFile(ctx, ep.EpisodeFileID); err == nil {
			file = f
		}
	}
	art := Artifact{ID: ep.EpisodeFileID}
	if file != nil {
		art.Size = file.Size
		art.Quality = file.Quality.Quality.Name
	}
	return art, nil
}

func (b *SonarrBackend) RunSearch(ctx context.Context, episodeID int) (int, error) {
	cmd, err := b.api.EpisodeSearch(ctx, episodeID)
	if err != nil {
		return 0, err
	}
	if cmd == nil || cmd.ID == 0 {
		return 0, ErrNoCommandID
	}
	return cmd.ID, nil
}
