// Package pending holds the one in-flight confirmation per conversation.
//
// Every multi-step workflow parks its state here between the prompt it sends
// and the button the user eventually presses. State is a closed set of
// variants, one per workflow mode; callers switch on the concrete type.
package pending

import (
	"github.com/bdobrica/Rinko/internal/rinko/cache"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/nas"
	"github.com/bdobrica/Rinko/internal/rinko/plex"
	"github.com/bdobrica/Rinko/internal/rinko/qbittorrent"
	"github.com/bdobrica/Rinko/internal/rinko/radarr"
	"github.com/bdobrica/Rinko/internal/rinko/sonarr"
	"github.com/bdobrica/Rinko/internal/rinko/tmdb"
)

// Mode names a workflow.
type Mode string

const (
	ModeRedownload         Mode = "redownload"
	ModeRedownloadResolved Mode = "redownload_resolved"
	ModeTidy               Mode = "tidy"
	ModeAddMedia           Mode = "add_media"
	ModeAddMediaChoose     Mode = "add_media_choose"
	ModeOptimizeMovies     Mode = "optimize_movies"
	ModeOptimizeTV         Mode = "optimize_tv"
	ModeNASEmpty           Mode = "nas_empty"
	ModeQBUnregistered     Mode = "qb_unregistered"
	ModeMovieSeriesPick    Mode = "movie_series_pick"
	ModeMovieSeriesConfirm Mode = "movie_series_confirm"
)

// State is implemented only by the variants in this package.
type State interface {
	Mode() Mode
	// Messages lists the prompt messages owned by the state. They are
	// deleted when a newer workflow supersedes this one.
	Messages() []chat.MessageID
	// PromptID is the message whose buttons drive the state.
	PromptID() chat.MessageID
	SetMessageID(id chat.MessageID)
	isState()
}

// Prompt is embedded by every variant: the message carrying the buttons.
type Prompt struct {
	MessageID chat.MessageID
}

// PromptID returns the prompt message id.
func (p *Prompt) PromptID() chat.MessageID { return p.MessageID }

// SetMessageID records the prompt message once it has been sent.
func (p *Prompt) SetMessageID(id chat.MessageID) { p.MessageID = id }

func (p Prompt) messages() []chat.MessageID {
	if p.MessageID == "" {
		return nil
	}
	return []chat.MessageID{p.MessageID}
}

// Redownload confirms replacing one episode of a series picked from the
// cache. Series holds every cache match for the "pick different show" path.
type Redownload struct {
	Prompt
	Series        []cache.Entry
	Selected      cache.Entry
	Season        int
	Episode       int
	EpisodeID     int
	EpisodeFileID int
}

// RedownloadResolved confirms replacing an in-progress Plex episode.
type RedownloadResolved struct {
	Prompt
	Item       plex.Item
	Alternates []plex.Item
	// SeriesID is zero when the show could not be matched in Sonarr; the
	// yes path then reports that instead of searching.
	SeriesID      int
	SeriesTitle   string
	EpisodeID     int
	EpisodeFileID int
}

// Tidy confirms deleting every file of one season.
type Tidy struct {
	Prompt
	Series     []cache.Entry
	Selected   cache.Entry
	Season     int
	FileIDs    []int
	SizeOnDisk int64
}

// Kind is a media kind.
type Kind string

const (
	KindTV    Kind = "tv"
	KindMovie Kind = "movie"
)

// AddMedia is the add-media carousel.
type AddMedia struct {
	Prompt
	Kind   Kind
	Query  string
	Shows  []sonarr.Series
	Movies []radarr.Movie
	Index  int
}

// Len is the number of results of the current kind.
func (a *AddMedia) Len() int {
	if a.Kind == KindMovie {
		return len(a.Movies)
	}
	return len(a.Shows)
}

// AddMediaChoose asks whether to browse shows or movies first.
type AddMediaChoose struct {
	Prompt
	Query  string
	Shows  []sonarr.Series
	Movies []radarr.Movie
}

// OptimizeCandidate is one title offered for a quality-profile downgrade.
type OptimizeCandidate struct {
	ID    int
	Title string
}

// Optimize is the shared body of both optimize modes.
type Optimize struct {
	Prompt
	Candidates      []OptimizeCandidate
	Selected        []int
	TargetProfileID int
	// SelectionMessageID is the optional picker message.
	SelectionMessageID chat.MessageID
}

// Toggle flips candidate id in the selection and returns the new count.
func (o *Optimize) Toggle(id int) int {
	for i, s := range o.Selected {
		if s == id {
			o.Selected = append(o.Selected[:i], o.Selected[i+1:]...)
			return len(o.Selected)
		}
	}
	o.Selected = append(o.Selected, id)
	return len(o.Selected)
}

// IsSelected reports whether id is selected.
func (o *Optimize) IsSelected(id int) bool {
	for _, s := range o.Selected {
		if s == id {
			return true
		}
	}
	return false
}

// Targets returns the selected ids, or every candidate when none is
// selected or all is set.
func (o *Optimize) Targets(all bool) []int {
	if !all && len(o.Selected) > 0 {
		return append([]int(nil), o.Selected...)
	}
	ids := make([]int, len(o.Candidates))
	for i, c := range o.Candidates {
		ids[i] = c.ID
	}
	return ids
}

func (o *Optimize) messages() []chat.MessageID {
	ids := o.Prompt.messages()
	if o.SelectionMessageID != "" {
		ids = append(ids, o.SelectionMessageID)
	}
	return ids
}

// OptimizeMovies moves movies to a smaller Radarr profile.
type OptimizeMovies struct{ Optimize }

// OptimizeTV moves series to a smaller Sonarr profile.
type OptimizeTV struct{ Optimize }

// NASEmpty confirms emptying recycle bins.
type NASEmpty struct {
	Prompt
	Bins []nas.Report
}

// QBUnregistered confirms deleting unregistered torrents.
type QBUnregistered struct {
	Prompt
	Category string
	Torrents []qbittorrent.Torrent
}

// MovieSeriesPick lists collection search hits.
type MovieSeriesPick struct {
	Prompt
	Choices []tmdb.Collection
}

// MovieSeriesConfirm confirms adding a collection's missing movies.
type MovieSeriesConfirm struct {
	Prompt
	CollectionID   int
	CollectionName string
	// Missing are the parts not yet in Radarr; Owned the rest. When nothing
	// is missing, confirming re-adds Owned.
	Missing []tmdb.Part
	Owned   []tmdb.Part
}

func (*Redownload) Mode() Mode         { return ModeRedownload }
func (*RedownloadResolved) Mode() Mode { return ModeRedownloadResolved }
func (*Tidy) Mode() Mode               { return ModeTidy }
func (*AddMedia) Mode() Mode           { return ModeAddMedia }
func (*AddMediaChoose) Mode() Mode     { return ModeAddMediaChoose }
func (*OptimizeMovies) Mode() Mode     { return ModeOptimizeMovies }
func (*OptimizeTV) Mode() Mode         { return ModeOptimizeTV }
func (*NASEmpty) Mode() Mode           { return ModeNASEmpty }
func (*QBUnregistered) Mode() Mode     { return ModeQBUnregistered }
func (*MovieSeriesPick) Mode() Mode    { return ModeMovieSeriesPick }
func (*MovieSeriesConfirm) Mode() Mode { return ModeMovieSeriesConfirm }

func (s *Redownload) Messages() []chat.MessageID         { return s.messages() }
func (s *RedownloadResolved) Messages() []chat.MessageID { return s.messages() }
func (s *Tidy) Messages() []chat.MessageID               { return s.messages() }
func (s *AddMedia) Messages() []chat.MessageID           { return s.messages() }
func (s *AddMediaChoose) Messages() []chat.MessageID     { return s.messages() }
func (s *OptimizeMovies) Messages() []chat.MessageID     { return s.Optimize.messages() }
func (s *OptimizeTV) Messages() []chat.MessageID         { return s.Optimize.messages() }
func (s *NASEmpty) Messages() []chat.MessageID           { return s.messages() }
func (s *QBUnregistered) Messages() []chat.MessageID     { return s.messages() }
func (s *MovieSeriesPick) Messages() []chat.MessageID    { return s.messages() }
func (s *MovieSeriesConfirm) Messages() []chat.MessageID { return s.messages() }

func (*Redownload) isState()         {}
func (*RedownloadResolved) isState() {}
func (*Tidy) isState()               {}
func (*AddMedia) isState()           {}
func (*AddMediaChoose) isState()     {}
func (*OptimizeMovies) isState()     {}
func (*OptimizeTV) isState()         {}
func (*NASEmpty) isState()           {}
func (*QBUnregistered) isState()     {}
func (*MovieSeriesPick) isState()    {}
func (*MovieSeriesConfirm) isState() {}
