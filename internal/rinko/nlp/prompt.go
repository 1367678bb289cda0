package nlp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bdobrica/Rinko/internal/rinko/resolver"
)

// IntentSpec describes one intent for the system prompt and for /help.
type IntentSpec struct {
	Intent Intent
	// Example is a typical user phrasing.
	Example string
	// Guidance tells the model when to pick this intent. Empty for intents
	// whose name is self-explanatory.
	Guidance string
}

// Catalogue is the ordered list of intents the model may return.
type Catalogue []IntentSpec

// DefaultCatalogue returns every supported intent.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		{IntentRedownloadTV, "redownload the block season 3 episode 12", "The user wants an episode deleted and fetched again."},
		{IntentTidyTV, "tidy up destination x season 1", "Delete a watched season's files and stop monitoring it."},
		{IntentListFullyWatchedTV, "which seasons have we finished?", ""},
		{IntentAddMedia, "add severance", "Add a show or movie when the user did not say which."},
		{IntentAddTV, "add the show severance", ""},
		{IntentAddMovie, "add the creator movie", ""},
		{IntentDownloadMovieSeries, "download all the john wick movies", "The user wants every movie of a collection or franchise."},
		{IntentNASEmptyRecycleBin, "free up disk space", "Free up disk space, empty the NAS recycle bin, or reclaim storage in general (not a specific show)."},
		{IntentNASCheckFreeSpace, "how much disk space is left?", "Questions about storage capacity or how full the NAS is."},
		{IntentQBUnregistered, "delete unregistered torrents", "Clean up qBittorrent torrents the tracker no longer knows."},
		{IntentQBUnregisteredTV, "delete unregistered tv torrents", ""},
		{IntentQBUnregisteredMovies, "clean up unregistered movies", ""},
		{IntentShowLargestTV, "show me the 10 largest shows", "Set entities.limit when a count is given."},
		{IntentShowLargestMovies, "biggest movies", ""},
		{IntentShowTopRatedTV, "best rated shows", ""},
		{IntentShowTopRatedMovies, "top rated movies", ""},
		{IntentOptimizeMovies, "optimize the largest movies", "Reduce quality or size of movies. Set entities.profile when a target quality is named."},
		{IntentOptimizeTV, "optimize my tv shows", "Reduce quality or size of TV shows."},
		{IntentHaveMedia, "do we have luther season 3?", `Is a title already in the library. Set entities.type to "tv" or "movie" when specified, otherwise "auto".`},
		{IntentListTVProfiles, "list sonarr profiles", ""},
		{IntentListMovieProfiles, "list radarr profiles", ""},
		{IntentHelp, "what can you do?", ""},
	}
}

// Has reports whether intent is in the catalogue.
func (c Catalogue) Has(intent Intent) bool {
	for _, s := range c {
		if s.Intent == intent {
			return true
		}
	}
	return false
}

// String formats the catalogue for embedding in the system prompt.
func (c Catalogue) String() string {
	var sb strings.Builder
	for _, s := range c {
		fmt.Fprintf(&sb, "- %q (e.g. %q)", s.Intent, s.Example)
		if s.Guidance != "" {
			sb.WriteString(": ")
			sb.WriteString(s.Guidance)
		}
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "- %q: anything else.\n", IntentUnknown)
	return sb.String()
}

// HelpText renders the catalogue as a short user-facing list.
func (c Catalogue) HelpText() string {
	var sb strings.Builder
	sb.WriteString("Here's what I can do. Just ask in plain language:\n")
	for _, s := range c {
		if s.Intent == IntentHelp {
			continue
		}
		fmt.Fprintf(&sb, "• %s\n", s.Example)
	}
	sb.WriteString("\nCommands: /help /status /cache /config /cancel /version /ping")
	return sb.String()
}

const systemPromptTemplate = `You are the intent classifier for a home media assistant.

Analyze the user's message and output ONLY a JSON object:

{
  "intent": string,
  "entities": {
    "title": string,
    "seasonNumber": number,
    "episodeNumber": number,
    "type": "tv" | "movie" | "auto",
    "limit": number,
    "profile": string
  },
  "reference": string
}

No explanations. No additional text.

INTENTS:
%s
ENTITY RULES:
- title: the explicit show or movie title if given, otherwise "".
- seasonNumber / episodeNumber: the number if explicitly stated, otherwise 0.
- type: "tv" if the user says TV, series or show; "movie" if they say movie or film; otherwise "auto".
- limit: a requested list size, otherwise 0.
- profile: a named quality profile or resolution, otherwise "".

REFERENCE:
- The raw phrase the user used to refer to the content, even when it is vague
  ("latest housewives", "the one from last night").
- When a clear explicit title exists, reference equals that title.
- Never leave reference empty.
`

// BuildSystemPrompt renders the classifier system prompt for catalogue.
func BuildSystemPrompt(catalogue Catalogue) string {
	return fmt.Sprintf(systemPromptTemplate, catalogue.String())
}

const episodeResolvePrompt = `You are resolving an ambiguous reference to a TV episode the user wants to redownload.

The user wrote:
%q

Here is a list of TV episodes they are currently watching:
%s

Pick EXACTLY ONE of the listed episodes, the one the user most likely meant.
If none match, reply with {"best": "none"}.

Output ONLY valid JSON in this shape:
{"best": {"title": "...", "season": X, "episode": Y}}
or:
{"best": "none"}
`

const seasonResolvePrompt = `You are resolving an ambiguous reference to a TV season the user wants to tidy up (delete files and unmonitor).

The user wrote:
%q

Here is a list of recently finished seasons:
%s

Pick EXACTLY ONE of the listed seasons, the one the user most likely meant.
If none match, reply with {"best": "none"}.

Output ONLY valid JSON in this shape:
{"best": {"title": "...", "season": X}}
or:
{"best": "none"}
`

// BuildResolvePrompt renders the disambiguation prompt. Pools whose
// candidates carry no episode numbers are treated as season pools.
func BuildResolvePrompt(reference string, pool []resolver.Candidate) string {
	tmpl := seasonResolvePrompt
	for _, c := range pool {
		if c.Episode != 0 {
			tmpl = episodeResolvePrompt
			break
		}
	}
	lines := make([]string, 0, len(pool))
	for _, c := range pool {
		b, _ := json.Marshal(c)
		lines = append(lines, string(b))
	}
	return fmt.Sprintf(tmpl, reference, strings.Join(lines, "\n"))
}
