package workflow

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Rinko/internal/rinko/arr"
	"github.com/bdobrica/Rinko/internal/rinko/chat"
	"github.com/bdobrica/Rinko/internal/rinko/nlp"
)

func (e *Engine) listProfiles(ctx context.Context, r *request) error {
	service := "Radarr"
	var list func(context.Context) ([]arr.QualityProfile, error)
	var svc interface{ Configured() bool }
	if r.intent == nlp.IntentListTVProfiles {
		service = "Sonarr"
		if e.deps.Sonarr != nil {
			list, svc = e.deps.Sonarr.QualityProfiles, e.deps.Sonarr
		}
	} else if e.deps.Radarr != nil {
		list, svc = e.deps.Radarr.QualityProfiles, e.deps.Radarr
	}
	if !e.requireService(ctx, r.conv, service, svc) {
		return nil
	}

	profiles, err := list(ctx)
	if err != nil {
		return fail(fmt.Sprintf("Couldn't list %s profiles right now.", service), err)
	}
	if len(profiles) == 0 {
		e.say(ctx, r.conv, fmt.Sprintf("No %s quality profiles were found.", service))
		return nil
	}
	lines := []string{fmt.Sprintf("📋 *%s quality profiles*", service)}
	for _, p := range profiles {
		lines = append(lines, fmt.Sprintf("• %s (id %d)", p.DisplayName(), p.ID))
	}
	e.send(ctx, r.conv, chat.Markdown(strings.Join(lines, "\n")))
	return nil
}
