package nlp

import (
	"context"
	"strings"
	"time"

	"github.com/bdobrica/Rinko/internal/rinko/resolver"
)

// DurationObserver records how long classification calls take.
type DurationObserver interface {
	ObserveClassify(d time.Duration, err error)
}

// Classifier wraps a Provider and normalises its output:
//  1. intents outside the catalogue become IntentUnknown;
//  2. add_tv / add_movie pin Entities.Type, anything else unknown becomes auto;
//  3. negative numbers are zeroed and titles trimmed;
//  4. an empty reference falls back to the title, then to the raw text.
//
// Classifier implements Provider.
type Classifier struct {
	provider  Provider
	catalogue Catalogue
	observer  DurationObserver
}

// NewClassifier returns a Classifier backed by provider. A nil catalogue
// means DefaultCatalogue.
func NewClassifier(provider Provider, catalogue Catalogue, observer DurationObserver) *Classifier {
	if len(catalogue) == 0 {
		catalogue = DefaultCatalogue()
	}
	return &Classifier{provider: provider, catalogue: catalogue, observer: observer}
}

// Classify calls the provider and normalises the result.
func (c *Classifier) Classify(ctx context.Context, text string) (*Classification, error) {
	start := time.Now()
	resp, err := c.provider.Classify(ctx, text)
	if c.observer != nil {
		c.observer.ObserveClassify(time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	return c.normalise(resp, text), nil
}

// ResolveAmbiguous passes through to the provider.
func (c *Classifier) ResolveAmbiguous(ctx context.Context, reference string, pool []resolver.Candidate) (*resolver.Candidate, error) {
	return c.provider.ResolveAmbiguous(ctx, reference, pool)
}

func (c *Classifier) normalise(resp *Classification, text string) *Classification {
	out := *resp
	out.Intent = Intent(strings.ToLower(strings.TrimSpace(string(out.Intent))))
	if !c.catalogue.Has(out.Intent) {
		out.Intent = IntentUnknown
	}

	e := &out.Entities
	e.Title = strings.TrimSpace(e.Title)
	e.Profile = strings.TrimSpace(e.Profile)
	e.Season = max(e.Season, 0)
	e.Episode = max(e.Episode, 0)
	e.Limit = max(e.Limit, 0)

	switch out.Intent {
	case IntentAddTV:
		e.Type = TypeTV
	case IntentAddMovie:
		e.Type = TypeMovie
	default:
		switch t := strings.ToLower(strings.TrimSpace(e.Type)); t {
		case TypeTV, TypeMovie:
			e.Type = t
		default:
			e.Type = TypeAuto
		}
	}

	out.Reference = strings.TrimSpace(out.Reference)
	if out.Reference == "" {
		out.Reference = e.Title
	}
	if out.Reference == "" {
		out.Reference = strings.TrimSpace(text)
	}
	return &out
}
