// Package classifier maps ticket text to a pipeline route.
//
// Detection is deterministic: each route matches its own label and any
// configured keywords as whole words, case-insensitively. The route whose
// match starts earliest in the text wins; ties go to the route configured
// first. Text matching nothing routes to pipeline.DefaultRoute, so
// classification never fails.
//
// An optional Analyzer runs first and rewrites the ticket into analysis text
// (for example an LLM verdict naming a route). Detection then scans the
// analysis. Analyzer errors fall back to scanning the raw ticket.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"goa.design/ticketflow/runtime/pipeline"
	"goa.design/ticketflow/runtime/telemetry"
)

type (
	// RouteSpec declares a route and the keywords that select it.
	RouteSpec struct {
		Route    pipeline.Route
		Keywords []string
	}

	// Analyzer turns ticket text into analysis text scanned for route labels.
	Analyzer interface {
		Analyze(ctx context.Context, text string, routes []pipeline.Route) (string, error)
	}

	// Classifier selects routes for tickets. It is safe for concurrent use.
	Classifier struct {
		routes   []compiled
		analyzer Analyzer
		logger   telemetry.Logger
	}

	// Option configures a Classifier.
	Option func(*Classifier)

	compiled struct {
		route  pipeline.Route
		phrase [][]string
	}
)

// WithAnalyzer installs a front stage run before keyword detection.
func WithAnalyzer(a Analyzer) Option {
	return func(c *Classifier) { c.analyzer = a }
}

// WithLogger sets the logger used to report analyzer failures.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Classifier) {
		if l != nil {
			c.logger = l
		}
	}
}

// New compiles the route specs. Routes must be non-empty and unique.
// pipeline.DefaultRoute may not be listed: it is the fallback.
func New(specs []RouteSpec, opts ...Option) (*Classifier, error) {
	c := &Classifier{logger: telemetry.NewNoopLogger()}
	seen := make(map[pipeline.Route]struct{}, len(specs))
	for _, s := range specs {
		if s.Route == "" {
			return nil, errors.New("route is required")
		}
		if s.Route == pipeline.DefaultRoute {
			return nil, fmt.Errorf("route %q is the fallback and cannot be matched", s.Route)
		}
		if _, dup := seen[s.Route]; dup {
			return nil, fmt.Errorf("route %q declared twice", s.Route)
		}
		seen[s.Route] = struct{}{}

		cr := compiled{route: s.Route}
		for _, kw := range append([]string{string(s.Route)}, s.Keywords...) {
			if words := tokenize(kw); len(words) > 0 {
				cr.phrase = append(cr.phrase, words)
			}
		}
		c.routes = append(c.routes, cr)
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Routes returns the configured routes in order, excluding the fallback.
func (c *Classifier) Routes() []pipeline.Route {
	out := make([]pipeline.Route, len(c.routes))
	for i, r := range c.routes {
		out[i] = r.route
	}
	return out
}

// Classify returns the route for text. It never fails.
func (c *Classifier) Classify(ctx context.Context, text string) pipeline.Route {
	if c.analyzer != nil {
		analysis, err := c.analyzer.Analyze(ctx, text, c.Routes())
		if err == nil {
			if route := c.Detect(analysis); route != pipeline.DefaultRoute {
				return route
			}
		} else {
			c.logger.Warn(ctx, "ticket analysis failed, classifying raw text", "err", err)
		}
	}
	return c.Detect(text)
}

// Detect runs keyword detection on text without the analyzer.
func (c *Classifier) Detect(text string) pipeline.Route {
	words := tokenize(text)
	best, bestPos := pipeline.DefaultRoute, len(words)
	for _, r := range c.routes {
		for _, p := range r.phrase {
			if pos := indexPhrase(words, p); pos >= 0 && pos < bestPos {
				best, bestPos = r.route, pos
			}
		}
	}
	return best
}

// tokenize lowercases s and splits it into words. Underscores and hyphens
// separate words so "db_reasoning" matches "db reasoning".
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func indexPhrase(words, phrase []string) int {
	if len(phrase) == 0 {
		return -1
	}
outer:
	for i := 0; i+len(phrase) <= len(words); i++ {
		for j, w := range phrase {
			if words[i+j] != w {
				continue outer
			}
		}
		return i
	}
	return -1
}
