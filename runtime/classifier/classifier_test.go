package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"goa.design/ticketflow/runtime/pipeline"
)

type analyzerFunc func(ctx context.Context, text string, routes []pipeline.Route) (string, error)

func (f analyzerFunc) Analyze(ctx context.Context, text string, routes []pipeline.Route) (string, error) {
	return f(ctx, text, routes)
}

func newTestClassifier(t *testing.T, opts ...Option) *Classifier {
	t.Helper()
	c, err := New([]RouteSpec{
		{Route: "db_reasoning", Keywords: []string{"report", "analyze"}},
		{Route: "db_duplicate", Keywords: []string{"duplicate", "merge records"}},
		{Route: "query_termination", Keywords: []string{"kill query", "terminate"}},
	}, opts...)
	require.NoError(t, err)
	return c
}

func TestClassify(t *testing.T) {
	c := newTestClassifier(t)
	ctx := context.Background()
	cases := []struct {
		text string
		want pipeline.Route
	}{
		{"Please ANALYZE last month's sales", "db_reasoning"},
		{"We have a duplicate customer", "db_duplicate"},
		{"can you merge records 4 and 7?", "db_duplicate"},
		{"kill query 1234 it is stuck", "query_termination"},
		{"route to db reasoning please", "db_reasoning"},
		{"db_duplicate", "db_duplicate"},
		{"terminate the duplicate job", "query_termination"},
		{"reporting is broken", pipeline.DefaultRoute},
		{"hello there", pipeline.DefaultRoute},
		{"", pipeline.DefaultRoute},
	}
	for _, tc := range cases {
		t.Run(tc.text, func(t *testing.T) {
			require.Equal(t, tc.want, c.Classify(ctx, tc.text))
		})
	}
}

func TestTieGoesToConfigurationOrder(t *testing.T) {
	c, err := New([]RouteSpec{
		{Route: "first", Keywords: []string{"shared"}},
		{Route: "second", Keywords: []string{"shared"}},
	})
	require.NoError(t, err)
	require.Equal(t, pipeline.Route("first"), c.Detect("a shared word"))
}

func TestNewValidation(t *testing.T) {
	_, err := New([]RouteSpec{{Route: ""}})
	require.Error(t, err)
	_, err = New([]RouteSpec{{Route: "a"}, {Route: "a"}})
	require.Error(t, err)
	_, err = New([]RouteSpec{{Route: pipeline.DefaultRoute}})
	require.Error(t, err)
}

func TestAnalyzer(t *testing.T) {
	ctx := context.Background()
	var gotRoutes []pipeline.Route
	c := newTestClassifier(t, WithAnalyzer(analyzerFunc(func(_ context.Context, _ string, routes []pipeline.Route) (string, error) {
		gotRoutes = routes
		return "Route: query_termination", nil
	})))
	require.Equal(t, pipeline.Route("query_termination"), c.Classify(ctx, "something vague"))
	require.Equal(t, []pipeline.Route{"db_reasoning", "db_duplicate", "query_termination"}, gotRoutes)
}

func TestAnalyzerFallbacks(t *testing.T) {
	ctx := context.Background()

	failing := newTestClassifier(t, WithAnalyzer(analyzerFunc(func(context.Context, string, []pipeline.Route) (string, error) {
		return "", errors.New("provider down")
	})))
	require.Equal(t, pipeline.Route("db_duplicate"), failing.Classify(ctx, "duplicate rows"))

	vague := newTestClassifier(t, WithAnalyzer(analyzerFunc(func(context.Context, string, []pipeline.Route) (string, error) {
		return "no idea", nil
	})))
	require.Equal(t, pipeline.Route("db_reasoning"), vague.Classify(ctx, "analyze this"))
	require.Equal(t, pipeline.DefaultRoute, vague.Classify(ctx, "weather"))
}

func TestClassifyTotalProperty(t *testing.T) {
	c := newTestClassifier(t)
	known := map[pipeline.Route]bool{pipeline.DefaultRoute: true}
	for _, r := range c.Routes() {
		known[r] = true
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("always returns a known route", prop.ForAll(
		func(text string) bool {
			return known[c.Classify(context.Background(), text)]
		},
		gen.AnyString(),
	))

	properties.Property("deterministic", prop.ForAll(
		func(text string) bool {
			return c.Detect(text) == c.Detect(text)
		},
		gen.AlphaString(),
	))

	properties.Property("text without keywords falls back to default", prop.ForAll(
		func(digits string) bool {
			return c.Detect(digits) == pipeline.DefaultRoute
		},
		gen.NumString(),
	))

	properties.Property("keyword after noise is found", prop.ForAll(
		func(digits string) bool {
			return c.Detect(digits+" duplicate") == "db_duplicate"
		},
		gen.NumString(),
	))

	properties.TestingRun(t)
}
