package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/ticketflow/runtime/pipeline"
	"goa.design/ticketflow/runtime/session"
)

func TestDefaultRoutes(t *testing.T) {
	cfg, err := loadRoutes("")
	require.NoError(t, err)
	specs := cfg.classifierSpecs()
	require.Len(t, specs, 3)
	require.Equal(t, pipeline.Route("db_reasoning"), specs[0].Route)
	require.Equal(t, pipeline.Route("query_termination"), specs[2].Route)

	reg, err := cfg.buildRegistry(pipelineDeps{})
	require.NoError(t, err)
	require.Equal(t, []pipeline.Route{"db_duplicate", "db_reasoning", "default_handler", "query_termination"}, reg.Routes())
}

func TestLoadRoutesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routes:
  - name: billing
    keywords: [invoice]
    pipeline:
      kind: command
      command: /bin/cat
      timeout: 5s
      rate_limit:
        per_second: 2
        burst: 1
default:
  kind: default
`), 0o600))
	cfg, err := loadRoutes(path)
	require.NoError(t, err)
	require.Len(t, cfg.Routes, 1)
	require.Equal(t, "/bin/cat", cfg.Routes[0].Pipeline.Command)
	require.Equal(t, 2.0, cfg.Routes[0].Pipeline.RateLimit.PerSecond)

	reg, err := cfg.buildRegistry(pipelineDeps{})
	require.NoError(t, err)
	_, err = reg.Resolve("billing")
	require.NoError(t, err)
}

func TestLoadRoutesMissingFile(t *testing.T) {
	_, err := loadRoutes(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read routes")
}

func TestRoutesSchemaRejects(t *testing.T) {
	cases := map[string]string{
		"empty document": ``,
		"unknown kind": `
routes:
  - name: billing
    pipeline: {kind: webhook}`,
		"command without path": `
routes:
  - name: billing
    pipeline: {kind: command}`,
		"unknown field": `
routes:
  - name: billing
    color: blue
    pipeline: {kind: default}`,
		"fallback route name": `
routes:
  - name: default_handler
    pipeline: {kind: default}`,
		"bad timeout": `
routes:
  - name: billing
    pipeline: {kind: default, timeout: soon}`,
		"zero rate": `
routes:
  - name: billing
    pipeline: {kind: default, rate_limit: {per_second: 0}}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseRoutes([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestAnthropicPipelineRequiresKey(t *testing.T) {
	cfg, err := parseRoutes([]byte(`
routes:
  - name: reasoning
    pipeline: {kind: anthropic}`))
	require.NoError(t, err)
	_, err = cfg.buildRegistry(pipelineDeps{})
	require.ErrorContains(t, err, "ANTHROPIC_API_KEY")
}

func TestAnalyzerDisabledWithoutClient(t *testing.T) {
	cfg, err := parseRoutes([]byte(`
analyzer: true
routes:
  - name: billing
    pipeline: {kind: default}`))
	require.NoError(t, err)
	a, err := cfg.analyzer(pipelineDeps{})
	require.NoError(t, err)
	require.Nil(t, a)
}

func TestTimeoutIsApplied(t *testing.T) {
	sh := filepath.Join("/bin", "sh")
	if _, err := os.Stat(sh); err != nil {
		t.Skip("sh not available")
	}
	cfg, err := parseRoutes([]byte(`
routes:
  - name: slow
    pipeline:
      kind: command
      command: /bin/sh
      args: ["-c", "sleep 5"]
      timeout: 50ms`))
	require.NoError(t, err)
	reg, err := cfg.buildRegistry(pipelineDeps{})
	require.NoError(t, err)
	p, err := reg.Resolve("slow")
	require.NoError(t, err)
	_, err = p.Execute(context.Background(), pipeline.TicketContext{SessionID: session.Generate(), Text: "x", Route: "slow"})
	require.ErrorContains(t, err, "timed out")
}
