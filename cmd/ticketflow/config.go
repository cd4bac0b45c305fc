package main

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"goa.design/ticketflow/features/anthropic"
	"goa.design/ticketflow/features/pipeline/command"
	"goa.design/ticketflow/runtime/classifier"
	"goa.design/ticketflow/runtime/pipeline"
)

type (
	// routesConfig is the decoded routes file.
	routesConfig struct {
		// Analyzer enables the Claude classification front stage when an
		// Anthropic API key is configured.
		Analyzer bool            `yaml:"analyzer"`
		Default  *pipelineConfig `yaml:"default"`
		Routes   []routeConfig   `yaml:"routes"`
	}

	routeConfig struct {
		Name     string         `yaml:"name"`
		Keywords []string       `yaml:"keywords"`
		Pipeline pipelineConfig `yaml:"pipeline"`
	}

	pipelineConfig struct {
		Kind      string           `yaml:"kind"`
		Command   string           `yaml:"command"`
		Args      []string         `yaml:"args"`
		Dir       string           `yaml:"dir"`
		Env       []string         `yaml:"env"`
		System    string           `yaml:"system"`
		MaxTokens int              `yaml:"max_tokens"`
		Timeout   string           `yaml:"timeout"`
		RateLimit *rateLimitConfig `yaml:"rate_limit"`
	}

	rateLimitConfig struct {
		PerSecond float64 `yaml:"per_second"`
		Burst     int     `yaml:"burst"`
	}

	// pipelineDeps carries the clients pipelines may need.
	pipelineDeps struct {
		messages anthropic.MessagesClient
		model    string
	}
)

const (
	kindDefault   = "default"
	kindCommand   = "command"
	kindAnthropic = "anthropic"
)

var (
	//go:embed routes.schema.json
	routesSchema []byte

	//go:embed routes.yaml
	defaultRoutes []byte
)

// loadRoutes reads the routes file at path, or the built-in routes when path
// is empty.
func loadRoutes(path string) (*routesConfig, error) {
	data := defaultRoutes
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read routes: %w", err)
		}
		data = b
	}
	return parseRoutes(data)
}

// parseRoutes validates data against the routes schema and decodes it.
func parseRoutes(data []byte) (*routesConfig, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse routes: %w", err)
	}
	if err := validateRoutes(raw); err != nil {
		return nil, err
	}
	var cfg routesConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode routes: %w", err)
	}
	return &cfg, nil
}

func validateRoutes(raw any) error {
	// Round trip through JSON so the validator sees JSON value types.
	b, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("routes are not JSON compatible: %w", err)
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return fmt.Errorf("routes are not JSON compatible: %w", err)
	}
	schemaDoc, err := jsonschema.UnmarshalJSON(bytes.NewReader(routesSchema))
	if err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("routes.schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("routes.schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid routes: %w", err)
	}
	return nil
}

// classifierSpecs returns the classifier routes in file order.
func (c *routesConfig) classifierSpecs() []classifier.RouteSpec {
	specs := make([]classifier.RouteSpec, len(c.Routes))
	for i, r := range c.Routes {
		specs[i] = classifier.RouteSpec{Route: pipeline.Route(r.Name), Keywords: r.Keywords}
	}
	return specs
}

// buildRegistry binds every configured route, plus the default route, to its
// pipeline.
func (c *routesConfig) buildRegistry(deps pipelineDeps) (*pipeline.Registry, error) {
	def := pipelineConfig{Kind: kindDefault}
	if c.Default != nil {
		def = *c.Default
	}
	bindings := make([]pipeline.Binding, 0, len(c.Routes)+1)
	p, err := def.build(deps)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", pipeline.DefaultRoute, err)
	}
	bindings = append(bindings, pipeline.Bind(pipeline.DefaultRoute, p))
	for _, r := range c.Routes {
		p, err := r.Pipeline.build(deps)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", r.Name, err)
		}
		bindings = append(bindings, pipeline.Bind(pipeline.Route(r.Name), p))
	}
	return pipeline.NewRegistry(bindings...)
}

func (pc pipelineConfig) build(deps pipelineDeps) (pipeline.Pipeline, error) {
	var p pipeline.Pipeline
	switch pc.Kind {
	case kindDefault, "":
		p = pipeline.Default()
	case kindCommand:
		cp, err := command.New(command.Options{
			Path: pc.Command,
			Args: pc.Args,
			Dir:  pc.Dir,
			Env:  pc.Env,
		})
		if err != nil {
			return nil, err
		}
		p = cp
	case kindAnthropic:
		if deps.messages == nil {
			return nil, errors.New("anthropic pipeline requires ANTHROPIC_API_KEY")
		}
		ap, err := anthropic.NewPipeline(deps.messages, anthropic.Options{
			Model:     deps.model,
			MaxTokens: pc.MaxTokens,
			System:    pc.System,
		})
		if err != nil {
			return nil, err
		}
		p = ap
	default:
		return nil, fmt.Errorf("unknown pipeline kind %q", pc.Kind)
	}
	if pc.RateLimit != nil {
		p = pipeline.WithRateLimit(p, pipeline.NewLimiter(pc.RateLimit.PerSecond, pc.RateLimit.Burst))
	}
	if pc.Timeout != "" {
		d, err := time.ParseDuration(pc.Timeout)
		if err != nil {
			return nil, fmt.Errorf("timeout: %w", err)
		}
		p = pipeline.WithTimeout(p, d)
	}
	return p, nil
}

// analyzer returns the classification front stage, or nil when disabled.
func (c *routesConfig) analyzer(deps pipelineDeps) (classifier.Analyzer, error) {
	if !c.Analyzer || deps.messages == nil {
		return nil, nil
	}
	a, err := anthropic.NewAnalyzer(deps.messages, anthropic.Options{Model: deps.model})
	if err != nil {
		return nil, err
	}
	return a, nil
}
