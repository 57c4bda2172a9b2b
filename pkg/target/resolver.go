// Copyright 2026 AgentV Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package target maps target names to configured provider instances,
// carrying the effective per-target concurrency, batching and judge
// overrides into the dispatcher.
package target

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/agentv-ai/agentv/pkg/eval"
	"github.com/agentv-ai/agentv/pkg/provider"
	"gopkg.in/yaml.v3"
)

// Provider kinds that drive an interactive agent CLI. They accept a
// workspace template or a fixed cwd, never both.
var agentCLIKinds = map[string]bool{
	"cli":             true,
	"claude-code":     true,
	"codex":           true,
	"copilot-cli":     true,
	"pi-coding-agent": true,
}

// Provider kinds that need a focused editor window; the dispatcher coerces
// their worker count to 1.
var focusedWindowKinds = map[string]bool{
	"vscode":          true,
	"vscode-insiders": true,
}

// BatchingConfig opts a target into provider-side batching.
type BatchingConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Size    int  `yaml:"size,omitempty" json:"size,omitempty"`
}

// Definition is one entry of a targets file.
type Definition struct {
	Kind              string            `yaml:"kind" json:"kind"`
	Workers           int               `yaml:"workers,omitempty" json:"workers,omitempty"`
	Batching          *BatchingConfig   `yaml:"provider_batching,omitempty" json:"provider_batching,omitempty"`
	JudgeTarget       string            `yaml:"judge_target,omitempty" json:"judge_target,omitempty"`
	WorkspaceTemplate string            `yaml:"workspace_template,omitempty" json:"workspace_template,omitempty"`
	Cwd               string            `yaml:"cwd,omitempty" json:"cwd,omitempty"`
	Config            map[string]string `yaml:"config,omitempty" json:"config,omitempty"`
}

// Resolved is a target name bound to its provider instance and effective
// scheduling parameters.
type Resolved struct {
	Name              string
	Kind              string
	Workers           int
	Batching          *BatchingConfig
	JudgeTarget       string
	WorkspaceTemplate string
	Cwd               string
	Provider          provider.Provider
}

// SingleWorker reports whether the target must run with one worker
// regardless of configuration.
func (r *Resolved) SingleWorker() bool {
	return focusedWindowKinds[r.Kind]
}

// EffectiveWorkers returns the worker count the dispatcher should use.
func (r *Resolved) EffectiveWorkers() int {
	if r.SingleWorker() {
		return 1
	}
	if r.Workers > 0 {
		return r.Workers
	}
	return 1
}

// Resolver maps target names to provider instances. Safe for concurrent use.
type Resolver struct {
	mu    sync.Mutex
	defs  map[string]Definition
	cache map[string]*Resolved
}

var envRefPattern = regexp.MustCompile(`\$\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// interpolateEnv replaces ${{ VAR }} references against the supplied env
// map. Any unresolved reference is an error; there are no silent defaults.
func interpolateEnv(content string, env map[string]string) (string, error) {
	var unresolved []string
	out := envRefPattern.ReplaceAllStringFunc(content, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		if v, ok := env[name]; ok {
			return v
		}
		unresolved = append(unresolved, name)
		return ref
	})
	if len(unresolved) > 0 {
		return "", fmt.Errorf("unresolved environment reference(s): %s", strings.Join(unresolved, ", "))
	}
	return out, nil
}

// OSEnv returns the process environment as a map, the usual env source for
// LoadResolver.
func OSEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if i := strings.IndexByte(kv, '='); i > 0 {
			env[kv[:i]] = kv[i+1:]
		}
	}
	return env
}

// LoadResolver reads a targets YAML file, interpolates ${{ VAR }} references
// against env, validates the document, and returns a resolver.
func LoadResolver(path string, env map[string]string) (*Resolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read targets file %s: %w", path, err)
	}

	content, err := interpolateEnv(string(data), env)
	if err != nil {
		return nil, fmt.Errorf("targets file %s: %w", path, err)
	}

	var doc struct {
		Targets map[string]Definition `yaml:"targets"`
	}
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return nil, fmt.Errorf("failed to parse targets file %s: %w", path, err)
	}
	if len(doc.Targets) == 0 {
		return nil, fmt.Errorf("targets file %s defines no targets", path)
	}

	if err := validateTargetsDoc([]byte(content)); err != nil {
		return nil, fmt.Errorf("invalid targets file %s: %w", path, err)
	}

	return NewResolver(doc.Targets)
}

// NewResolver builds a resolver from already-parsed definitions.
func NewResolver(defs map[string]Definition) (*Resolver, error) {
	for name, def := range defs {
		if err := validateDefinition(name, def); err != nil {
			return nil, err
		}
	}
	return &Resolver{
		defs:  defs,
		cache: make(map[string]*Resolved),
	}, nil
}

func validateDefinition(name string, def Definition) error {
	if def.Kind == "" {
		return fmt.Errorf("target %s: kind is required", name)
	}
	if agentCLIKinds[def.Kind] && def.WorkspaceTemplate != "" && def.Cwd != "" {
		return fmt.Errorf("target %s: workspace_template and cwd are mutually exclusive", name)
	}
	if def.Workers < 0 {
		return fmt.Errorf("target %s: workers must be non-negative", name)
	}
	if def.Batching != nil && def.Batching.Enabled && def.Batching.Size <= 0 {
		return fmt.Errorf("target %s: provider_batching.size must be positive", name)
	}
	return nil
}

// Names returns the known target names.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	return names
}

// Resolve binds a target name to its provider instance. Instances are
// constructed once and cached.
func (r *Resolver) Resolve(name string) (*Resolved, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if resolved, ok := r.cache[name]; ok {
		return resolved, nil
	}

	def, ok := r.defs[name]
	if !ok {
		return nil, fmt.Errorf("unknown target %q", name)
	}

	p, err := buildProvider(name, def)
	if err != nil {
		return nil, err
	}

	resolved := &Resolved{
		Name:              name,
		Kind:              def.Kind,
		Workers:           def.Workers,
		Batching:          def.Batching,
		JudgeTarget:       def.JudgeTarget,
		WorkspaceTemplate: def.WorkspaceTemplate,
		Cwd:               def.Cwd,
		Provider:          p,
	}
	r.cache[name] = resolved
	return resolved, nil
}

// ResolveJudge resolves the judge provider for a target: its judge_target
// when set, otherwise the target's own provider.
func (r *Resolver) ResolveJudge(name string) (provider.Provider, error) {
	resolved, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	if resolved.JudgeTarget == "" {
		return resolved.Provider, nil
	}
	judge, err := r.Resolve(resolved.JudgeTarget)
	if err != nil {
		return nil, fmt.Errorf("judge target for %s: %w", name, err)
	}
	return judge.Provider, nil
}

func buildProvider(name string, def Definition) (provider.Provider, error) {
	switch def.Kind {
	case "static":
		traceFile := def.Config["trace_file"]
		if traceFile == "" {
			return provider.NewStaticProvider(nil), nil
		}
		p, err := provider.LoadStaticProvider(traceFile)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", name, err)
		}
		return p, nil

	case "anthropic":
		timeout := time.Duration(0)
		if t := def.Config["timeout"]; t != "" {
			d, err := time.ParseDuration(t)
			if err != nil {
				return nil, fmt.Errorf("target %s: invalid timeout %q: %w", name, t, err)
			}
			timeout = d
		}
		return provider.NewAnthropicClient(provider.AnthropicConfig{
			APIKey:   def.Config["api_key"],
			Model:    def.Config["model"],
			Endpoint: def.Config["endpoint"],
			Timeout:  timeout,
		}), nil

	case "azure":
		// Azure deployments reuse the anthropic-shaped messages contract in
		// compatibility mode; only the version string needs normalizing.
		return provider.NewAnthropicClient(provider.AnthropicConfig{
			APIKey:     def.Config["api_key"],
			Model:      def.Config["deployment"],
			Endpoint:   def.Config["endpoint"],
			APIVersion: NormalizeAzureVersion(def.Config["api_version"]),
		}), nil

	default:
		return nil, fmt.Errorf("target %s: unsupported provider kind %q", name, def.Kind)
	}
}

// NormalizeAzureVersion strips a leading "api-version=" from Azure version
// strings.
func NormalizeAzureVersion(version string) string {
	return strings.TrimPrefix(version, "api-version=")
}

// InjectedCase applies the target's workspace template to a case that does
// not declare its own workspace.
func (r *Resolved) InjectedCase(c *eval.EvalCase) *eval.EvalCase {
	if c.Workspace != nil || r.WorkspaceTemplate == "" {
		return c
	}
	clone := *c
	clone.Workspace = &eval.WorkspaceConfig{Template: r.WorkspaceTemplate}
	return &clone
}
