/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package fetch

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/imdario/mergo"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "2s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing duration %q, %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// OriginPolicy captures the politeness budget for one origin.
type OriginPolicy struct {
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Burst             int      `yaml:"burst"`
	MaxConcurrent     int64    `yaml:"max_concurrent"`
	BaseDelay         Duration `yaml:"base_delay"`
}

// DefaultPolicy is the budget applied when no rule matches.
func DefaultPolicy() OriginPolicy {
	return OriginPolicy{
		RequestsPerSecond: 2.0,
		Burst:             3,
		MaxConcurrent:     2,
		BaseDelay:         Duration(2 * time.Second),
	}
}

// Rule maps hosts to a policy override. Exactly one of Host or Suffix is set:
// Host matches the host verbatim, Suffix matches on dot boundaries so
// "squarespace.com" covers "parish.squarespace.com" but not
// "notsquarespace.com". Zero policy fields inherit the default.
type Rule struct {
	Host   string       `yaml:"host,omitempty"`
	Suffix string       `yaml:"suffix,omitempty"`
	Policy OriginPolicy `yaml:"policy"`
}

func (r Rule) matches(host string) bool {
	if r.Host != "" {
		return strings.EqualFold(r.Host, host)
	}
	if r.Suffix != "" {
		suffix := strings.ToLower(r.Suffix)
		host = strings.ToLower(host)
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	return false
}

// builtinRules throttle hosted platforms that rate limit aggressively.
func builtinRules() []Rule {
	strict := OriginPolicy{
		RequestsPerSecond: 1.0,
		Burst:             1,
		MaxConcurrent:     1,
		BaseDelay:         Duration(3 * time.Second),
	}
	return []Rule{
		{Suffix: "squarespace.com", Policy: strict},
		{Suffix: "wixsite.com", Policy: strict},
		{Suffix: "weebly.com", Policy: strict},
	}
}

// Policies resolves per-origin budgets from an ordered rule table: exact host
// rules first, then suffix rules, then the default. An optional YAML file
// replaces the table and is hot-reloaded on change.
type Policies struct {
	log logr.Logger

	mu         sync.RWMutex
	rules      []Rule
	def        OriginPolicy
	generation uint64
}

func NewPolicies(log logr.Logger) *Policies {
	return &Policies{
		log:   log,
		rules: builtinRules(),
		def:   DefaultPolicy(),
	}
}

// For returns the effective policy of a host. Exact rules win over suffix
// rules; among suffix rules the first match in table order wins.
func (p *Policies) For(host string) OriginPolicy {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, r := range p.rules {
		if r.Host != "" && r.matches(host) {
			return p.merged(r.Policy)
		}
	}
	for _, r := range p.rules {
		if r.Suffix != "" && r.matches(host) {
			return p.merged(r.Policy)
		}
	}
	return p.def
}

func (p *Policies) merged(override OriginPolicy) OriginPolicy {
	out := p.def
	if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
		return p.def
	}
	return out
}

// Generation increments on every successful reload so limiter slots built
// against a stale table can rebuild themselves.
func (p *Policies) Generation() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.generation
}

type policyFile struct {
	Default *OriginPolicy `yaml:"default"`
	Rules   []Rule        `yaml:"rules"`
}

// Load replaces the table from a YAML file. The previous table stays in place
// on any error.
func (p *Policies) Load(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading origin policy file, %w", err)
	}
	var f policyFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return fmt.Errorf("parsing origin policy file, %w", err)
	}
	def := DefaultPolicy()
	if f.Default != nil {
		if err := mergo.Merge(&def, *f.Default, mergo.WithOverride); err != nil {
			return fmt.Errorf("merging default policy, %w", err)
		}
	}
	p.mu.Lock()
	p.def = def
	p.rules = append(f.Rules, builtinRules()...)
	p.generation++
	p.mu.Unlock()
	p.log.Info("loaded origin policies", "path", path, "rules", len(f.Rules))
	return nil
}

// Watch reloads the file whenever it changes, until ctx is done.
func (p *Policies) Watch(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating policy watcher, %w", err)
	}
	if err := watcher.Add(path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watching origin policy file, %w", err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := p.Load(path); err != nil {
					p.log.Error(err, "reloading origin policies")
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				p.log.Error(err, "origin policy watcher")
			}
		}
	}()
	return nil
}
