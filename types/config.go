package types

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Duration wraps time.Duration so YAML configs can use human-readable values
// like "30s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// GroupKind selects one grouping rule in the chain.
type GroupKind string

const (
	GroupByExecutable GroupKind = "executable"
	GroupBySource     GroupKind = "source"
	GroupByTags       GroupKind = "tags"
	GroupByRegex      GroupKind = "regex"
)

// GroupingRule describes one step of the group-destination computation.
// Label is a template resolved through the templating collaborator; the
// variables available depend on the rule kind.
type GroupingRule struct {
	Kind        GroupKind `yaml:"kind"`
	Label       string    `yaml:"label,omitempty"`
	Pattern     string    `yaml:"pattern,omitempty"`
	Depth       int       `yaml:"depth,omitempty"`
	UngroupedTo string    `yaml:"ungrouped_to,omitempty"`
}

// Validate checks rule-kind specific requirements.
func (r GroupingRule) Validate() error {
	switch r.Kind {
	case GroupByExecutable, GroupBySource, GroupByTags:
	case GroupByRegex:
		if r.Pattern == "" {
			return fmt.Errorf("regex grouping rule requires a pattern")
		}
		if _, err := regexp.Compile(r.Pattern); err != nil {
			return fmt.Errorf("invalid grouping pattern %q: %w", r.Pattern, err)
		}
	default:
		return fmt.Errorf("unknown grouping rule kind %q", r.Kind)
	}
	return nil
}

// PathRemapRule rewrites a source-path prefix reported by the framework to
// the local checkout location.
type PathRemapRule struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// AuxTasks names the external tasks run around a whole run and around each
// spawned batch. Non-zero task exits are hard failures.
type AuxTasks struct {
	BeforeRun   []string `yaml:"before_run,omitempty"`
	AfterRun    []string `yaml:"after_run,omitempty"`
	BeforeBatch []string `yaml:"before_batch,omitempty"`
	AfterBatch  []string `yaml:"after_batch,omitempty"`
}

// Seed policies for run ordering.
const (
	SeedPolicyNone   = "none"
	SeedPolicyFixed  = "fixed"
	SeedPolicyRandom = "random"
)

// RunnableConfig is the immutable per-executable configuration. It is
// replaced wholesale on configuration change, never mutated.
type RunnableConfig struct {
	ID        string            `yaml:"id"`
	Path      string            `yaml:"path"`
	WorkDir   string            `yaml:"workdir,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Framework string            `yaml:"framework,omitempty"`
	Parallel  int               `yaml:"parallel,omitempty"`
	Nice      int               `yaml:"nice,omitempty"`

	GroupBy   []GroupingRule  `yaml:"group_by,omitempty"`
	Tasks     AuxTasks        `yaml:"tasks,omitempty"`
	PathRemap []PathRemapRule `yaml:"path_remap,omitempty"`

	SuppressOutput   bool     `yaml:"suppress_output,omitempty"`
	SeedPolicy       string   `yaml:"seed_policy,omitempty"`
	Seed             int64    `yaml:"seed,omitempty"`
	EnumCache        bool     `yaml:"enum_cache,omitempty"`
	IgnoreEnumStderr bool     `yaml:"ignore_enum_stderr,omitempty"`
	RunTimeout       Duration `yaml:"run_timeout,omitempty"`
}

// Validate normalizes defaults and rejects unusable configurations.
func (c *RunnableConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("runnable id is required")
	}
	if c.Path == "" {
		return fmt.Errorf("runnable %q: executable path is required", c.ID)
	}
	if c.Parallel < 1 {
		c.Parallel = 1
	}
	switch c.SeedPolicy {
	case "", SeedPolicyNone:
		c.SeedPolicy = SeedPolicyNone
	case SeedPolicyFixed, SeedPolicyRandom:
	default:
		return fmt.Errorf("runnable %q: unknown seed policy %q", c.ID, c.SeedPolicy)
	}
	for _, rule := range c.GroupBy {
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("runnable %q: %w", c.ID, err)
		}
	}
	return nil
}

// ExeName returns the executable base name, used by grouping templates.
func (c *RunnableConfig) ExeName() string {
	return strings.TrimSuffix(filepath.Base(c.Path), filepath.Ext(c.Path))
}

// RemapSource applies the first matching path remap rule to a reported
// source path. Unmatched paths are returned unchanged.
func (c *RunnableConfig) RemapSource(path string) string {
	for _, rule := range c.PathRemap {
		if strings.HasPrefix(path, rule.From) {
			return rule.To + strings.TrimPrefix(path, rule.From)
		}
	}
	return path
}
