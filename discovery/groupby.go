package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/testadapt/testadapt/framework"
	"github.com/testadapt/testadapt/types"
)

// Resolver expands template variables inside grouping rule labels. The
// engine treats it as an opaque collaborator so hosts can plug in their own
// interpolation syntax.
type Resolver interface {
	Resolve(template string, vars map[string]string) (string, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(template string, vars map[string]string) (string, error)

func (f ResolverFunc) Resolve(template string, vars map[string]string) (string, error) {
	return f(template, vars)
}

// DefaultResolver expands ${var} and $var references from the variable map.
// Unknown variables expand to the empty string.
func DefaultResolver() Resolver {
	return ResolverFunc(func(template string, vars map[string]string) (string, error) {
		return os.Expand(template, func(key string) string {
			return vars[key]
		}), nil
	})
}

// grouper computes the destination group for each enumerated case by walking
// the configured rule chain. Rules are compiled once per reload.
type grouper struct {
	cfg      types.RunnableConfig
	rules    []compiledRule
	resolver Resolver
}

type compiledRule struct {
	rule    types.GroupingRule
	pattern *regexp.Regexp
}

func newGrouper(cfg types.RunnableConfig, resolver Resolver) (*grouper, error) {
	g := &grouper{cfg: cfg, resolver: resolver}
	for _, rule := range cfg.GroupBy {
		cr := compiledRule{rule: rule}
		if rule.Kind == types.GroupByRegex {
			pattern, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("compiling grouping pattern %q: %w", rule.Pattern, err)
			}
			cr.pattern = pattern
		}
		g.rules = append(g.rules, cr)
	}
	return g, nil
}

// destination walks the rule chain from the tree root. A rule that cannot
// classify the case falls through to its ungrouped_to group when configured,
// and is skipped entirely otherwise.
func (g *grouper) destination(root *types.Group, info framework.CaseInfo) (*types.Group, error) {
	dest := root
	for _, cr := range g.rules {
		label, tooltip, ok, err := g.evaluate(cr, info)
		if err != nil {
			return nil, err
		}
		if !ok {
			if cr.rule.UngroupedTo != "" {
				dest = dest.GetOrCreateGroup(cr.rule.UngroupedTo, "", "")
			}
			continue
		}
		if label == "" {
			continue
		}
		dest = dest.GetOrCreateGroup(label, "", tooltip)
	}
	return dest, nil
}

func (g *grouper) evaluate(cr compiledRule, info framework.CaseInfo) (label, tooltip string, ok bool, err error) {
	switch cr.rule.Kind {
	case types.GroupByExecutable:
		label, err = g.resolve(cr.rule.Label, "${exe}", map[string]string{
			"exe":  g.cfg.ExeName(),
			"path": g.cfg.Path,
		})
		return label, g.cfg.Path, err == nil && label != "", err

	case types.GroupBySource:
		if info.File == "" {
			return "", "", false, nil
		}
		file := g.cfg.RemapSource(info.File)
		base := filepath.Base(file)
		vars := map[string]string{
			"file": file,
			"dir":  filepath.Dir(file),
			"base": base,
			"stem": strings.TrimSuffix(base, filepath.Ext(base)),
		}
		label, err = g.resolve(cr.rule.Label, "${base}", vars)
		return label, file, err == nil && label != "", err

	case types.GroupByTags:
		if len(info.Tags) == 0 {
			return "", "", false, nil
		}
		tag := info.Tags[0]
		if d := cr.rule.Depth; d > 0 && d <= len(info.Tags) {
			tag = info.Tags[d-1]
		}
		label, err = g.resolve(cr.rule.Label, "${tag}", map[string]string{
			"tag":  tag,
			"tags": strings.Join(info.Tags, ","),
		})
		return label, "", err == nil && label != "", err

	case types.GroupByRegex:
		m := cr.pattern.FindStringSubmatch(info.ID)
		if m == nil {
			return "", "", false, nil
		}
		vars := make(map[string]string, len(m))
		for i, sub := range m {
			vars[strconv.Itoa(i)] = sub
		}
		fallback := "${0}"
		if len(m) > 1 {
			fallback = "${1}"
		}
		label, err = g.resolve(cr.rule.Label, fallback, vars)
		return label, "", err == nil && label != "", err
	}
	return "", "", false, fmt.Errorf("unknown grouping rule kind %q", cr.rule.Kind)
}

func (g *grouper) resolve(template, fallback string, vars map[string]string) (string, error) {
	if template == "" {
		template = fallback
	}
	label, err := g.resolver.Resolve(template, vars)
	if err != nil {
		return "", fmt.Errorf("resolving grouping label %q: %w", template, err)
	}
	return label, nil
}
