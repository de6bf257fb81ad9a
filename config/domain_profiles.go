package config

import (
	_ "embed"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed domain_profiles.yaml
var defaultDomainProfiles []byte

// DomainProfile is a named static configuration of search domain filters.
// Include and Exclude are passed to the search provider; Prefer only reorders
// results so preferred domains come first.
type DomainProfile struct {
	Include []string
	Exclude []string
	Prefer  []string
}

// domainList flattens nested YAML sequences so profiles can compose lists
// through anchors.
type domainList []string

func (d *domainList) UnmarshalYAML(node *yaml.Node) error {
	var out []string
	var walk func(n *yaml.Node) error
	walk = func(n *yaml.Node) error {
		switch n.Kind {
		case yaml.SequenceNode:
			for _, c := range n.Content {
				if err := walk(c); err != nil {
					return err
				}
			}
		case yaml.AliasNode:
			return walk(n.Alias)
		case yaml.ScalarNode:
			out = append(out, n.Value)
		default:
			return fmt.Errorf("line %d: unexpected domain entry", n.Line)
		}
		return nil
	}
	if err := walk(node); err != nil {
		return err
	}
	*d = out
	return nil
}

type domainProfileFile struct {
	Profiles map[string]struct {
		Include domainList `yaml:"include_domains"`
		Exclude domainList `yaml:"exclude_domains"`
		Prefer  domainList `yaml:"prefer_domains"`
	} `yaml:"profiles"`
}

// LoadDomainProfiles parses profile definitions from path, or the embedded
// defaults when path is empty.
func LoadDomainProfiles(path string) (map[string]DomainProfile, error) {
	data := defaultDomainProfiles
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read domain profiles: %w", err)
		}
		data = b
	}
	return ParseDomainProfiles(data)
}

// ParseDomainProfiles decodes and normalizes a profile document.
func ParseDomainProfiles(data []byte) (map[string]DomainProfile, error) {
	var file domainProfileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse domain profiles: %w", err)
	}
	out := make(map[string]DomainProfile, len(file.Profiles))
	for name, raw := range file.Profiles {
		p := DomainProfile{Include: raw.Include, Exclude: raw.Exclude, Prefer: raw.Prefer}.Normalize()
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		out[strings.ToLower(strings.TrimSpace(name))] = p
	}
	return out, nil
}

// Normalize cleans entries and removes duplicates while keeping order.
func (p DomainProfile) Normalize() DomainProfile {
	return DomainProfile{
		Include: dedupeDomains(p.Include),
		Exclude: dedupeDomains(p.Exclude),
		Prefer:  dedupeDomains(p.Prefer),
	}
}

// Validate ensures a host is not both included and excluded.
func (p DomainProfile) Validate() error {
	norm := p.Normalize()
	include := make(map[string]struct{}, len(norm.Include))
	for _, host := range norm.Include {
		include[host] = struct{}{}
	}
	for _, host := range norm.Exclude {
		if _, ok := include[host]; ok {
			return fmt.Errorf("domain conflict: host %q present in both include and exclude lists", host)
		}
	}
	return nil
}

// ProfileNames returns the sorted profile names.
func ProfileNames(profiles map[string]DomainProfile) []string {
	names := make([]string, 0, len(profiles))
	for name := range profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func dedupeDomains(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, raw := range values {
		host := normalizeHost(raw)
		if host == "" {
			continue
		}
		if _, ok := seen[host]; ok {
			continue
		}
		seen[host] = struct{}{}
		out = append(out, host)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func normalizeHost(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return ""
	}
	if strings.HasPrefix(value, "http://") || strings.HasPrefix(value, "https://") {
		if u, err := url.Parse(value); err == nil && u.Host != "" {
			return strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		}
	}
	value = strings.TrimPrefix(value, "www.")
	return value
}
