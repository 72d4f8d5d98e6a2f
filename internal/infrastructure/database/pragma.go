package database

import (
	"fmt"
	"io"
	"regexp"
	"sort"

	"gopkg.in/yaml.v3"
)

// pragma is a single "PRAGMA name=value" setting.
type pragma struct {
	name  string
	value string
}

var (
	pragmaNameRE  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
	pragmaValueRE = regexp.MustCompile(`^[A-Za-z0-9_\-+.']*$`)
)

func (p pragma) validate() error {
	if !pragmaNameRE.MatchString(p.name) {
		return NewValidationError("configure", fmt.Sprintf("invalid pragma name %q", p.name))
	}
	if !pragmaValueRE.MatchString(p.value) {
		return NewValidationError("configure", fmt.Sprintf("invalid value %q for pragma %s", p.value, p.name))
	}
	return nil
}

func (p pragma) statement() string {
	if p.value == "" {
		return "PRAGMA " + p.name
	}
	return "PRAGMA " + p.name + "=" + p.value
}

func sortedPragmas(m map[string]string) []pragma {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]pragma, 0, len(keys))
	for _, k := range keys {
		out = append(out, pragma{name: k, value: m[k]})
	}
	return out
}

// RecommendedPragmas returns the tuning applied by the service on top of
// the baseline: a ~2 MB page cache and in-memory temporary storage.
func RecommendedPragmas() map[string]string {
	return map[string]string{
		"cache_size": "-2000",
		"temp_store": "MEMORY",
	}
}

// LoadPragmas reads a flat YAML mapping of pragma names to values.
//
// Example file:
//
//	cache_size: -8000
//	temp_store: MEMORY
//	mmap_size: 268435456
func LoadPragmas(r io.Reader) (map[string]string, error) {
	var raw map[string]any
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if err == io.EOF {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("parsing pragmas: %w", err)
	}

	out := make(map[string]string, len(raw))
	for k, v := range raw {
		p := pragma{name: k, value: fmt.Sprint(v)}
		if err := p.validate(); err != nil {
			return nil, err
		}
		out[k] = p.value
	}
	return out, nil
}
