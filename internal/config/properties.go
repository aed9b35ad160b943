// Package config loads the hierarchical property sources that drive feature
// selection. Layers are applied in order (system, project, user) and later
// layers override earlier ones key by key.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/turtacn/telemos/pkg/errors"
)

// Properties is a flat view of dotted keys over all loaded layers.
type Properties struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewProperties returns an empty property set.
func NewProperties() *Properties {
	return &Properties{values: make(map[string]any)}
}

// LoadLayers reads each YAML file in order. Missing files are skipped so a
// deployment can omit the project or user layer.
func LoadLayers(files ...string) (*Properties, error) {
	p := NewProperties()
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.New(errors.ErrCodeConfigInvalid, "LoadLayers", "read "+f, err)
		}
		if err := p.Merge(data); err != nil {
			return nil, errors.New(errors.ErrCodeConfigInvalid, "LoadLayers", "parse "+f, err)
		}
	}
	return p, nil
}

// Merge overlays one YAML document onto the set.
func (p *Properties) Merge(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	flatten("", doc, p.values)
	return nil
}

func flatten(prefix string, in map[string]any, out map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			flatten(key, nested, out)
			continue
		}
		out[key] = v
	}
}

// Set overrides a single key in memory.
func (p *Properties) Set(key string, value any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = value
}

// Has reports whether key was defined by any layer.
func (p *Properties) Has(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.values[key]
	return ok
}

// Keys returns all defined keys, sorted.
func (p *Properties) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (p *Properties) raw(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

// GetString returns the value for key rendered as a string.
func (p *Properties) GetString(key, def string) string {
	v, ok := p.raw(key)
	if !ok || v == nil {
		return def
	}
	return fmt.Sprint(v)
}

// GetBool returns key as a boolean. Unparseable values fall back to def.
func (p *Properties) GetBool(key string, def bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// GetInt returns key as an int.
func (p *Properties) GetInt(key string, def int) int {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// GetDuration accepts either a Go duration string or a bare integer
// number of milliseconds.
func (p *Properties) GetDuration(key string, def time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	switch d := v.(type) {
	case int:
		return time.Duration(d) * time.Millisecond
	case int64:
		return time.Duration(d) * time.Millisecond
	case string:
		if parsed, err := time.ParseDuration(d); err == nil {
			return parsed
		}
		if ms, err := strconv.Atoi(strings.TrimSpace(d)); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return def
}

// GetList returns key as a list. A YAML sequence or a comma separated
// string are both accepted; blank entries are dropped.
func (p *Properties) GetList(key string) []string {
	v, ok := p.raw(key)
	if !ok || v == nil {
		return nil
	}
	var items []string
	switch l := v.(type) {
	case []any:
		for _, item := range l {
			items = append(items, fmt.Sprint(item))
		}
	case string:
		items = strings.Split(l, ",")
	default:
		items = []string{fmt.Sprint(l)}
	}
	out := items[:0]
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Personal.AI order the ending
