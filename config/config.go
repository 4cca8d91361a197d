// Package config loads fetch policies for a query client from YAML or JSON.
//
//	defaults:
//	  stale_after: 60s
//	  retry_limit: 3
//	  base_delay: 1s
//	  max_delay: 30s
//	keys:
//	  users:
//	    stale_after: 5m
//
// Fields missing from a key section inherit the defaults section, which in
// turn inherits DefaultPolicy. A negative stale_after disables age-based
// staleness. Key names must not contain the "." delimiter.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/IvanBrykalov/querycache/backoff/exponential"
	"github.com/IvanBrykalov/querycache/query"
)

// Format is a supported configuration encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
)

var (
	ErrEmptyPath         = errors.New("config: empty path")
	ErrUnsupportedFormat = errors.New("config: unsupported format")
	ErrLoadFailed        = errors.New("config: failed to load")
	ErrParseFailed       = errors.New("config: failed to parse")
	ErrInvalid           = errors.New("config: invalid policy")
)

// Policy is the on-disk form of a query.Config.
type Policy struct {
	StaleAfter time.Duration `koanf:"stale_after"`
	RetryLimit int           `koanf:"retry_limit"`
	BaseDelay  time.Duration `koanf:"base_delay"`
	MaxDelay   time.Duration `koanf:"max_delay"`
}

// DefaultPolicy mirrors query.DefaultConfig.
func DefaultPolicy() Policy {
	return Policy{
		StaleAfter: query.DefaultStaleAfter,
		RetryLimit: query.DefaultRetryLimit,
		BaseDelay:  exponential.DefaultBase,
		MaxDelay:   exponential.DefaultMax,
	}
}

// Config converts p to a query.Config with exponential backoff.
func (p Policy) Config() query.Config {
	stale := p.StaleAfter
	if stale < 0 {
		stale = query.Never
	}
	return query.Config{
		StaleAfter: stale,
		RetryLimit: p.RetryLimit,
		Backoff:    exponential.New(p.BaseDelay, p.MaxDelay),
	}
}

func (p Policy) validate() error {
	switch {
	case p.RetryLimit < 0:
		return fmt.Errorf("%w: retry_limit %d is negative", ErrInvalid, p.RetryLimit)
	case p.BaseDelay < 0:
		return fmt.Errorf("%w: base_delay %s is negative", ErrInvalid, p.BaseDelay)
	case p.MaxDelay < p.BaseDelay:
		return fmt.Errorf("%w: max_delay %s is below base_delay %s", ErrInvalid, p.MaxDelay, p.BaseDelay)
	}
	return nil
}

// File is a parsed configuration. It is immutable and safe for concurrent use.
type File struct {
	defaults Policy
	keys     map[string]Policy
}

// Load reads path, detecting the format from its extension.
func Load(path string) (*File, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}
	format, err := detectFormat(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}
	return Parse(data, format)
}

// Parse decodes data. Empty input yields DefaultPolicy for every key.
func Parse(data []byte, format Format) (*File, error) {
	var parser koanf.Parser
	switch format {
	case FormatYAML:
		parser = yaml.Parser()
	case FormatJSON:
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	k := koanf.New(".")
	if len(data) > 0 {
		if err := k.Load(rawbytes.Provider(data), parser); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrParseFailed, err)
		}
	}

	f := &File{defaults: DefaultPolicy(), keys: make(map[string]Policy)}
	if err := unmarshal(k, "defaults", &f.defaults); err != nil {
		return nil, err
	}
	for _, name := range k.MapKeys("keys") {
		// Start from the defaults so only the fields present override them.
		p := f.defaults
		if err := unmarshal(k, "keys."+name, &p); err != nil {
			return nil, fmt.Errorf("key %q: %w", name, err)
		}
		f.keys[name] = p
	}
	return f, nil
}

func unmarshal(k *koanf.Koanf, path string, p *Policy) error {
	if err := k.UnmarshalWithConf(path, p, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrParseFailed, path, err)
	}
	if err := p.validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Defaults returns the policy for keys without their own section.
func (f *File) Defaults() query.Config { return f.defaults.Config() }

// Policy returns the merged policy of a configured key.
func (f *File) Policy(key string) (Policy, bool) {
	p, ok := f.keys[key]
	return p, ok
}

// Keys lists the keys with their own section, sorted.
func (f *File) Keys() []string {
	out := make([]string, 0, len(f.keys))
	for k := range f.keys {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// PerKey adapts f to query.Options.PerKey.
func (f *File) PerKey() func(string) (query.Config, bool) {
	return func(key string) (query.Config, bool) {
		p, ok := f.keys[key]
		if !ok {
			return query.Config{}, false
		}
		return p.Config(), true
	}
}

func detectFormat(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: unknown extension %q", ErrUnsupportedFormat, ext)
	}
}
