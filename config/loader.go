package config

import (
	"fmt"
	"os"
	"strings"

	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"gopkg.in/yaml.v3"
)

// reservedTransformKeys are `transforms` section keys that configure the
// pipeline globally and are never resolved as transform names.
var reservedTransformKeys = map[string]bool{
	"prob":          true,
	"spacing":       true,
	"orientation":   true,
	"mode":          true,
	"min_intensity": true,
	"max_intensity": true,
	"label_map":     true,
}

// Load reads a YAML run configuration, merges `AITEMPLATE__` prefixed
// environment overrides, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), kyaml.Parser()); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	// AITEMPLATE__DATA__DATA_DIR overrides data.data_dir and so on.
	envMap := func(s string) string {
		s = strings.TrimPrefix(s, "AITEMPLATE__")
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}
	if err := k.Load(env.Provider("AITEMPLATE__", ".", envMap), nil); err != nil {
		return nil, fmt.Errorf("read environment overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	entries, err := transformEntries(path)
	if err != nil {
		return nil, err
	}
	cfg.Transforms.Entries = entries

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// transformEntries re-reads the raw YAML to recover the declaration order of
// the `transforms` mapping, which koanf flattens. Order matters: transforms
// in the "other" bucket keep their relative position from the file.
func transformEntries(path string) ([]TransformEntry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return parseTransformEntries(raw)
}

func parseTransformEntries(raw []byte) ([]TransformEntry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: top level must be a mapping", ErrInvalidValue)
	}

	var section *yaml.Node
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == "transforms" {
			section = root.Content[i+1]
			break
		}
	}
	if section == nil {
		return nil, nil
	}
	if section.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: transforms section must be a mapping", ErrInvalidValue)
	}

	var entries []TransformEntry
	for i := 0; i+1 < len(section.Content); i += 2 {
		name := section.Content[i].Value
		if reservedTransformKeys[name] {
			continue
		}
		val := section.Content[i+1]
		args := map[string]any{}
		if val.Tag != "!!null" {
			if err := val.Decode(&args); err != nil {
				return nil, fmt.Errorf("transform %s: arguments must be a mapping: %w", name, err)
			}
		}
		entries = append(entries, TransformEntry{Name: name, Args: args})
	}
	return entries, nil
}

// TransformNames lists the configured transform names in declaration order.
func (c *Config) TransformNames() []string {
	names := make([]string, 0, len(c.Transforms.Entries))
	for _, e := range c.Transforms.Entries {
		names = append(names, e.Name)
	}
	return names
}

// TransformArgs returns a copy of the configured arguments for one transform
// name, or an empty map when the transform has no arguments.
func (c *Config) TransformArgs(name string) map[string]any {
	for _, e := range c.Transforms.Entries {
		if e.Name == name {
			out := make(map[string]any, len(e.Args))
			for k, v := range e.Args {
				out[k] = v
			}
			return out
		}
	}
	return map[string]any{}
}
