package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/patternd/pkg/pattern"
)

const maxCatalogFileSize = 4 << 20

// FileSource reads definitions from a YAML or TOML catalog file.
type FileSource struct {
	Path string
}

func (s FileSource) Name() string { return s.Path }

func (s FileSource) Definitions(context.Context) ([]pattern.Definition, error) {
	return ReadFile(s.Path)
}

// ReadFile parses the catalog at path. The format follows the extension:
// .yaml and .yml are YAML, .toml is TOML.
func ReadFile(path string) ([]pattern.Definition, error) {
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat catalog: %w", err)
	}
	if info.Size() > maxCatalogFileSize {
		return nil, fmt.Errorf("catalog %s too large: %d bytes (max %d)", path, info.Size(), maxCatalogFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	defs, err := Parse(content, parser)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", path, err)
	}
	return defs, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".toml":
		return TOMLParser(), nil
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", filepath.Ext(path))
	}
}

// Parse decodes catalog content with parser.
func Parse(content []byte, parser koanf.Parser) ([]pattern.Definition, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), parser); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	if !k.Exists("patterns") {
		return nil, fmt.Errorf("no patterns list")
	}

	domain := k.String("domain")
	version := k.String("version")

	entries := k.Slices("patterns")
	defs := make([]pattern.Definition, 0, len(entries))
	for i, entry := range entries {
		var def pattern.Definition
		if err := entry.Unmarshal("", &def); err != nil {
			return nil, fmt.Errorf("pattern %d: %w", i, err)
		}
		if def.Domain == "" {
			def.Domain = domain
		}
		if def.Version == "" {
			def.Version = version
		}
		if entry.Exists("active") && !entry.Bool("active") {
			def.Disabled = true
		}
		if def.ID == "" {
			def.ID = pattern.DeriveID(def.Key())
		}
		defs = append(defs, def)
	}
	return defs, nil
}

type tomlParser struct{}

// TOMLParser returns a koanf.Parser backed by BurntSushi/toml.
func TOMLParser() koanf.Parser { return tomlParser{} }

func (tomlParser) Unmarshal(b []byte) (map[string]any, error) {
	var out map[string]any
	if err := toml.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return normalize(out).(map[string]any), nil
}

func (tomlParser) Marshal(m map[string]any) ([]byte, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(m); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}

// normalize turns TOML array tables ([]map[string]any) into the []any
// shape koanf expects for slices of objects.
func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			t[k] = normalize(val)
		}
		return t
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = normalize(m)
		}
		return out
	case []any:
		for i, val := range t {
			t[i] = normalize(val)
		}
		return t
	default:
		return v
	}
}

// WriteTOML encodes defs as a TOML catalog.
func WriteTOML(defs []pattern.Definition) ([]byte, error) {
	var b strings.Builder
	if err := toml.NewEncoder(&b).Encode(struct {
		Patterns []pattern.Definition `toml:"patterns"`
	}{defs}); err != nil {
		return nil, err
	}
	return []byte(b.String()), nil
}
