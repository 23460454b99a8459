package typereg

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"gopkg.in/yaml.v3"
)

// fileSpec is the TOML/YAML layout:
//
//	[types.vision_document]
//	parents = ["research_report", "business_context"]
type fileSpec struct {
	Types map[string]typeSpec `toml:"types" yaml:"types"`
}

type typeSpec struct {
	Parents []string `toml:"parents" yaml:"parents"`
}

// hclSpec is the HCL layout:
//
//	type "vision_document" {
//	  parents = ["research_report", "business_context"]
//	}
type hclSpec struct {
	Types []hclType `hcl:"type,block"`
}

type hclType struct {
	Name    string   `hcl:"name,label"`
	Parents []string `hcl:"parents,optional"`
}

// LoadFile reads type definitions from a .toml, .yaml/.yml or .hcl file and
// merges them into r. Entries in the file override existing ones.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read type registry: %w", err)
	}

	loaded, err := parse(path, data)
	if err != nil {
		return err
	}
	r.Merge(loaded)
	return nil
}

func parse(path string, data []byte) (*Registry, error) {
	entries := map[string][]string{}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		var def fileSpec
		if _, err := toml.Decode(string(data), &def); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for name, t := range def.Types {
			entries[name] = t.Parents
		}
	case ".yaml", ".yml":
		var def fileSpec
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for name, t := range def.Types {
			entries[name] = t.Parents
		}
	case ".hcl":
		var def hclSpec
		if err := hclsimple.Decode(filepath.Base(path), data, nil, &def); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		for _, t := range def.Types {
			if _, dup := entries[t.Name]; dup {
				return nil, fmt.Errorf("%s: type %q defined twice", path, t.Name)
			}
			entries[t.Name] = t.Parents
		}
	default:
		return nil, fmt.Errorf("unsupported type registry format %q (want .toml, .yaml or .hcl)", ext)
	}

	reg := New()
	for name, parents := range entries {
		if err := reg.Register(name, parents...); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return reg, nil
}
