package catalog

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// ruleFile is the on-disk layout of a rule source file.
type ruleFile struct {
	Version string           `json:"version" yaml:"version"`
	Rules   []RuleDefinition `json:"rules" yaml:"rules"`
}

// Default builds the catalog from the built-in breast-cancer abstraction
// guideline set.
func Default() (*Catalog, error) {
	defs, err := ParseDefinitions(defaultRules, "yaml")
	if err != nil {
		return nil, eris.Wrap(err, "catalog: parse default rules")
	}
	return New(defs)
}

// DefaultDefinitions returns the raw built-in rule definitions.
func DefaultDefinitions() ([]RuleDefinition, error) {
	return ParseDefinitions(defaultRules, "yaml")
}

// LoadFile reads rule definitions from a YAML or JSON file and builds a
// validated catalog.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: read %s", path)
	}

	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}

	defs, err := ParseDefinitions(data, format)
	if err != nil {
		return nil, eris.Wrapf(err, "catalog: parse %s", path)
	}

	c, err := New(defs)
	if err != nil {
		return nil, err
	}

	zap.L().Info("catalog: loaded rules from file",
		zap.String("path", path),
		zap.Int("definitions", len(defs)),
		zap.Int("bound_rules", c.Len()),
	)
	return c, nil
}

// ParseDefinitions decodes a rule file in the given format ("yaml" or "json").
func ParseDefinitions(data []byte, format string) ([]RuleDefinition, error) {
	var rf ruleFile
	switch format {
	case "json":
		if err := json.Unmarshal(data, &rf); err != nil {
			return nil, eris.Wrap(err, "catalog: unmarshal json")
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &rf); err != nil {
			return nil, eris.Wrap(err, "catalog: unmarshal yaml")
		}
	default:
		return nil, eris.Errorf("catalog: unsupported format %q", format)
	}
	if len(rf.Rules) == 0 {
		return nil, eris.New("catalog: no rules defined")
	}
	return rf.Rules, nil
}
