package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultSurgeryTemplates is used when no template file is configured.
var DefaultSurgeryTemplates = []string{
	"Appendectomy",
	"Cholecystectomy",
	"Total Knee Replacement",
	"Hernia Repair",
}

type templateFile struct {
	Templates []string `yaml:"templates"`
}

// LoadSurgeryTemplates reads a YAML document of the form
//
//	templates:
//	  - Appendectomy
//	  - Hernia Repair
//
// An empty path yields the defaults. Names are trimmed and de-duplicated.
func LoadSurgeryTemplates(path string) ([]string, error) {
	if path == "" {
		return append([]string(nil), DefaultSurgeryTemplates...), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read surgery templates: %w", err)
	}
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse surgery templates: %w", err)
	}

	seen := make(map[string]bool, len(f.Templates))
	out := make([]string, 0, len(f.Templates))
	for _, name := range f.Templates {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	if len(out) == 0 {
		return nil, errors.New("surgery templates file lists no templates")
	}
	return out, nil
}
