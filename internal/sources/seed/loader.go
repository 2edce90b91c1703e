package seed

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var templateVariable = regexp.MustCompile(`\{\{(SWITCHBOARD_VAR_[A-Za-z0-9_]+)\}\}`)

// Loader reads a seed YAML file.
type Loader struct {
	filePath string
	getenv   func(string) string
}

// NewLoader creates a new seed loader
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
		getenv:   os.Getenv,
	}
}

// Load reads and parses the seed file.
func (l *Loader) Load() (Config, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return l.parse(data)
}

func (l *Loader) parse(data []byte) (Config, error) {
	data = expandTemplateVariables(data, l.getenv)

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse seed yaml: %w", err)
	}
	return config, nil
}

// expandTemplateVariables replaces {{SWITCHBOARD_VAR_X}} with the value of the
// environment variable of that name, so secrets stay out of the file. Unset
// variables expand to "".
func expandTemplateVariables(data []byte, getenv func(string) string) []byte {
	return templateVariable.ReplaceAllFunc(data, func(m []byte) []byte {
		name := templateVariable.FindSubmatch(m)[1]
		return []byte(getenv(string(name)))
	})
}
