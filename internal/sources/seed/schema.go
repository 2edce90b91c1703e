package seed

import "gopkg.in/yaml.v3"

// Config is the top-level structure of a seed file: a list of groups, each a
// list of single-key maps from service name to its properties.
//
//	- Sensors:
//	    - beat:
//	        type: Heartbeat
//	        active: true
//	        associated: [logger]
//	        options:
//	          interval: 5s
type Config []map[string][]map[string]ServiceProps

// ServiceProps describes one service. Options is decoded once the type is known.
type ServiceProps struct {
	Type       string    `yaml:"type"`
	Active     bool      `yaml:"active,omitempty"`
	Associated []string  `yaml:"associated,omitempty"`
	Options    yaml.Node `yaml:"options,omitempty"`
}
