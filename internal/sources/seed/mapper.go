package seed

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
)

// Mapper converts a seed Config into service definitions.
type Mapper struct{}

// NewMapper creates a new mapper instance
func NewMapper() *Mapper {
	return &Mapper{}
}

// MapServices returns a definition per valid entry, ordered by position in the
// file. Invalid entries are skipped and reported together in the error, which
// wraps ErrInvalidConfig. A file without any valid entry is an error.
func (m *Mapper) MapServices(config Config) ([]domain.ServiceDefinition, error) {
	var (
		defs []domain.ServiceDefinition
		errs []error
	)

	for _, groupMap := range config {
		for _, servicesList := range groupMap {
			for _, serviceMap := range servicesList {
				for name, props := range serviceMap {
					def, err := mapService(name, props)
					if err != nil {
						errs = append(errs, err)
						continue
					}
					def.Order = len(defs) + 1
					defs = append(defs, def)
				}
			}
		}
	}

	if len(defs) == 0 {
		errs = append(errs, fmt.Errorf("%w: no valid services found in seed file", domain.ErrInvalidConfig))
		return nil, errors.Join(errs...)
	}
	return defs, errors.Join(errs...)
}

func mapService(name string, props ServiceProps) (domain.ServiceDefinition, error) {
	name = strings.TrimSpace(name)
	kind := domain.ServiceType(props.Type)
	opts := domain.NewOptions(kind)
	if opts == nil {
		return domain.ServiceDefinition{}, fmt.Errorf("%w: seed service %q has unknown type %q",
			domain.ErrInvalidConfig, name, props.Type)
	}
	if !props.Options.IsZero() {
		if err := props.Options.Decode(opts); err != nil {
			return domain.ServiceDefinition{}, fmt.Errorf("%w: seed service %q: %v",
				domain.ErrInvalidConfig, name, err)
		}
	}

	def := domain.NewDefinition(name, opts)
	def.IsActive = props.Active
	def.AssociatedServices = props.Associated
	if err := def.Validate(); err != nil {
		return domain.ServiceDefinition{}, err
	}
	return def, nil
}

// LoadFile loads and maps a seed file in one step.
func LoadFile(path string) ([]domain.ServiceDefinition, error) {
	config, err := NewLoader(path).Load()
	if err != nil {
		return nil, err
	}
	return NewMapper().MapServices(config)
}
