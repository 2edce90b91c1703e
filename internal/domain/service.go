package domain

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"
)

// ServiceType is the kind of a service. It selects the options payload.
type ServiceType string

const (
	TypeTCP          ServiceType = "TCP"
	TypeFTPServer    ServiceType = "FTPServer"
	TypeFTPClient    ServiceType = "FTPClient"
	TypeHTTP         ServiceType = "HTTP"
	TypeMQTT         ServiceType = "MQTT"
	TypeSCP          ServiceType = "SCP"
	TypeHID          ServiceType = "HID"
	TypeHeartbeat    ServiceType = "Heartbeat"
	TypeCSVCreator   ServiceType = "CSVCreator"
	TypeFileObserver ServiceType = "FileObserver"
)

// AllTypes lists every known kind in display order.
var AllTypes = []ServiceType{
	TypeTCP, TypeFTPServer, TypeFTPClient, TypeHTTP, TypeMQTT,
	TypeSCP, TypeHID, TypeHeartbeat, TypeCSVCreator, TypeFileObserver,
}

func (t ServiceType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ServiceDefinition is the persisted description of one service.
type ServiceDefinition struct {
	Name               string
	Type               ServiceType
	IsActive           bool
	Options            Options
	AssociatedServices []string
	Order              int
	Created            time.Time
}

// NewDefinition builds an inactive definition stamped with the creation time.
func NewDefinition(name string, opts Options) ServiceDefinition {
	def := ServiceDefinition{
		Name:    strings.TrimSpace(name),
		Options: opts,
		Created: time.Now().UTC(),
	}
	if opts != nil {
		def.Type = opts.Kind()
	}
	return def
}

// Validate checks the definition can be handed to a runner.
func (d ServiceDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrBlankServiceName)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: service %q has unknown type %q", ErrInvalidConfig, d.Name, d.Type)
	}
	if d.Options == nil {
		return fmt.Errorf("%w: service %q has no %s options", ErrInvalidConfig, d.Name, d.Type)
	}
	if d.Options.Kind() != d.Type {
		return fmt.Errorf("%w: service %q is %s but carries %s options",
			ErrInvalidConfig, d.Name, d.Type, d.Options.Kind())
	}
	if err := d.Options.Validate(); err != nil {
		return fmt.Errorf("%w: service %q: %v", ErrInvalidConfig, d.Name, err)
	}
	for _, assoc := range d.AssociatedServices {
		if assoc == d.Name {
			return fmt.Errorf("%w: service %q is associated with itself", ErrInvalidConfig, d.Name)
		}
	}
	return nil
}

// SameRuntime reports whether two definitions would produce the same running
// service. Activation, ordering and timestamps are ignored.
func (d ServiceDefinition) SameRuntime(other ServiceDefinition) bool {
	return d.Name == other.Name &&
		d.Type == other.Type &&
		reflect.DeepEqual(d.Options, other.Options) &&
		reflect.DeepEqual(normalizeNames(d.AssociatedServices), normalizeNames(other.AssociatedServices))
}

// Clone returns a copy that shares nothing mutable with d except Options, which
// are treated as immutable once built.
func (d ServiceDefinition) Clone() ServiceDefinition {
	c := d
	if d.AssociatedServices != nil {
		c.AssociatedServices = append([]string(nil), d.AssociatedServices...)
	}
	return c
}

type definitionJSON struct {
	Name               string          `json:"name"`
	Type               ServiceType     `json:"type"`
	IsActive           bool            `json:"isActive,omitempty"`
	Options            json.RawMessage `json:"options,omitempty"`
	AssociatedServices []string        `json:"associatedServices,omitempty"`
	Order              int             `json:"order"`
	Created            *time.Time      `json:"created,omitempty"`
}

func (d ServiceDefinition) MarshalJSON() ([]byte, error) {
	out := definitionJSON{
		Name:               d.Name,
		Type:               d.Type,
		IsActive:           d.IsActive,
		AssociatedServices: normalizeNames(d.AssociatedServices),
		Order:              d.Order,
	}
	if !d.Created.IsZero() {
		created := d.Created
		out.Created = &created
	}
	if d.Options != nil {
		if d.Options.Kind() != d.Type {
			return nil, fmt.Errorf("service %q: %s options do not match type %s", d.Name, d.Options.Kind(), d.Type)
		}
		raw, err := json.Marshal(d.Options)
		if err != nil {
			return nil, fmt.Errorf("service %q: marshal options: %w", d.Name, err)
		}
		out.Options = raw
	}
	return json.Marshal(out)
}

func (d *ServiceDefinition) UnmarshalJSON(data []byte) error {
	var in definitionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	if !in.Type.Valid() {
		return fmt.Errorf("service %q: unknown type %q", in.Name, in.Type)
	}

	opts := NewOptions(in.Type)
	if len(in.Options) > 0 && string(in.Options) != "null" {
		if err := json.Unmarshal(in.Options, opts); err != nil {
			return fmt.Errorf("service %q: decode %s options: %w", in.Name, in.Type, err)
		}
	}

	*d = ServiceDefinition{
		Name:               in.Name,
		Type:               in.Type,
		IsActive:           in.IsActive,
		Options:            opts,
		AssociatedServices: normalizeNames(in.AssociatedServices),
		Order:              in.Order,
	}
	if in.Created != nil {
		d.Created = *in.Created
	}
	return nil
}

// normalizeNames trims, drops blanks and removes duplicates while keeping the
// first occurrence's position.
func normalizeNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
