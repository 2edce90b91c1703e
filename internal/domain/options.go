package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"
)

// Options is the kind-specific configuration of a service. Exactly one concrete
// payload exists per ServiceType; all are used through pointers.
type Options interface {
	Kind() ServiceType
	Validate() error
}

// NewOptions returns an empty payload for t, or nil for an unknown type.
func NewOptions(t ServiceType) Options {
	switch t {
	case TypeTCP:
		return &TCPOptions{}
	case TypeFTPServer:
		return &FTPServerOptions{}
	case TypeFTPClient:
		return &FTPClientOptions{}
	case TypeHTTP:
		return &HTTPOptions{}
	case TypeMQTT:
		return &MQTTOptions{}
	case TypeSCP:
		return &SCPOptions{}
	case TypeHID:
		return &HIDOptions{}
	case TypeHeartbeat:
		return &HeartbeatOptions{}
	case TypeCSVCreator:
		return &CSVCreatorOptions{}
	case TypeFileObserver:
		return &FileObserverOptions{}
	default:
		return nil
	}
}

// Duration is a time.Duration that reads and writes Go duration strings ("5s").
// Plain numbers are accepted on input as milliseconds.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("invalid duration %s", string(data))
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

const (
	ProtocolTCP = "tcp"
	ProtocolUDP = "udp"

	RoleListener = "listener"
	RoleSender   = "sender"
)

// TCPOptions covers TCP and UDP listeners and senders.
type TCPOptions struct {
	Protocol string   `json:"protocol,omitempty" yaml:"protocol,omitempty"` // tcp (default) or udp
	Role     string   `json:"role" yaml:"role"`                             // listener or sender
	Host     string   `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int      `json:"port" yaml:"port"`
	Template string   `json:"template,omitempty" yaml:"template,omitempty"`
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

func (*TCPOptions) Kind() ServiceType { return TypeTCP }

func (o *TCPOptions) Validate() error {
	switch o.Network() {
	case ProtocolTCP, ProtocolUDP:
	default:
		return fmt.Errorf("protocol must be tcp or udp, got %q", o.Protocol)
	}
	if err := validatePort(o.Port); err != nil {
		return err
	}
	switch o.Role {
	case RoleListener:
	case RoleSender:
		if o.Host == "" {
			return errors.New("sender requires a host")
		}
		if o.Interval <= 0 {
			return errors.New("sender requires a positive interval")
		}
	default:
		return fmt.Errorf("role must be listener or sender, got %q", o.Role)
	}
	return nil
}

// Network returns the normalized protocol name.
func (o *TCPOptions) Network() string {
	if o.Protocol == "" {
		return ProtocolTCP
	}
	return strings.ToLower(o.Protocol)
}

type FTPServerOptions struct {
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port" yaml:"port"`
	RootDir  string `json:"rootDir" yaml:"rootDir"`
	Username string `json:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
}

func (*FTPServerOptions) Kind() ServiceType { return TypeFTPServer }

func (o *FTPServerOptions) Validate() error {
	if o.RootDir == "" {
		return errors.New("rootDir is required")
	}
	return validatePort(o.Port)
}

type FTPClientOptions struct {
	Host              string   `json:"host" yaml:"host"`
	Port              int      `json:"port,omitempty" yaml:"port,omitempty"`
	Username          string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password          string   `json:"password,omitempty" yaml:"password,omitempty"`
	LocalDir          string   `json:"localDir" yaml:"localDir"`
	RemoteDir         string   `json:"remoteDir,omitempty" yaml:"remoteDir,omitempty"`
	Interval          Duration `json:"interval" yaml:"interval"`
	Timeout           Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	DeleteAfterUpload bool     `json:"deleteAfterUpload,omitempty" yaml:"deleteAfterUpload,omitempty"`
}

func (*FTPClientOptions) Kind() ServiceType { return TypeFTPClient }

func (o *FTPClientOptions) Validate() error {
	if o.Host == "" {
		return errors.New("host is required")
	}
	if o.Port != 0 {
		if err := validatePort(o.Port); err != nil {
			return err
		}
	}
	if o.LocalDir == "" {
		return errors.New("localDir is required")
	}
	if o.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	return nil
}

type HTTPOptions struct {
	Host string `json:"host,omitempty" yaml:"host,omitempty"`
	Port int    `json:"port" yaml:"port"`
}

func (*HTTPOptions) Kind() ServiceType { return TypeHTTP }

func (o *HTTPOptions) Validate() error { return validatePort(o.Port) }

type MQTTOptions struct {
	BrokerURL          string   `json:"brokerUrl" yaml:"brokerUrl"`
	ClientID           string   `json:"clientId,omitempty" yaml:"clientId,omitempty"`
	Username           string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password           string   `json:"password,omitempty" yaml:"password,omitempty"`
	CAFile             string   `json:"caFile,omitempty" yaml:"caFile,omitempty"`
	InsecureSkipVerify bool     `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`
	QoS                byte     `json:"qos,omitempty" yaml:"qos,omitempty"`
	Retain             bool     `json:"retain,omitempty" yaml:"retain,omitempty"`
	KeepAlive          Duration `json:"keepAlive,omitempty" yaml:"keepAlive,omitempty"`
	CleanSession       bool     `json:"cleanSession,omitempty" yaml:"cleanSession,omitempty"`
	SubscribeTopics    []string `json:"subscribeTopics,omitempty" yaml:"subscribeTopics,omitempty"`
	PublishTopic       string   `json:"publishTopic,omitempty" yaml:"publishTopic,omitempty"`
	Template           string   `json:"template,omitempty" yaml:"template,omitempty"`
	Interval           Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
	ReconnectDelay     Duration `json:"reconnectDelay,omitempty" yaml:"reconnectDelay,omitempty"`
	ReconnectAttempts  int      `json:"reconnectAttempts,omitempty" yaml:"reconnectAttempts,omitempty"`
	// AutoReconnect false disables reconnecting after a lost session. Unset means true.
	AutoReconnect      *bool    `json:"autoReconnect,omitempty" yaml:"autoReconnect,omitempty"`
	WillTopic          string   `json:"willTopic,omitempty" yaml:"willTopic,omitempty"`
	WillPayload        string   `json:"willPayload,omitempty" yaml:"willPayload,omitempty"`
}

func (*MQTTOptions) Kind() ServiceType { return TypeMQTT }

func (o *MQTTOptions) Validate() error {
	if o.BrokerURL == "" {
		return errors.New("brokerUrl is required")
	}
	u, err := url.Parse(o.BrokerURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("brokerUrl %q is not a valid url", o.BrokerURL)
	}
	switch u.Scheme {
	case "tcp", "mqtt", "ssl", "tls", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("brokerUrl scheme %q is not supported", u.Scheme)
	}
	if o.QoS > 2 {
		return fmt.Errorf("qos must be 0, 1 or 2, got %d", o.QoS)
	}
	if o.PublishTopic != "" && o.Interval <= 0 {
		return errors.New("publishTopic requires a positive interval")
	}
	if o.ReconnectDelay < 0 {
		return errors.New("reconnectDelay must not be negative")
	}
	if o.ReconnectAttempts < 0 {
		return errors.New("reconnectAttempts must not be negative")
	}
	return nil
}

// UsesTLS reports whether the broker URL asks for a TLS transport.
func (o *MQTTOptions) UsesTLS() bool {
	u, err := url.Parse(o.BrokerURL)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "ssl", "tls", "mqtts", "wss":
		return true
	}
	return o.CAFile != ""
}

type SCPOptions struct {
	Host           string   `json:"host" yaml:"host"`
	Port           int      `json:"port,omitempty" yaml:"port,omitempty"`
	Username       string   `json:"username" yaml:"username"`
	Password       string   `json:"password,omitempty" yaml:"password,omitempty"`
	KeyFile        string   `json:"keyFile,omitempty" yaml:"keyFile,omitempty"`
	KnownHostsFile string   `json:"knownHostsFile,omitempty" yaml:"knownHostsFile,omitempty"`
	LocalDir       string   `json:"localDir" yaml:"localDir"`
	RemoteDir      string   `json:"remoteDir" yaml:"remoteDir"`
	Interval       Duration `json:"interval" yaml:"interval"`
}

func (*SCPOptions) Kind() ServiceType { return TypeSCP }

func (o *SCPOptions) Validate() error {
	if o.Host == "" || o.Username == "" {
		return errors.New("host and username are required")
	}
	if o.Port != 0 {
		if err := validatePort(o.Port); err != nil {
			return err
		}
	}
	if o.Password == "" && o.KeyFile == "" {
		return errors.New("password or keyFile is required")
	}
	if o.LocalDir == "" || o.RemoteDir == "" {
		return errors.New("localDir and remoteDir are required")
	}
	if o.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	return nil
}

type HIDOptions struct {
	Template string   `json:"template" yaml:"template"`
	Interval Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

func (*HIDOptions) Kind() ServiceType { return TypeHID }

func (o *HIDOptions) Validate() error {
	if o.Template == "" {
		return errors.New("template is required")
	}
	return nil
}

type HeartbeatOptions struct {
	Interval Duration `json:"interval" yaml:"interval"`
	Message  string   `json:"message,omitempty" yaml:"message,omitempty"`
}

func (*HeartbeatOptions) Kind() ServiceType { return TypeHeartbeat }

func (o *HeartbeatOptions) Validate() error {
	if o.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	return nil
}

type CSVCreatorOptions struct {
	Path      string   `json:"path" yaml:"path"`
	Columns   []string `json:"columns" yaml:"columns"`
	Interval  Duration `json:"interval" yaml:"interval"`
	Delimiter string   `json:"delimiter,omitempty" yaml:"delimiter,omitempty"`
}

func (*CSVCreatorOptions) Kind() ServiceType { return TypeCSVCreator }

func (o *CSVCreatorOptions) Validate() error {
	if o.Path == "" {
		return errors.New("path is required")
	}
	if len(o.Columns) == 0 {
		return errors.New("at least one column is required")
	}
	if o.Interval <= 0 {
		return errors.New("interval must be positive")
	}
	if len([]rune(o.Delimiter)) > 1 {
		return fmt.Errorf("delimiter must be a single character, got %q", o.Delimiter)
	}
	return nil
}

type FileObserverOptions struct {
	Directory      string `json:"directory" yaml:"directory"`
	Pattern        string `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	IncludeSubdirs bool   `json:"includeSubdirs,omitempty" yaml:"includeSubdirs,omitempty"`
}

func (*FileObserverOptions) Kind() ServiceType { return TypeFileObserver }

func (o *FileObserverOptions) Validate() error {
	if o.Directory == "" {
		return errors.New("directory is required")
	}
	if o.Pattern != "" {
		if _, err := filepath.Match(o.Pattern, ""); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", o.Pattern, err)
		}
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}
