package redis

import "fmt"

const (
	// KeyPrefixService is the prefix for running-service status keys
	KeyPrefixService = "switchboard:service:"
	// KeyPrefixMessage is the prefix for latest-message keys
	KeyPrefixMessage = "switchboard:message:"
	// KeyAllServices is the key for the set of service names with a status entry
	KeyAllServices = "switchboard:services:all"
)

// ServiceKey returns the Redis key for a service status by name
func ServiceKey(name string) string {
	return KeyPrefixService + name
}

// MessageKey returns the Redis key for the latest message of a service
func MessageKey(name string) string {
	return KeyPrefixMessage + name
}

// AllServicesKey returns the key for the set of all service names
func AllServicesKey() string {
	return KeyAllServices
}

// ExtractServiceName extracts the service name from a status key
func ExtractServiceName(key string) (string, error) {
	return extract(key, KeyPrefixService)
}

// ExtractMessageName extracts the service name from a message key
func ExtractMessageName(key string) (string, error) {
	return extract(key, KeyPrefixMessage)
}

func extract(key, prefix string) (string, error) {
	if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
		return "", fmt.Errorf("invalid key %q for prefix %q", key, prefix)
	}
	return key[len(prefix):], nil
}
