// Package router keeps the latest message of every service and resolves
// {Name.Message} tokens against them.
package router

import (
	"regexp"
	"strings"
	"sync"

	"github.com/MrSnakeDoc/switchboard/internal/domain"
)

var tokenPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\.Message\}`)

// Mirror receives every accepted update, e.g. to copy it to an external store.
// It is called on the writer's goroutine and must not block.
type Mirror interface {
	MirrorMessage(serviceName, message string)
}

// Router maps service name -> latest message. Last write wins; there is no
// history. Reads never take a lock that writers wait on.
type Router struct {
	messages sync.Map // string -> string

	inboxMu sync.RWMutex
	inboxes map[string]map[*Inbox]struct{}

	mirror Mirror
}

// Option configures a Router.
type Option func(*Router)

// WithMirror attaches a mirror that observes every update.
func WithMirror(m Mirror) Option {
	return func(r *Router) {
		r.mirror = m
	}
}

// New creates an empty router.
func New(opts ...Option) *Router {
	r := &Router{inboxes: make(map[string]map[*Inbox]struct{})}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// UpdateMessage stores message as the latest message of serviceName.
func (r *Router) UpdateMessage(serviceName, message string) error {
	if strings.TrimSpace(serviceName) == "" {
		return domain.ErrBlankServiceName
	}
	r.messages.Store(serviceName, message)
	if r.mirror != nil {
		r.mirror.MirrorMessage(serviceName, message)
	}
	return nil
}

// Restore loads messages without notifying the mirror. Used at startup to seed
// the router from the mirror itself.
func (r *Router) Restore(messages map[string]string) {
	for name, msg := range messages {
		if strings.TrimSpace(name) == "" {
			continue
		}
		r.messages.Store(name, msg)
	}
}

// TryGetMessage returns the latest message of serviceName, if any.
func (r *Router) TryGetMessage(serviceName string) (string, bool) {
	v, ok := r.messages.Load(serviceName)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Remove forgets the message of serviceName.
func (r *Router) Remove(serviceName string) {
	r.messages.Delete(serviceName)
}

// Snapshot copies every stored message.
func (r *Router) Snapshot() map[string]string {
	out := make(map[string]string)
	r.messages.Range(func(k, v any) bool {
		out[k.(string)] = v.(string)
		return true
	})
	return out
}

// ResolveTokens replaces each {Identifier.Message} token with the stored message
// for Identifier, or with "" when none is stored. Anything else, including
// malformed tokens, is copied verbatim.
func (r *Router) ResolveTokens(template string) string {
	if !strings.Contains(template, ".Message}") {
		return template
	}
	return tokenPattern.ReplaceAllStringFunc(template, func(token string) string {
		name := token[1 : len(token)-len(".Message}")]
		msg, _ := r.TryGetMessage(name)
		return msg
	})
}

// Tokens lists the identifiers referenced by template, in order of appearance.
func Tokens(template string) []string {
	matches := tokenPattern.FindAllStringSubmatch(template, -1)
	if len(matches) == 0 {
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, m[1])
	}
	return out
}
