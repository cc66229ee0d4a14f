// Package resolver maps descriptor strings to service instances.
//
// A descriptor is "scheme:rest", where rest is backend specific. A Registry
// holds one factory per (kind, scheme) pair; adding a backend is a Register
// call and needs no change here.
package resolver

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/papercomputeco/spool/pkg/storage"
)

// Kind is the type of service a descriptor selects.
type Kind string

const (
	KindSession  Kind = "session"
	KindMemory   Kind = "memory"
	KindArtifact Kind = "artifact"
)

// Kinds lists every service kind in resolution order.
var Kinds = []Kind{KindSession, KindMemory, KindArtifact}

// Fallback is used when neither an explicit descriptor nor an environment
// default is set.
const Fallback = "inmemory:"

// Factory builds a service from a parsed descriptor.
type Factory func(ctx context.Context, d *Descriptor) (any, error)

// Env supplies environment-derived default descriptors. *viper.Viper
// satisfies it.
type Env interface {
	GetString(key string) string
}

// EnvKey is the Env key holding the default descriptor for kind. With the
// SPOOL env prefix, viper maps "session_service" to SPOOL_SESSION_SERVICE.
func EnvKey(kind Kind) string {
	return string(kind) + "_service"
}

// Registry is a set of factories keyed by kind and scheme.
type Registry struct {
	mu        sync.RWMutex
	factories map[Kind]map[string]Factory
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{factories: make(map[Kind]map[string]Factory)}
}

// Register adds or replaces the factory for (kind, scheme). Schemes are
// case-insensitive.
func (r *Registry) Register(kind Kind, scheme string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byScheme, ok := r.factories[kind]
	if !ok {
		byScheme = make(map[string]Factory)
		r.factories[kind] = byScheme
	}
	byScheme[strings.ToLower(scheme)] = factory
}

// Schemes returns the registered schemes for kind, sorted.
func (r *Registry) Schemes(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.factories[kind]))
	for scheme := range r.factories[kind] {
		out = append(out, scheme)
	}
	sort.Strings(out)
	return out
}

// Select applies the descriptor precedence: explicit, then the
// environment default for kind, then Fallback.
func Select(kind Kind, explicit string, env Env) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	if env != nil {
		if s := strings.TrimSpace(env.GetString(EnvKey(kind))); s != "" {
			return s
		}
	}
	return Fallback
}

// Resolve builds the kind service for the selected descriptor. An
// unregistered pair fails with an UnsupportedBackend error naming the
// scheme.
func (r *Registry) Resolve(ctx context.Context, kind Kind, explicit string, env Env) (any, error) {
	const op = "resolve service"
	d, err := ParseDescriptor(Select(kind, explicit, env))
	if err != nil {
		return nil, storage.Invalid(op, err)
	}

	r.mu.RLock()
	factory, ok := r.factories[kind][d.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, storage.Unsupported(op, "no %s backend registered for scheme %q", kind, d.Scheme)
	}

	svc, err := factory(ctx, d)
	if err != nil {
		return nil, fmt.Errorf("%s backend %q: %w", kind, d.Scheme, err)
	}
	return svc, nil
}

// ResolveAs resolves and asserts the service type.
func ResolveAs[T any](ctx context.Context, r *Registry, kind Kind, explicit string, env Env) (T, error) {
	var zero T
	svc, err := r.Resolve(ctx, kind, explicit, env)
	if err != nil {
		return zero, err
	}
	typed, ok := svc.(T)
	if !ok {
		return zero, storage.Unsupported("resolve service", "%s backend returned %T", kind, svc)
	}
	return typed, nil
}
