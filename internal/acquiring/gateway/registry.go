package gateway

import (
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
)

// Registry builds gateways by acquirer type. It is assembled once at startup.
type Registry struct {
	defaultType domain.AcquirerType
	factories   map[domain.AcquirerType]domain.GatewayFactory
}

// NewRegistry indexes factories by type. A factory whose Type is not already
// lower-case and trimmed is skipped, since its gateways would persist intents
// under a type that differs from the one they were resolved by.
func NewRegistry(defaultType domain.AcquirerType, factories ...domain.GatewayFactory) *Registry {
	registry := &Registry{
		defaultType: normalize(defaultType),
		factories:   map[domain.AcquirerType]domain.GatewayFactory{},
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		acquirer := factory.Type()
		if acquirer == "" || acquirer != normalize(acquirer) {
			continue
		}
		registry.factories[acquirer] = factory
	}
	return registry
}

// Resolve returns a gateway for acquirer. An empty type selects the
// configured default; unknown types fail with ErrUnknownAcquirer.
func (r *Registry) Resolve(acquirer domain.AcquirerType) (domain.Gateway, error) {
	if r == nil {
		return nil, domain.ErrUnknownAcquirer
	}
	acquirer = normalize(acquirer)
	if acquirer == "" {
		acquirer = r.defaultType
	}
	factory, ok := r.factories[acquirer]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownAcquirer, string(acquirer))
	}
	return factory.NewGateway()
}

func (r *Registry) Exists(acquirer domain.AcquirerType) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(acquirer)]
	return ok
}

func (r *Registry) Default() domain.AcquirerType {
	return r.defaultType
}

// Types lists registered acquirers in sorted order.
func (r *Registry) Types() []domain.AcquirerType {
	out := make([]domain.AcquirerType, 0, len(r.factories))
	for acquirer := range r.factories {
		out = append(out, acquirer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func normalize(acquirer domain.AcquirerType) domain.AcquirerType {
	return domain.AcquirerType(strings.ToLower(strings.TrimSpace(string(acquirer))))
}
