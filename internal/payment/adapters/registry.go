package adapters

import (
	"context"
	"strings"

	"github.com/smallbiznis/acpgateway/internal/payment/domain"
)

// Registry routes a charge to the processor registered for its method. The
// default method is used when the agent does not name one.
type Registry struct {
	processors    map[string]domain.Processor
	defaultMethod string
}

func NewRegistry(defaultMethod string, processors ...domain.Processor) *Registry {
	registry := &Registry{
		processors:    map[string]domain.Processor{},
		defaultMethod: normalize(defaultMethod),
	}
	for _, p := range processors {
		if p == nil {
			continue
		}
		method := normalize(p.Method())
		if method == "" {
			continue
		}
		registry.processors[method] = p
	}
	return registry
}

func (r *Registry) Method() string {
	return r.defaultMethod
}

func (r *Registry) Charge(ctx context.Context, req domain.ChargeRequest) (*domain.ChargeResult, error) {
	method := normalize(req.Method)
	if method == "" {
		method = r.defaultMethod
	}
	p, ok := r.processors[method]
	if !ok {
		return nil, domain.ErrUnsupportedMethod
	}
	req.Method = method
	return p.Charge(ctx, req)
}

func normalize(method string) string {
	return strings.ToLower(strings.TrimSpace(method))
}
