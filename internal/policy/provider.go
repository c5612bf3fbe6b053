// Package policy loads per-tenant scheduling configuration. A policy is
// fetched per request and passed down as a value; no component reads tenant
// configuration from ambient state.
package policy

import (
	"context"

	"github.com/reverb-labs/schedcore/internal/model"
)

type Provider interface {
	PolicyFor(ctx context.Context, tenantID string) (model.TenantPolicy, error)
}

type staticProvider struct {
	policies map[string]model.TenantPolicy
}

// NewStaticProvider serves fixed policies, falling back to the default
// schedule for unknown tenants. Used in tests and broker-less dev setups.
func NewStaticProvider(policies ...model.TenantPolicy) Provider {
	m := make(map[string]model.TenantPolicy, len(policies))
	for _, p := range policies {
		m[p.TenantID] = p
	}
	return &staticProvider{policies: m}
}

func (p *staticProvider) PolicyFor(_ context.Context, tenantID string) (model.TenantPolicy, error) {
	if pol, ok := p.policies[tenantID]; ok {
		return pol, nil
	}
	return model.DefaultPolicy(tenantID), nil
}
