package policy

import (
	"context"

	"github.com/reverb-labs/schedcore/internal/model"
	"github.com/reverb-labs/schedcore/internal/storage"
)

type pgProvider struct {
	repo *storage.PolicyRepository
}

// NewStoreProvider loads policies from the persistence store. Tenants without
// a stored policy get the default schedule, which keeps new tenants bookable
// before onboarding completes.
func NewStoreProvider(repo *storage.PolicyRepository) Provider {
	return &pgProvider{repo: repo}
}

func (p *pgProvider) PolicyFor(ctx context.Context, tenantID string) (model.TenantPolicy, error) {
	pol, err := p.repo.Get(ctx, tenantID)
	if err != nil {
		if storage.IsNotFound(err) {
			return model.DefaultPolicy(tenantID), nil
		}
		return model.TenantPolicy{}, err
	}
	if err := pol.Validate(); err != nil {
		return model.TenantPolicy{}, err
	}
	return pol, nil
}
