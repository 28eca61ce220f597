// Package family resolves the calling user's family context from the store.
// The reminder core treats this as a read-only seam: membership is managed
// elsewhere and only consulted here to scope queries and broadcasts.
package family

import (
	"context"
	"fmt"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

// Membership is a user's resolved family context. Family is nil for users
// who belong to no family; their reminders are personal only.
type Membership struct {
	Family  *model.Family
	Members []*model.FamilyMember
	Role    string
}

// Provider looks up family context for authenticated users.
type Provider struct {
	store store.Store
}

func NewProvider(st store.Store) *Provider {
	return &Provider{store: st}
}

// Resolve returns the user's family, its member list, and the user's role in
// it. Users without a family get a Membership with a nil Family.
func (p *Provider) Resolve(ctx context.Context, userID string) (*Membership, error) {
	fam, err := p.store.FamilyForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve family: %w", err)
	}
	if fam == nil {
		return &Membership{}, nil
	}

	members, err := p.store.ListMembers(ctx, fam.ID)
	if err != nil {
		return nil, fmt.Errorf("list family members: %w", err)
	}

	m := &Membership{Family: fam, Members: members}
	for _, mem := range members {
		if mem.UserID == userID {
			m.Role = mem.Role
			break
		}
	}
	return m, nil
}

// Members returns the member list of one family.
func (p *Provider) Members(ctx context.Context, familyID string) ([]*model.FamilyMember, error) {
	members, err := p.store.ListMembers(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("list family members: %w", err)
	}
	return members, nil
}
