package family

import (
	"context"
	"testing"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/model"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
)

func setup(t *testing.T) (*Provider, store.Store) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })
	return NewProvider(st), st
}

func TestResolveMember(t *testing.T) {
	p, st := setup(t)
	ctx := context.Background()

	fam, err := st.CreateFamily(ctx, &model.Family{Name: "Geambazu", OwnerID: "u1"})
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	for _, m := range []*model.FamilyMember{
		{FamilyID: fam.ID, UserID: "u1", Name: "Paul", Role: "admin"},
		{FamilyID: fam.ID, UserID: "u2", Name: "Ana", Role: "member"},
	} {
		if _, err := st.AddMember(ctx, m); err != nil {
			t.Fatalf("add member: %v", err)
		}
	}

	got, err := p.Resolve(ctx, "u2")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Family == nil || got.Family.ID != fam.ID {
		t.Fatalf("family = %+v, want %s", got.Family, fam.ID)
	}
	if len(got.Members) != 2 {
		t.Errorf("members = %d, want 2", len(got.Members))
	}
	if got.Role != "member" {
		t.Errorf("role = %q, want member", got.Role)
	}
}

func TestResolveNoFamily(t *testing.T) {
	p, _ := setup(t)

	got, err := p.Resolve(context.Background(), "loner")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Family != nil {
		t.Errorf("expected nil family, got %+v", got.Family)
	}
	if got.Role != "" {
		t.Errorf("expected empty role, got %q", got.Role)
	}
}
