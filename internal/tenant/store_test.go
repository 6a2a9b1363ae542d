package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
)

func record(tenantID, userID, tier string) *Record {
	return &Record{
		TenantID:    tenantID,
		UserID:      userID,
		ContextType: ContextOrganization,
		Role:        domain.RoleUser,
		Tier:        tier,
	}
}

func TestMemoryStoreOwnsLimitsVersion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.UpsertTenant(ctx, record("acme", "user-1", domain.TierSmall)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	rec, err := store.GetTenant(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if rec.LimitsVersion != 1 {
		t.Fatalf("LimitsVersion after insert = %d, want 1", rec.LimitsVersion)
	}

	rec.Tier = domain.TierLarge
	if err := store.UpsertTenant(ctx, rec); err != nil {
		t.Fatalf("update: %v", err)
	}
	rec, err = store.GetTenant(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if rec.LimitsVersion != 2 {
		t.Errorf("LimitsVersion after update = %d, want 2", rec.LimitsVersion)
	}
	if rec.Tier != domain.TierLarge {
		t.Errorf("Tier = %q, want large", rec.Tier)
	}

	// A caller-supplied version is ignored: the store owns the counter.
	forged := record("acme", "user-1", domain.TierMedium)
	forged.LimitsVersion = 99
	if err := store.UpsertTenant(ctx, forged); err != nil {
		t.Fatalf("update with forged version: %v", err)
	}
	rec, err = store.GetTenant(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if rec.LimitsVersion != 3 {
		t.Errorf("LimitsVersion = %d, want 3 (store-owned, not caller-supplied)", rec.LimitsVersion)
	}
}

func TestMemoryStoreGetUnknownTenant(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetTenant(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreCopiesOnReadAndWrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	src := record("acme", "user-1", domain.TierSmall)
	if err := store.UpsertTenant(ctx, src); err != nil {
		t.Fatal(err)
	}
	// Mutating the caller's record after the write must not leak in.
	src.Tier = domain.TierLarge

	got, err := store.GetTenant(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if got.Tier != domain.TierSmall {
		t.Errorf("Tier = %q, caller mutation leaked into the store", got.Tier)
	}

	// Mutating a read result must not change the stored record.
	got.Tier = domain.TierMedium
	again, err := store.GetTenant(ctx, "acme")
	if err != nil {
		t.Fatal(err)
	}
	if again.Tier != domain.TierSmall {
		t.Errorf("Tier = %q, read result aliased the stored record", again.Tier)
	}
}
