package venue

import (
	"context"
	"errors"
	"testing"

	"tradehook/pkg/crypto"
	"tradehook/pkg/db"
	"tradehook/pkg/venues/common"
)

type stubVenue struct {
	common.Venue
	secret string
}

func newTestVault(t *testing.T) *crypto.Vault {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	t.Setenv("CREDENTIAL_MASTER_KEY", key)
	vault, err := crypto.NewVault()
	if err != nil {
		t.Fatalf("create vault: %v", err)
	}
	return vault
}

func newTestManager(t *testing.T) (*Manager, *int) {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("create database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.Init(); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	vault := newTestVault(t)

	sealed, err := vault.Seal("hunter2")
	if err != nil {
		t.Fatalf("seal secret: %v", err)
	}
	cred := db.Credential{
		ID:              "c1",
		AccountID:       "a1",
		VenueType:       TypeBitflex,
		APIKey:          "key-1",
		SecretEncrypted: sealed,
		IsActive:        true,
	}
	if err := database.CreateCredential(context.Background(), cred); err != nil {
		t.Fatalf("create credential: %v", err)
	}

	built := 0
	factory := func(c db.Credential, secret string) (common.Venue, error) {
		built++
		return &stubVenue{secret: secret}, nil
	}
	m := NewManager(database, vault, factory, DefaultPoolConfig())
	t.Cleanup(m.Stop)
	return m, &built
}

func TestResolveDecryptsOnceAndCaches(t *testing.T) {
	m, built := newTestManager(t)
	ctx := context.Background()

	v1, err := m.Resolve(ctx, "a1", TypeBitflex)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := v1.(*stubVenue).secret; got != "hunter2" {
		t.Fatalf("factory got secret %q, want decrypted plaintext", got)
	}

	v2, err := m.Resolve(ctx, "a1", TypeBitflex)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if v1 != v2 {
		t.Fatal("expected cached adapter on second resolve")
	}
	if *built != 1 {
		t.Fatalf("factory called %d times, want 1", *built)
	}
}

func TestResolveMissingCredential(t *testing.T) {
	m, _ := newTestManager(t)
	_, err := m.Resolve(context.Background(), "a1", TypeDeriva)
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}
}

func TestFailureCircuitOpensAndCloses(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Resolve(ctx, "a1", TypeBitflex); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	for i := 0; i < m.config.FailureThreshold; i++ {
		m.RecordFailure("a1", TypeBitflex)
	}
	if _, err := m.Resolve(ctx, "a1", TypeBitflex); !errors.Is(err, ErrUnhealthy) {
		t.Fatalf("err = %v, want ErrUnhealthy", err)
	}

	m.RecordSuccess("a1", TypeBitflex)
	if _, err := m.Resolve(ctx, "a1", TypeBitflex); err != nil {
		t.Fatalf("resolve after recovery: %v", err)
	}
}
