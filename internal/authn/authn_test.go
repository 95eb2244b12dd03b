package authn

import (
	"context"
	"testing"

	"github.com/skyflo-ai/skyflo/internal/config"
)

func TestNewDisabledWhenNoIssuer(t *testing.T) {
	conf := &config.Config{AdminRole: "admin"}
	a, err := New(conf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	caller, err := a.Identify(context.Background(), "")
	if err != nil {
		t.Fatalf("Identify() on disabled authenticator error = %v", err)
	}
	if !caller.IsAdmin {
		t.Error("disabled authenticator should resolve to an admin anonymous caller")
	}
}

func TestIdentifyOptionalFallsBackToAnonymous(t *testing.T) {
	conf := &config.Config{AdminRole: "admin"}
	a, err := New(conf)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// The disabled authenticator should still short-circuit before
	// IdentifyOptional's empty-header branch runs, since Identify itself
	// never errors when disabled.
	caller := a.IdentifyOptional(context.Background(), "")
	if caller.UserID != "anonymous" {
		t.Errorf("UserID = %q, want anonymous", caller.UserID)
	}
}

func TestNewRejectsInvalidIssuerURL(t *testing.T) {
	conf := &config.Config{OIDCIssuer: "://not-a-url", AdminRole: "admin"}
	if _, err := New(conf); err == nil {
		t.Error("New() with an invalid issuer URL should return an error")
	}
}
