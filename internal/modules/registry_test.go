package modules

import (
	"context"
	"testing"

	"github.com/ignite/sendfabric/internal/domain"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	r.Register(NewEmailModule("", "", ""))
	r.Register(NewSMSModule())
	r.Register(NewWebhookModule())
	r.Register(NewPushModule())

	for _, typ := range []domain.Module{domain.ModuleEmail, domain.ModuleSMS, domain.ModuleWebhook, domain.ModulePush} {
		m, err := r.Lookup(typ)
		if err != nil {
			t.Fatalf("Lookup(%s): %v", typ, err)
		}
		if m.Type() != typ {
			t.Errorf("module type = %s, want %s", m.Type(), typ)
		}
	}
}

func TestRegistryLookupMissing(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Lookup(domain.ModuleEmail); err == nil {
		t.Fatal("expected error for unregistered module type")
	}
}

func TestEmailModuleMockExecute(t *testing.T) {
	m := NewEmailModule("", "", "")
	cfg := ProviderConfig{Provider: "mock"}
	payload := Payload{Identifier: "user@example.com", Fields: map[string]interface{}{"subject": "hi"}}

	if v := m.ValidatePayload(payload); !v.Valid {
		t.Fatalf("ValidatePayload() = %+v, want valid", v)
	}

	res, err := m.Execute(context.Background(), payload, cfg)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !res.Success || res.ProviderMessageID == "" {
		t.Fatalf("Execute() = %+v, want success with provider message id", res)
	}
}

func TestEmailModuleSESWithoutCredentialsErrors(t *testing.T) {
	m := NewEmailModule("", "", "")
	cfg := ProviderConfig{Provider: "ses", Settings: map[string]interface{}{"fromEmail": "a@b.com"}}
	payload := Payload{Identifier: "user@example.com", Fields: map[string]interface{}{"subject": "hi"}}

	_, err := m.Execute(context.Background(), payload, cfg)
	if err == nil {
		t.Fatal("expected error when ses client is not configured")
	}
}

func TestSMSModuleValidateConfig(t *testing.T) {
	m := NewSMSModule()
	if v := m.ValidateConfig(ProviderConfig{Provider: "telnyx"}); v.Valid {
		t.Fatal("expected invalid config without apiKey/fromNumber")
	}
	if v := m.ValidateConfig(ProviderConfig{Provider: "mock"}); !v.Valid {
		t.Fatal("expected mock provider to always validate")
	}
}
