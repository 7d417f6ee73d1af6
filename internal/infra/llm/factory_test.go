package llm

import (
	"strings"
	"testing"

	"github.com/kaiwa-ai/kaiwa/internal/infra/config"
)

func TestNew_Local(t *testing.T) {
	t.Parallel()

	cfg := config.Default().LLM
	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if got := p.ModelInfo().Provider; got != "local" {
		t.Errorf("provider = %q, want local", got)
	}
}

func TestNew_UnknownTag_ReturnsError(t *testing.T) {
	t.Parallel()

	cfg := config.Default().LLM
	cfg.Provider = "openai"
	if _, err := New(cfg); err == nil {
		t.Error("expected error for unknown provider tag, got nil")
	}
}

func TestNew_Azure_MissingSubConfig_NamesAllMissingKeys(t *testing.T) {
	t.Parallel()

	cfg := config.Default().LLM
	cfg.Provider = config.ProviderAzure
	cfg.Azure.Endpoint = "https://example.openai.azure.com"
	// api_key, deployment, embed_deployment left empty; api_version has a default.
	_, err := New(cfg)
	if err == nil {
		t.Fatal("expected error for missing azure sub-config, got nil")
	}
	for _, key := range []string{"api_key", "deployment", "embed_deployment"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not name missing key %q", err, key)
		}
	}
}

func TestNew_EveryTagConstructs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tag   string
		setup func(cfg *config.LLM)
	}{
		{config.ProviderAzure, func(cfg *config.LLM) {
			cfg.Azure = config.Azure{
				Endpoint: "https://example.openai.azure.com", APIKey: "k",
				Deployment: "gpt-4o", EmbedDeployment: "text-embedding-3-small",
				APIVersion: "2024-08-01-preview",
			}
		}},
		{config.ProviderAWS, func(cfg *config.LLM) {
			cfg.AWS = config.AWS{Region: "us-east-1", APIKey: "k", ModelID: "m", EmbedModelID: "e"}
		}},
		{config.ProviderGCP, func(cfg *config.LLM) {
			cfg.GCP = config.GCP{APIKey: "k", Model: "gemini-2.0-flash", EmbedModel: "text-embedding-004"}
		}},
		{config.ProviderLocal, func(cfg *config.LLM) {
			cfg.Local = config.Local{BaseURL: "http://localhost:11434", Model: "m", EmbedModel: "e"}
		}},
	}
	for _, tt := range tests {
		cfg := config.Default().LLM
		cfg.Provider = tt.tag
		tt.setup(&cfg)
		p, err := New(cfg)
		if err != nil {
			t.Errorf("New(%s) failed: %v", tt.tag, err)
			continue
		}
		if got := p.ModelInfo().Provider; got != tt.tag {
			t.Errorf("New(%s): ModelInfo().Provider = %q", tt.tag, got)
		}
		if err := p.Close(); err != nil {
			t.Errorf("Close(%s) failed: %v", tt.tag, err)
		}
	}
}

func TestRetryFromConfig_ZeroValuesFallBackToDefaults(t *testing.T) {
	t.Parallel()

	policy := retryFromConfig(config.Retry{})
	want := DefaultRetryPolicy()
	if policy != want {
		t.Errorf("retryFromConfig(zero) = %+v, want defaults %+v", policy, want)
	}
}
