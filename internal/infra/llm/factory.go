package llm

import (
	"fmt"
	"sort"

	"github.com/kaiwa-ai/kaiwa/internal/infra/config"
)

// New maps the tagged provider configuration to a concrete adapter. Unknown
// tags and missing required sub-configuration are construction-time errors,
// never runtime branches.
func New(cfg config.LLM) (Provider, error) {
	retry := retryFromConfig(cfg.Retry)

	switch cfg.Provider {
	case config.ProviderAzure:
		if err := requireFields("azure", map[string]string{
			"endpoint":         cfg.Azure.Endpoint,
			"api_key":          cfg.Azure.APIKey,
			"deployment":       cfg.Azure.Deployment,
			"embed_deployment": cfg.Azure.EmbedDeployment,
			"api_version":      cfg.Azure.APIVersion,
		}); err != nil {
			return nil, err
		}
		return NewAzureProvider(cfg.Azure.Endpoint, cfg.Azure.APIKey, cfg.Azure.Deployment,
			cfg.Azure.EmbedDeployment, cfg.Azure.APIVersion, retry), nil

	case config.ProviderAWS:
		if err := requireFields("aws", map[string]string{
			"region":         cfg.AWS.Region,
			"api_key":        cfg.AWS.APIKey,
			"model_id":       cfg.AWS.ModelID,
			"embed_model_id": cfg.AWS.EmbedModelID,
		}); err != nil {
			return nil, err
		}
		return NewBedrockProvider(cfg.AWS.Region, cfg.AWS.APIKey, cfg.AWS.ModelID,
			cfg.AWS.EmbedModelID, retry), nil

	case config.ProviderGCP:
		if err := requireFields("gcp", map[string]string{
			"api_key":     cfg.GCP.APIKey,
			"model":       cfg.GCP.Model,
			"embed_model": cfg.GCP.EmbedModel,
		}); err != nil {
			return nil, err
		}
		return NewGeminiProvider(cfg.GCP.APIKey, cfg.GCP.Model, cfg.GCP.EmbedModel, retry), nil

	case config.ProviderLocal:
		if err := requireFields("local", map[string]string{
			"base_url":    cfg.Local.BaseURL,
			"model":       cfg.Local.Model,
			"embed_model": cfg.Local.EmbedModel,
		}); err != nil {
			return nil, err
		}
		return NewOllamaProvider(cfg.Local.BaseURL, cfg.Local.Model, cfg.Local.EmbedModel, retry), nil

	default:
		return nil, fmt.Errorf("llm: unknown provider %q (want azure, aws, gcp, or local)", cfg.Provider)
	}
}

// retryFromConfig maps the config retry block onto a RetryPolicy, falling
// back to defaults for unset values.
func retryFromConfig(r config.Retry) RetryPolicy {
	policy := DefaultRetryPolicy()
	if r.MaxAttempts > 0 {
		policy.MaxAttempts = r.MaxAttempts
	}
	if r.InitialDelay > 0 {
		policy.InitialDelay = r.InitialDelay
	}
	if r.MaxDelay > 0 {
		policy.MaxDelay = r.MaxDelay
	}
	if r.ExponentialBase > 1 {
		policy.ExponentialBase = r.ExponentialBase
	}
	return policy
}

// requireFields reports the full set of missing keys at once, so a
// misconfigured deployment is fixed in one pass.
func requireFields(provider string, fields map[string]string) error {
	var missing []string
	for name, value := range fields {
		if value == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("llm: provider %q missing required config: %v", provider, missing)
	}
	return nil
}
