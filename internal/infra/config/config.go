// Package config provides application-wide configuration.
//
// Precedence, lowest to highest: built-in defaults, an optional YAML file
// (KAIWA_CONFIG, default ./kaiwa.yaml), environment variables. All fields have
// safe defaults so the binary runs locally against Ollama without any setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider tags recognized by the LLM factory.
const (
	ProviderAzure = "azure"
	ProviderAWS   = "aws"
	ProviderGCP   = "gcp"
	ProviderLocal = "local"
)

// Config holds runtime configuration for kaiwad.
type Config struct {
	Server Server `yaml:"server"`
	DB     DB     `yaml:"db"`
	Auth   Auth   `yaml:"auth"`
	LLM    LLM    `yaml:"llm"`
}

// Server holds HTTP listener settings.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DB holds SQLite settings.
type DB struct {
	Path string `yaml:"path"`
}

// Auth holds session-token validation settings.
type Auth struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// LLM selects and configures the model backend.
type LLM struct {
	// Provider is the backend tag: "azure" | "aws" | "gcp" | "local".
	Provider string `yaml:"provider"`

	Azure Azure `yaml:"azure"`
	AWS   AWS   `yaml:"aws"`
	GCP   GCP   `yaml:"gcp"`
	Local Local `yaml:"local"`

	Retry Retry `yaml:"retry"`
}

// Azure configures the Azure OpenAI adapter.
type Azure struct {
	Endpoint        string `yaml:"endpoint"`         // https://<resource>.openai.azure.com
	APIKey          string `yaml:"api_key"`
	Deployment      string `yaml:"deployment"`       // chat deployment name
	EmbedDeployment string `yaml:"embed_deployment"` // embedding deployment name
	APIVersion      string `yaml:"api_version"`
}

// AWS configures the Amazon Bedrock adapter (bearer API key auth).
type AWS struct {
	Region       string `yaml:"region"`
	APIKey       string `yaml:"api_key"`
	ModelID      string `yaml:"model_id"`
	EmbedModelID string `yaml:"embed_model_id"`
}

// GCP configures the Gemini API adapter.
type GCP struct {
	APIKey     string `yaml:"api_key"`
	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`
}

// Local configures the Ollama adapter.
type Local struct {
	BaseURL    string `yaml:"base_url"`
	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`
}

// Retry configures transient-failure retries for every adapter.
type Retry struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialDelay    time.Duration `yaml:"initial_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	ExponentialBase float64       `yaml:"exponential_base"`
}

const (
	envConfigFile    = "KAIWA_CONFIG"
	envServerHost    = "KAIWA_HOST"
	envServerPort    = "KAIWA_PORT"
	envDBPath        = "KAIWA_DB_PATH"
	envJWTSecret     = "JWT_SECRET"
	envLLMProvider   = "LLM_PROVIDER"
	envAzureEndpoint = "AZURE_OPENAI_ENDPOINT"
	envAzureAPIKey   = "AZURE_OPENAI_API_KEY"
	envAzureDeploy   = "AZURE_OPENAI_DEPLOYMENT"
	envAzureEmbed    = "AZURE_OPENAI_EMBED_DEPLOYMENT"
	envAzureVersion  = "AZURE_OPENAI_API_VERSION"
	envAWSRegion     = "AWS_REGION"
	envAWSAPIKey     = "AWS_BEDROCK_API_KEY"
	envAWSModel      = "AWS_BEDROCK_MODEL_ID"
	envAWSEmbedModel = "AWS_BEDROCK_EMBED_MODEL_ID"
	envGCPAPIKey     = "GEMINI_API_KEY"
	envGCPModel      = "GEMINI_MODEL"
	envGCPEmbedModel = "GEMINI_EMBED_MODEL"
	envOllamaBaseURL = "OLLAMA_BASE_URL"
	envOllamaModel   = "OLLAMA_CHAT_MODEL"
	envOllamaEmbed   = "OLLAMA_EMBED_MODEL"
)

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Server: Server{Host: "0.0.0.0", Port: 8080},
		DB:     DB{Path: "./data/kaiwa.db"},
		LLM: LLM{
			Provider: ProviderLocal,
			Azure:    Azure{APIVersion: "2024-08-01-preview"},
			GCP:      GCP{Model: "gemini-2.0-flash", EmbedModel: "text-embedding-004"},
			Local: Local{
				BaseURL:    "http://localhost:11434",
				Model:      "llama3.2:3b",
				EmbedModel: "nomic-embed-text",
			},
			Retry: Retry{
				MaxAttempts:     3,
				InitialDelay:    time.Second,
				MaxDelay:        30 * time.Second,
				ExponentialBase: 2.0,
			},
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file if one
// exists, then environment variables.
func Load() (Config, error) {
	cfg := Default()

	path := envOr(envConfigFile, "kaiwa.yaml")
	if err := applyFile(&cfg, path); err != nil {
		return Config{}, err
	}
	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyFile overlays YAML values from path onto cfg. A missing file is not an
// error unless it was requested explicitly via KAIWA_CONFIG.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && os.Getenv(envConfigFile) == "" {
			return nil
		}
		return fmt.Errorf("read config file %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = envOr(envServerHost, cfg.Server.Host)
	cfg.Server.Port = envOrInt(envServerPort, cfg.Server.Port)
	cfg.DB.Path = envOr(envDBPath, cfg.DB.Path)
	cfg.Auth.JWTSecret = envOr(envJWTSecret, cfg.Auth.JWTSecret)

	cfg.LLM.Provider = envOr(envLLMProvider, cfg.LLM.Provider)
	cfg.LLM.Azure.Endpoint = envOr(envAzureEndpoint, cfg.LLM.Azure.Endpoint)
	cfg.LLM.Azure.APIKey = envOr(envAzureAPIKey, cfg.LLM.Azure.APIKey)
	cfg.LLM.Azure.Deployment = envOr(envAzureDeploy, cfg.LLM.Azure.Deployment)
	cfg.LLM.Azure.EmbedDeployment = envOr(envAzureEmbed, cfg.LLM.Azure.EmbedDeployment)
	cfg.LLM.Azure.APIVersion = envOr(envAzureVersion, cfg.LLM.Azure.APIVersion)
	cfg.LLM.AWS.Region = envOr(envAWSRegion, cfg.LLM.AWS.Region)
	cfg.LLM.AWS.APIKey = envOr(envAWSAPIKey, cfg.LLM.AWS.APIKey)
	cfg.LLM.AWS.ModelID = envOr(envAWSModel, cfg.LLM.AWS.ModelID)
	cfg.LLM.AWS.EmbedModelID = envOr(envAWSEmbedModel, cfg.LLM.AWS.EmbedModelID)
	cfg.LLM.GCP.APIKey = envOr(envGCPAPIKey, cfg.LLM.GCP.APIKey)
	cfg.LLM.GCP.Model = envOr(envGCPModel, cfg.LLM.GCP.Model)
	cfg.LLM.GCP.EmbedModel = envOr(envGCPEmbedModel, cfg.LLM.GCP.EmbedModel)
	cfg.LLM.Local.BaseURL = envOr(envOllamaBaseURL, cfg.LLM.Local.BaseURL)
	cfg.LLM.Local.Model = envOr(envOllamaModel, cfg.LLM.Local.Model)
	cfg.LLM.Local.EmbedModel = envOr(envOllamaEmbed, cfg.LLM.Local.EmbedModel)
}

// Validate checks the fields every deployment needs. Provider-specific
// sub-configuration is validated by the LLM factory at construction time.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.DB.Path) == "" {
		return errors.New("db path cannot be empty")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return errors.New("JWT_SECRET is not set")
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be >= 1, got %d", c.LLM.Retry.MaxAttempts)
	}
	return nil
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}
