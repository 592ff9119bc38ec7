package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config models idealine.yml.
type Config struct {
	Triage     TriageConfig           `yaml:"triage" toml:"triage"`
	Classifier ClassifierConfig       `yaml:"classifier" toml:"classifier"`
	Agents     map[string]AgentConfig `yaml:"agents" toml:"agents"`
	Skills     struct {
		Dir string `yaml:"dir" toml:"dir"`
	} `yaml:"skills" toml:"skills"`
	Areas    []AreaConfig    `yaml:"areas" toml:"areas"`
	Webhooks []WebhookConfig `yaml:"webhooks" toml:"webhooks"`
}

type TriageConfig struct {
	ReviewThreshold   float64 `yaml:"review_threshold" toml:"review_threshold"`
	DefaultConfidence float64 `yaml:"default_confidence" toml:"default_confidence"`
	InputPreviewChars int     `yaml:"input_preview_chars" toml:"input_preview_chars"`
	KnowledgeLimit    int     `yaml:"knowledge_limit" toml:"knowledge_limit"`
	AutoDecompose     bool    `yaml:"auto_decompose" toml:"auto_decompose"`
}

type ClassifierConfig struct {
	TimeoutSeconds   int              `yaml:"timeout_seconds" toml:"timeout_seconds"`
	MaxRetries       int              `yaml:"max_retries" toml:"max_retries"`
	InitialBackoffMS int              `yaml:"initial_backoff_ms" toml:"initial_backoff_ms"`
	MaxBackoffMS     int              `yaml:"max_backoff_ms" toml:"max_backoff_ms"`
	Providers        []ProviderConfig `yaml:"providers" toml:"providers"`
}

// ProviderConfig describes one text-completion backend. Providers are tried in order.
type ProviderConfig struct {
	Type        string  `yaml:"type" toml:"type"`
	Model       string  `yaml:"model" toml:"model"`
	BaseURL     string  `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env,omitempty" toml:"api_key_env,omitempty"`
	Temperature float32 `yaml:"temperature,omitempty" toml:"temperature,omitempty"`
}

type AgentConfig struct {
	Name       string   `yaml:"name" toml:"name"`
	Categories []string `yaml:"categories" toml:"categories"`
	Keywords   []string `yaml:"keywords,omitempty" toml:"keywords,omitempty"`
	Skills     []string `yaml:"skills" toml:"skills"`
	// Suggestable agents may be proposed by the classifier; others are only
	// reachable through an explicit execute request.
	Suggestable *bool `yaml:"suggestable,omitempty" toml:"suggestable,omitempty"`
}

type AreaConfig struct {
	Name        string `yaml:"name" toml:"name"`
	Description string `yaml:"description,omitempty" toml:"description,omitempty"`
	Horizon     string `yaml:"horizon,omitempty" toml:"horizon,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" toml:"url"`
	Events         []string `yaml:"events,omitempty" toml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty" toml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" toml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" toml:"enabled,omitempty"`
}

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	t := c.Triage
	if t.ReviewThreshold < 0 || t.ReviewThreshold > 1 {
		return fmt.Errorf("config.triage.review_threshold must be within [0,1]")
	}
	if t.DefaultConfidence < 0 || t.DefaultConfidence > 1 {
		return fmt.Errorf("config.triage.default_confidence must be within [0,1]")
	}
	if t.InputPreviewChars <= 0 {
		return fmt.Errorf("config.triage.input_preview_chars must be positive")
	}
	if t.KnowledgeLimit < 0 {
		return fmt.Errorf("config.triage.knowledge_limit must not be negative")
	}
	cl := c.Classifier
	if cl.TimeoutSeconds <= 0 {
		return fmt.Errorf("config.classifier.timeout_seconds must be positive")
	}
	if cl.MaxRetries < 0 {
		return fmt.Errorf("config.classifier.max_retries must not be negative")
	}
	if cl.InitialBackoffMS < 0 || cl.MaxBackoffMS < 0 {
		return fmt.Errorf("config.classifier backoff values must not be negative")
	}
	for i, p := range cl.Providers {
		switch p.Type {
		case ProviderGemini:
		case ProviderOpenAI:
			if strings.TrimSpace(p.BaseURL) == "" {
				return fmt.Errorf("config.classifier.providers[%d].base_url is required for openai providers", i)
			}
		default:
			return fmt.Errorf("config.classifier.providers[%d].type must be gemini or openai", i)
		}
		if strings.TrimSpace(p.Model) == "" {
			return fmt.Errorf("config.classifier.providers[%d].model is required", i)
		}
	}
	if len(c.Agents) == 0 {
		return fmt.Errorf("config.agents is required")
	}
	claimed := map[string]string{}
	for key, agent := range c.Agents {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("config.agents contains empty agent key")
		}
		if strings.TrimSpace(agent.Name) == "" {
			return fmt.Errorf("agent %s has empty name", key)
		}
		for _, skill := range agent.Skills {
			if strings.TrimSpace(skill) == "" {
				return fmt.Errorf("agent %s has empty skill reference", key)
			}
		}
		for _, cat := range agent.Categories {
			if other, ok := claimed[cat]; ok {
				return fmt.Errorf("category %s is mapped to both %s and %s", cat, other, key)
			}
			claimed[cat] = key
		}
	}
	seen := map[string]bool{}
	for _, a := range c.Areas {
		if strings.TrimSpace(a.Name) == "" {
			return fmt.Errorf("config.areas contains empty name")
		}
		if seen[a.Name] {
			return fmt.Errorf("config.areas contains duplicate %s", a.Name)
		}
		seen[a.Name] = true
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "idealine.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads config from the given path; .toml files are parsed as TOML, anything else as YAML.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

// CanSuggest reports whether the classifier may propose this agent.
func (a AgentConfig) CanSuggest() bool {
	return a.Suggestable == nil || *a.Suggestable
}

const defaultTemplate = `triage:
  review_threshold: 0.6
  default_confidence: 0.5
  input_preview_chars: 200
  knowledge_limit: 20
  auto_decompose: true

classifier:
  timeout_seconds: 30
  max_retries: 2
  initial_backoff_ms: 500
  max_backoff_ms: 5000
  providers:
    - type: gemini
      model: gemini-2.0-flash
      api_key_env: GEMINI_API_KEY
      temperature: 0.3
    - type: openai
      model: llama3.1
      base_url: http://localhost:11434/v1

agents:
  staffing:
    name: "Staffing Agent - staffing and shift planning"
    categories: [Operaciones]
    keywords: [dotacion, personal, turnos, roster, headcount, shift]
    skills: [customizable/create-staffing-plan.md, core/model-staffing-requirements.md]
  training:
    name: "Training Agent - training plans and curricula"
    categories: [Capacitacion]
    keywords: [capacitacion, entrenamiento, training, certificacion]
    skills: [customizable/create-training-plan.md]
  finance:
    name: "Finance Agent - OPEX budget analysis"
    categories: [Finanzas]
    keywords: [presupuesto, opex, budget, costos]
    skills: [core/model-opex-budget.md]
  compliance:
    name: "Compliance Agent - regulatory compliance audits"
    categories: [Contratos, HSE]
    keywords: [cumplimiento, compliance, auditoria, legal]
    skills: [core/audit-compliance-readiness.md]
  gtd:
    name: "GTD Agent - classification and next-action coaching"
    categories: []
    suggestable: false
    skills: [core/classify-idea.md, core/decompose-project.md, core/identify-next-action.md, core/weekly-review.md]

skills:
  dir: skills

areas:
  - name: Operaciones
    horizon: H2
  - name: HSE
    horizon: H2
  - name: Finanzas
    horizon: H2
  - name: Contratos
    horizon: H2
  - name: Ejecucion
    horizon: H2
  - name: Gestion de Activos
    horizon: H2
  - name: Capacitacion
    horizon: H2
`
