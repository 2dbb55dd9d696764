package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models studioflow.yml.
type Config struct {
	Catalog struct {
		Phases []PhaseConfig `yaml:"phases"`
	} `yaml:"catalog"`
	Notifications Notifications `yaml:"notifications"`
}

type PhaseConfig struct {
	Key                  string         `yaml:"key"`
	Name                 string         `yaml:"name"`
	Description          string         `yaml:"description"`
	Icon                 string         `yaml:"icon"`
	RequiresClientAction bool           `yaml:"requires_client_action"`
	SystemPhase          bool           `yaml:"system_phase"`
	Actions              []ActionConfig `yaml:"actions"`
	Automation           *RuleConfig    `yaml:"automation"`
}

type ActionConfig struct {
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
	Required    bool   `yaml:"required"`
}

// RuleConfig seeds an all_actions_complete rule for a phase.
type RuleConfig struct {
	AutoAdvance  bool `yaml:"auto_advance"`
	AutoComplete bool `yaml:"auto_complete"`
	Active       bool `yaml:"active"`
}

type Notifications struct {
	SMTP     SMTPConfig      `yaml:"smtp"`
	Redis    RedisConfig     `yaml:"redis"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     string `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
}

type RedisConfig struct {
	URL     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Secret  string            `yaml:"secret"`
	Events  []string          `yaml:"events"`
	Headers map[string]string `yaml:"headers"`
	Enabled *bool             `yaml:"enabled"`
}

// PhaseCount is the fixed length of the delivery pipeline.
const PhaseCount = 8

// Load reads and validates config from workspace, falling back to defaults.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	phases := c.Catalog.Phases
	if len(phases) != PhaseCount {
		return fmt.Errorf("config.catalog.phases must define %d phases, got %d", PhaseCount, len(phases))
	}
	seenPhases := map[string]bool{}
	for i, p := range phases {
		if p.Key == "" {
			return fmt.Errorf("config.catalog.phases[%d].key is required", i)
		}
		if p.Name == "" {
			return fmt.Errorf("phase %s: name is required", p.Key)
		}
		if seenPhases[p.Key] {
			return fmt.Errorf("duplicate phase key %s", p.Key)
		}
		seenPhases[p.Key] = true
		seenActions := map[string]bool{}
		for j, a := range p.Actions {
			if a.Key == "" {
				return fmt.Errorf("phase %s: actions[%d].key is required", p.Key, j)
			}
			if seenActions[a.Key] {
				return fmt.Errorf("phase %s: duplicate action key %s", p.Key, a.Key)
			}
			seenActions[a.Key] = true
		}
		if p.Automation != nil && p.Automation.AutoComplete && i != len(phases)-1 {
			return fmt.Errorf("phase %s: auto_complete is only valid on the final phase", p.Key)
		}
	}
	for i, hook := range c.Notifications.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.notifications.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "studioflow.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `catalog:
  phases:
    - key: onboarding
      name: Onboarding
      description: "Kick-off questionnaire and brand assets"
      icon: "👋"
      requires_client_action: true
      actions:
        - key: complete_questionnaire
          description: "Complete the onboarding questionnaire"
          required: true
        - key: upload_brand_assets
          description: "Upload existing logos, fonts and brand guides"
      automation: {auto_advance: true, active: true}

    - key: ideation
      name: Ideation
      description: "Mood boards and creative direction"
      icon: "💡"
      requires_client_action: true
      actions:
        - key: approve_direction
          description: "Choose a creative direction"
          required: true
        - key: share_inspiration
          description: "Share inspiration references"
      automation: {auto_advance: true, active: true}

    - key: design
      name: Design
      description: "Concept design and iterations"
      icon: "🎨"
      requires_client_action: true
      actions:
        - key: review_concepts
          description: "Review the design concepts"
          required: true
      automation: {auto_advance: true, active: true}

    - key: review
      name: Review
      description: "Feedback rounds on the selected concept"
      icon: "🔍"
      requires_client_action: true
      actions:
        - key: submit_feedback
          description: "Submit consolidated feedback"
          required: true
        - key: schedule_call
          description: "Book a review call"
      automation: {auto_advance: true, active: true}

    - key: production
      name: Production
      description: "Final artwork and asset production"
      icon: "🛠️"
      actions:
        - key: confirm_specs
          description: "Confirm final formats and specifications"
          required: true
      automation: {auto_advance: true, active: true}

    - key: payment
      name: Payment
      description: "Final invoice settlement"
      icon: "💳"
      requires_client_action: true
      system_phase: true
      actions:
        - key: invoice_paid
          description: "Final invoice paid"
          required: true
      automation: {auto_advance: true, active: true}

    - key: signoff
      name: Sign-off
      description: "Formal acceptance of the deliverables"
      icon: "✍️"
      requires_client_action: true
      actions:
        - key: sign_acceptance
          description: "Sign the acceptance form"
          required: true
      automation: {auto_advance: true, active: true}

    - key: delivery
      name: Delivery
      description: "Handover of final files"
      icon: "📦"
      requires_client_action: true
      actions:
        - key: confirm_receipt
          description: "Confirm receipt of the final files"
          required: true
      automation: {auto_advance: true, auto_complete: false, active: true}

notifications:
  redis:
    channel: studioflow.phase
`
