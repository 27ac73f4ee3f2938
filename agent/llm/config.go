package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Retention-Router/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY"`
	Model              string        `envconfig:"MODEL"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" default:"800"`
	Temperature        float32       `envconfig:"TEMPERATURE" default:"0.3"`
	Timeout            time.Duration `envconfig:"TIMEOUT" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL"`
	SiteName           string        `envconfig:"SITE_NAME"`

	// Responder turns on model-written replies. Classification uses the model
	// whenever an API key is set.
	Responder bool `envconfig:"RESPONDER" default:"false"`

	ClassifierModel       string  `envconfig:"CLASSIFIER_MODEL"`
	IntakeModel           string  `envconfig:"INTAKE_MODEL"`
	RetentionModel        string  `envconfig:"RETENTION_MODEL"`
	ProcessorModel        string  `envconfig:"PROCESSOR_MODEL"`
	ClassifierTemperature float32 `envconfig:"CLASSIFIER_TEMPERATURE" default:"0"`
	RetentionTemperature  float32 `envconfig:"RETENTION_TEMPERATURE" default:"-1"`
}

// Enabled reports whether a model can be reached at all.
func (c Config) Enabled() bool {
	return strings.TrimSpace(c.APIKey) != "" && strings.TrimSpace(c.Model) != ""
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: openrouter api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: default model is required", contractx.ErrValidation)
	}
	return nil
}

func (c Config) OpenRouterFor(agentType contractx.AgentType) openrouterx.Config {
	modelName := strings.TrimSpace(c.Model)
	temp := c.Temperature

	override := func(name string) {
		if v := strings.TrimSpace(name); v != "" {
			modelName = v
		}
	}

	switch agentType {
	case contractx.AgentTypeClassifier:
		override(c.ClassifierModel)
		if c.ClassifierTemperature >= 0 {
			temp = c.ClassifierTemperature
		}
	case contractx.AgentTypeIntake:
		override(c.IntakeModel)
	case contractx.AgentTypeRetention:
		override(c.RetentionModel)
		if c.RetentionTemperature >= 0 {
			temp = c.RetentionTemperature
		}
	case contractx.AgentTypeProcessor:
		override(c.ProcessorModel)
	}

	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              modelName,
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        temp,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}
