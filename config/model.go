package config

type ModelConfig struct {
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`

	// Provider selects the default model backend, "anthropic" or "openai".
	Provider string `env:"MODEL_PROVIDER"`
	Model    string `env:"MODEL_NAME"`
}

func NewModelConfig() *ModelConfig {
	return &ModelConfig{
		Provider: "anthropic",
	}
}

func ResolveModelConfig(testing bool) (*ModelConfig, error) {
	conf := NewModelConfig()
	return conf, resolveConfig(conf, testing)
}
