package config

import "time"

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Provider string
}

// LLMCallConfig represents the retry and throttling parameters applied to
// every reasoning-service call
type LLMCallConfig struct {
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	BackoffJitter time.Duration
	MinInterval   time.Duration
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// DecisionConfig represents the decision engine thresholds
type DecisionConfig struct {
	DraftAutoThreshold      float64
	ReviewTaskThreshold     float64
	ReviewThreshold         float64
	DraftMinFinalScore      float64
	MaxBehaviorInfluence    float64
	FullBehaviorAtSamples   int
	LowSampleInvariantLimit int
	ClearIgnoreConfidence   float64
	MutedDomains            []string
}

// RetryConfig represents the retry queue parameters
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	BatchSize   int
	Interval    time.Duration
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Provider: c.GetString("llm.provider"),
	}
}

// GetLLMCall returns the reasoning-service call configuration
func (c *Config) GetLLMCall() (LLMCallConfig, error) {
	backoffBase, err := c.GetDuration("llm.backoff_base")
	if err != nil {
		return LLMCallConfig{}, err
	}
	backoffMax, err := c.GetDuration("llm.backoff_max")
	if err != nil {
		return LLMCallConfig{}, err
	}
	backoffJitter, err := c.GetDuration("llm.backoff_jitter")
	if err != nil {
		return LLMCallConfig{}, err
	}
	minInterval, err := c.GetDuration("llm.min_interval")
	if err != nil {
		return LLMCallConfig{}, err
	}
	return LLMCallConfig{
		MaxAttempts:   c.GetInt("llm.max_attempts"),
		BackoffBase:   backoffBase,
		BackoffMax:    backoffMax,
		BackoffJitter: backoffJitter,
		MinInterval:   minInterval,
	}, nil
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetDecision returns the decision engine configuration
func (c *Config) GetDecision() DecisionConfig {
	return DecisionConfig{
		DraftAutoThreshold:      c.GetFloat64("decision.draft_auto_threshold"),
		ReviewTaskThreshold:     c.GetFloat64("decision.review_task_threshold"),
		ReviewThreshold:         c.GetFloat64("decision.review_threshold"),
		DraftMinFinalScore:      c.GetFloat64("decision.draft_min_final_score"),
		MaxBehaviorInfluence:    c.GetFloat64("decision.max_behavior_influence"),
		FullBehaviorAtSamples:   c.GetInt("decision.full_behavior_at_samples"),
		LowSampleInvariantLimit: c.GetInt("decision.low_sample_invariant_limit"),
		ClearIgnoreConfidence:   c.GetFloat64("decision.clear_ignore_confidence"),
		MutedDomains:            c.GetStringSlice("decision.muted_domains"),
	}
}

// GetRetry returns the retry queue configuration
func (c *Config) GetRetry() (RetryConfig, error) {
	baseDelay, err := c.GetDuration("retry.base_delay")
	if err != nil {
		return RetryConfig{}, err
	}
	maxDelay, err := c.GetDuration("retry.max_delay")
	if err != nil {
		return RetryConfig{}, err
	}
	interval, err := c.GetDuration("retry.interval")
	if err != nil {
		return RetryConfig{}, err
	}
	return RetryConfig{
		MaxAttempts: c.GetInt("retry.max_attempts"),
		BaseDelay:   baseDelay,
		MaxDelay:    maxDelay,
		BatchSize:   c.GetInt("retry.batch_size"),
		Interval:    interval,
	}, nil
}
