package provider

import "time"

// ExecutionRequest is a single prompt execution.
type ExecutionRequest struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Model        string   `json:"model,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    int      `json:"max_tokens,omitempty"`

	// Agent is the requesting agent name, used for logging only.
	Agent string `json:"agent,omitempty"`
}

// ExecutionResponse is the result of a completed execution.
type ExecutionResponse struct {
	Content      string        `json:"content"`
	Model        string        `json:"model,omitempty"`
	Provider     string        `json:"provider"`
	Duration     time.Duration `json:"duration"`
	Usage        *TokenUsage   `json:"usage,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

// TokenUsage holds token counts when the provider reports them.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Availability is the outcome of a provider health probe.
type Availability struct {
	Available bool          `json:"available"`
	Version   string        `json:"version,omitempty"`
	Latency   time.Duration `json:"latency"`
	CheckedAt time.Time     `json:"checked_at"`
	Error     string        `json:"error,omitempty"`
}
