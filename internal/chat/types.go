// Package chat defines the OpenAI-compatible chat-completion wire types the
// harness exchanges with both the reference backend and the router, plus a
// small HTTP client for issuing completion requests.
package chat

import "strings"

// Message is a single role-tagged entry in a conversation.
type Message struct {
	// Role identifies the sender: "system", "user" or "assistant".
	Role string `json:"role" yaml:"role"`
	// Content is the text content of the message.
	Content string `json:"content" yaml:"content"`
	// ReasoningContent carries chain-of-thought text for models that expose
	// it. Only present on assistant messages in responses.
	ReasoningContent string `json:"reasoning_content,omitempty" yaml:"reasoning_content,omitempty"`
}

// Role constants for Message.Role.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is a chat-completion request. Sampling parameters use pointers so
// that unset values are omitted from the wire form instead of sending zeroes.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`

	Temperature       *float64 `json:"temperature,omitempty"`
	Seed              *int     `json:"seed,omitempty"`
	MaxTokens         int      `json:"max_tokens,omitempty"`
	TopK              *int     `json:"top_k,omitempty"`
	RepetitionPenalty *float64 `json:"repetition_penalty,omitempty"`

	// ChatTemplateKwargs is passed through opaquely; backends use it for
	// template switches such as disabling thinking mode.
	ChatTemplateKwargs map[string]any `json:"chat_template_kwargs,omitempty"`
}

// Choice is one generated alternative in a response.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

// Usage is the token accounting block returned alongside a completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a chat-completion response. Fields the harness never inspects
// are omitted; unknown fields are ignored on decode.
type Response struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// FirstMessage returns the message of the first choice, or a zero Message
// when the response carries no choices.
func (r *Response) FirstMessage() Message {
	if r == nil || len(r.Choices) == 0 {
		return Message{}
	}
	return r.Choices[0].Message
}

// FinalText derives the user-visible text of a message: the content field
// when non-blank, else the reasoning field, else empty.
func (m Message) FinalText() string {
	if strings.TrimSpace(m.Content) != "" {
		return m.Content
	}
	if strings.TrimSpace(m.ReasoningContent) != "" {
		return m.ReasoningContent
	}
	return ""
}
