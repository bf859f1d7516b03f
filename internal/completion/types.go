// Package completion is the client for the OpenAI-compatible chat
// completions endpoint every agent and the support assistant talk to.
package completion

// Message is one role-tagged entry of a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request describes a single completion call. History excludes the system
// turn, which the client prepends from System.
type Request struct {
	System    string
	History   []Message
	MaxTokens int
	// Fallback is returned when the provider answers without usable text.
	Fallback string
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []choice `json:"choices"`
}

type choice struct {
	Message struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
}

func (r *chatResponse) text() string {
	if len(r.Choices) == 0 || r.Choices[0].Message.Content == nil {
		return ""
	}
	return *r.Choices[0].Message.Content
}
