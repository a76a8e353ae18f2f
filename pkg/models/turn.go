package models

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is a single message in a chat transcript.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ValidRole reports whether the turn carries a role the transcript understands.
func (t Turn) ValidRole() bool {
	return t.Role == RoleUser || t.Role == RoleAssistant
}

// ChatRequest is the body POSTed to the completion endpoint.
type ChatRequest struct {
	Message string `json:"message"`
	History []Turn `json:"history"`
}

// ChatResponse is the body returned by the completion endpoint.
// Exactly one of Response or Error is expected to be set.
type ChatResponse struct {
	Response string `json:"response,omitempty"`
	Error    string `json:"error,omitempty"`
}
