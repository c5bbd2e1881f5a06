// Package message defines the provider-neutral chat message representation
// exchanged between the orchestration layer and provider clients.
package message

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single chat turn. Provider clients convert these into their
// SDK-specific request shapes.
type Message struct {
	Role    Role
	Content string
}

// System creates a system message.
func System(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// User creates a user message.
func User(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// TokenUsage carries token accounting reported by a provider for one call.
// Providers that do not report usage leave the fields zero.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns the combined input and output token count.
func (u TokenUsage) Total() int {
	return u.InputTokens + u.OutputTokens
}
