// Package types provides the core types shared across mentor.
// This package has ZERO dependencies on other mentor packages to avoid
// circular imports. All other packages should import types from here.
package types

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ContentKind discriminates the variants of a ContentPart.
type ContentKind string

const (
	ContentText        ContentKind = "text"
	ContentImageURL    ContentKind = "image_url"
	ContentImageInline ContentKind = "image_inline"
)

// ContentPart is one piece of multimodal message content. Exactly one of the
// payload fields is meaningful for a given Kind.
type ContentPart struct {
	Kind ContentKind `json:"kind"`
	Text string      `json:"text,omitempty"`
	URL  string      `json:"url,omitempty"`
	Data string      `json:"data,omitempty"` // base64 encoded
	MIME string      `json:"mime,omitempty"`
}

// Message represents a conversation message. Content carries plain text;
// Parts, when non-empty, carries multimodal content and takes precedence.
type Message struct {
	Role    Role          `json:"role"`
	Content string        `json:"content,omitempty"`
	Parts   []ContentPart `json:"parts,omitempty"`
}

// NewMessage creates a new message with the given role and text content.
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return NewMessage(RoleSystem, content)
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return NewMessage(RoleAssistant, content)
}

// TextPart creates a plain text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Kind: ContentText, Text: text}
}

// ImageURLPart creates a remote image content part.
func ImageURLPart(url string) ContentPart {
	return ContentPart{Kind: ContentImageURL, URL: url}
}

// ImageInlinePart creates an inline base64 image content part.
func ImageInlinePart(data, mime string) ContentPart {
	return ContentPart{Kind: ContentImageInline, Data: data, MIME: mime}
}

// WithParts attaches multimodal parts to the message.
func (m Message) WithParts(parts ...ContentPart) Message {
	m.Parts = parts
	return m
}
