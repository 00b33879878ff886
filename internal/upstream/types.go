package upstream

// Content part kinds used in Responses API input messages.
const (
	ContentInputText  = "input_text"
	ContentOutputText = "output_text"
)

// ResponseRequest is the streaming request body sent to /responses.
// https://platform.openai.com/docs/api-reference/responses/create
type ResponseRequest struct {
	Model    string            `json:"model"`
	Stream   bool              `json:"stream"`
	Input    []InputMessage    `json:"input"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// InputMessage is one role-tagged turn of Responses API input.
type InputMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// ContentPart is a single text block inside an InputMessage.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// TextMessage builds a single-part message.
func TextMessage(role, kind, text string) InputMessage {
	return InputMessage{Role: role, Content: []ContentPart{{Type: kind, Text: text}}}
}
