package agent

// StreamToken is one increment of a streamed answer. Tokens with Final
// false carry content only; the terminal token carries the aggregate
// token counts of the whole exchange.
type StreamToken struct {
	Content      string `json:"content"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
	Final        bool   `json:"finished"`
}

// Partial wraps one content increment.
func Partial(content string) StreamToken {
	return StreamToken{Content: content}
}

// Last is the terminal token emitted after the exchange is durably stored.
func Last(content string, inputTokens, outputTokens int) StreamToken {
	return StreamToken{Content: content, InputTokens: inputTokens, OutputTokens: outputTokens, Final: true}
}

// Empty terminates a stream that produced no content.
func Empty() StreamToken {
	return StreamToken{Final: true}
}
