package cloudgpt

// EstimateTokens is the crude chars/4 token estimate used for usage logs.
func EstimateTokens(text string) int64 {
	return int64(len(text)) / 4
}

// EstimateMessageTokens estimates the prompt size of a message list.
// Uses the approximation: ~4 chars per token + overhead per message.
func EstimateMessageTokens(messages []Message) int64 {
	var total int64
	for _, m := range messages {
		total += EstimateTokens(m.Text())
		// overhead per message (role, formatting)
		total += 4
	}
	// base overhead for the request
	total += 3
	return total
}

// lastUserText returns the text of the last user message.
func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Text()
		}
	}
	return ""
}
