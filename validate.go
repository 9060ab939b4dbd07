package cloudgpt

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Message array limits.
const (
	MaxMessages          = 500
	MaxContentChars      = 2_000_000
	MaxTotalContentChars = 10_000_000
)

// Validation rule names.
const (
	RuleMessageCount  = "message_count"
	RuleRole          = "role"
	RuleContent       = "content"
	RuleTotalLength   = "total_length"
	RulePrompt        = "prompt"
	RuleMediaSource   = "media_source"
	RuleMediaDuration = "duration"
)

var validRoles = map[string]bool{
	"system":    true,
	"user":      true,
	"assistant": true,
	"function":  true,
	"tool":      true,
}

// ValidationResult is Ok or names the field and rule that failed.
type ValidationResult struct {
	OK     bool
	Field  string
	Rule   string
	Reason string
}

func valid() ValidationResult { return ValidationResult{OK: true} }

func invalid(field, rule, format string, args ...any) ValidationResult {
	return ValidationResult{Field: field, Rule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Err converts a failed result into an invalid_request_error. Nil when OK.
func (v ValidationResult) Err() error {
	if v.OK {
		return nil
	}
	ge := InvalidRequest("invalid_"+v.Rule, v.Field, v.Reason)
	ge.Err = ErrInvalidRequest
	ge.Suggestion = "Fix the " + v.Field + " field and resend the request."
	return ge
}

// ValidateMessages checks a chat message array. Rules are applied in order
// and the first failure is returned.
func ValidateMessages(messages []Message) ValidationResult {
	if len(messages) == 0 {
		return invalid("messages", RuleMessageCount, "messages must be a non-empty array")
	}
	if len(messages) > MaxMessages {
		return invalid("messages", RuleMessageCount, "messages has %d elements, maximum is %d", len(messages), MaxMessages)
	}

	for i, m := range messages {
		if !validRoles[m.Role] {
			return invalid(fmt.Sprintf("messages[%d].role", i), RuleRole,
				"role %q is not one of system, user, assistant, function, tool", m.Role)
		}
	}

	var total int
	for i, m := range messages {
		n, ok := contentLength(m)
		if !ok {
			return invalid(fmt.Sprintf("messages[%d].content", i), RuleContent,
				"content must be a string or an array of content parts")
		}
		if n > MaxContentChars {
			return invalid(fmt.Sprintf("messages[%d].content", i), RuleContent,
				"content is %d characters, maximum is %d", n, MaxContentChars)
		}
		total += n
	}

	if total > MaxTotalContentChars {
		return invalid("messages", RuleTotalLength,
			"total content is %d characters, maximum is %d", total, MaxTotalContentChars)
	}
	return valid()
}

func contentLength(m Message) (int, bool) {
	switch m.ContentKind() {
	case "null":
		return 0, true
	case "string":
		var s string
		if err := json.Unmarshal(m.Content, &s); err != nil {
			return 0, false
		}
		return utf8.RuneCountInString(s), true
	case "array":
		if !json.Valid(m.Content) {
			return 0, false
		}
		return utf8.RuneCount(m.Content), true
	default:
		return 0, false
	}
}

// ValidatePrompt checks the model-independent part of a media request.
func ValidatePrompt(req MediaRequest) ValidationResult {
	if strings.TrimSpace(req.Prompt) == "" {
		return invalid("prompt", RulePrompt, "prompt is required")
	}
	return valid()
}

// ValidateMediaRequest checks an image or video request against its model.
func ValidateMediaRequest(req MediaRequest, m Model) ValidationResult {
	if res := ValidatePrompt(req); !res.OK {
		return res
	}
	if m.RequiresMask {
		if strings.TrimSpace(req.ImageURL) == "" {
			return invalid("image_url", RuleMediaSource, "model %s requires image_url", m.ID)
		}
		if strings.TrimSpace(req.MaskURL) == "" {
			return invalid("mask_url", RuleMediaSource, "model %s requires mask_url", m.ID)
		}
	}
	if m.MaxDuration > 0 && req.Duration > m.MaxDuration {
		return invalid("duration", RuleMediaDuration, "model %s supports at most %d seconds", m.ID, m.MaxDuration)
	}
	return valid()
}
