package cloudgpt_test

import (
	"encoding/json"
	"strings"
	"testing"

	cloudgpt "github.com/CloudCompile/cloudgptapi-sub000"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateMessages(t *testing.T) {
	parts := cloudgpt.Message{Role: "user", Content: json.RawMessage(`[{"type":"text","text":"hi"}]`)}
	toolCall := cloudgpt.Message{Role: "assistant", ToolCalls: json.RawMessage(`[{"id":"c1"}]`)}

	tests := []struct {
		name     string
		messages []cloudgpt.Message
		field    string
		rule     string
	}{
		{"empty", nil, "messages", cloudgpt.RuleMessageCount},
		{"too many", make([]cloudgpt.Message, cloudgpt.MaxMessages+1), "messages", cloudgpt.RuleMessageCount},
		{"bad role", []cloudgpt.Message{cloudgpt.TextMessage("user", "a"), cloudgpt.TextMessage("robot", "b")}, "messages[1].role", cloudgpt.RuleRole},
		{"bad content", []cloudgpt.Message{{Role: "user", Content: json.RawMessage(`42`)}}, "messages[0].content", cloudgpt.RuleContent},
		{"string ok", []cloudgpt.Message{cloudgpt.TextMessage("system", "s"), cloudgpt.TextMessage("user", "u")}, "", ""},
		{"parts ok", []cloudgpt.Message{parts}, "", ""},
		{"null content ok", []cloudgpt.Message{toolCall, {Role: "tool", Content: json.RawMessage(`null`), ToolCallID: "c1"}}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := cloudgpt.ValidateMessages(tt.messages)
			if tt.rule == "" {
				assert.True(t, res.OK, res.Reason)
				assert.NoError(t, res.Err())
				return
			}
			assert.False(t, res.OK)
			assert.Equal(t, tt.field, res.Field)
			assert.Equal(t, tt.rule, res.Rule)
		})
	}
}

func TestValidateMessages_RolesCheckedBeforeContent(t *testing.T) {
	res := cloudgpt.ValidateMessages([]cloudgpt.Message{
		{Role: "user", Content: json.RawMessage(`42`)},
		cloudgpt.TextMessage("narrator", "x"),
	})
	assert.Equal(t, cloudgpt.RuleRole, res.Rule)
}

func TestValidateMessages_LengthLimits(t *testing.T) {
	big := strings.Repeat("a", cloudgpt.MaxContentChars+1)
	res := cloudgpt.ValidateMessages([]cloudgpt.Message{cloudgpt.TextMessage("user", big)})
	assert.Equal(t, cloudgpt.RuleContent, res.Rule)

	chunk := strings.Repeat("a", cloudgpt.MaxContentChars)
	var msgs []cloudgpt.Message
	for i := 0; i < 6; i++ {
		msgs = append(msgs, cloudgpt.TextMessage("user", chunk))
	}
	res = cloudgpt.ValidateMessages(msgs)
	assert.Equal(t, cloudgpt.RuleTotalLength, res.Rule)
	assert.Equal(t, "messages", res.Field)
}

func TestValidationResult_Err(t *testing.T) {
	res := cloudgpt.ValidateMessages([]cloudgpt.Message{cloudgpt.TextMessage("bot", "x")})
	err := res.Err()
	require.ErrorIs(t, err, cloudgpt.ErrInvalidRequest)

	ge := cloudgpt.AsGatewayError(err)
	assert.Equal(t, 400, ge.Status)
	assert.Equal(t, cloudgpt.ErrTypeInvalidRequest, ge.Type)
	assert.Equal(t, "invalid_role", ge.Code)
	assert.Equal(t, "messages[0].role", ge.Param)
}

func TestValidateMediaRequest(t *testing.T) {
	reg := cloudgpt.DefaultRegistry()
	inpaint, ok := reg.Get("horde-inpaint")
	require.True(t, ok)
	seedance, ok := reg.Get("seedance")
	require.True(t, ok)

	assert.Equal(t, "prompt", cloudgpt.ValidateMediaRequest(cloudgpt.MediaRequest{Prompt: "  "}, seedance).Field)
	assert.Equal(t, "image_url", cloudgpt.ValidateMediaRequest(cloudgpt.MediaRequest{Prompt: "p"}, inpaint).Field)
	assert.Equal(t, "mask_url", cloudgpt.ValidateMediaRequest(cloudgpt.MediaRequest{Prompt: "p", ImageURL: "https://x/i.png"}, inpaint).Field)
	assert.True(t, cloudgpt.ValidateMediaRequest(cloudgpt.MediaRequest{Prompt: "p", ImageURL: "https://x/i.png", MaskURL: "https://x/m.png"}, inpaint).OK)

	assert.Equal(t, cloudgpt.RuleMediaDuration, cloudgpt.ValidateMediaRequest(cloudgpt.MediaRequest{Prompt: "p", Duration: 11}, seedance).Rule)
	assert.True(t, cloudgpt.ValidateMediaRequest(cloudgpt.MediaRequest{Prompt: "p", Duration: 10}, seedance).OK)
}

func TestMediaRequestDimensions(t *testing.T) {
	w, h := cloudgpt.MediaRequest{Size: "1024x768"}.Dimensions()
	assert.Equal(t, 1024, w)
	assert.Equal(t, 768, h)

	w, h = cloudgpt.MediaRequest{Size: "1024x768", Width: 512, Height: 512}.Dimensions()
	assert.Equal(t, 512, w)
	assert.Equal(t, 512, h)

	w, h = cloudgpt.MediaRequest{Size: "large"}.Dimensions()
	assert.Zero(t, w)
	assert.Zero(t, h)
}
