package anthropic

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageContentStringForm(t *testing.T) {
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(`{"role":"user","content":"hi"}`), &msg))

	assert.True(t, msg.Content.IsText())
	assert.Equal(t, "hi", msg.Content.Text)

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"user","content":"hi"}`, string(out))
}

func TestMessageContentBlockForm(t *testing.T) {
	raw := `{"role":"user","content":[
		{"type":"text","text":"look at this"},
		{"type":"image","source":{"type":"base64","media_type":"image/png","data":"aWJt"}}
	]}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	require.False(t, msg.Content.IsText())
	require.Len(t, msg.Content.Blocks, 2)
	assert.Equal(t, BlockTypeText, msg.Content.Blocks[0].Type)
	assert.Equal(t, "look at this", msg.Content.Blocks[0].Text)
	assert.Equal(t, BlockTypeImage, msg.Content.Blocks[1].Type)
	require.NotNil(t, msg.Content.Blocks[1].Source)
	assert.Equal(t, "image/png", msg.Content.Blocks[1].Source.MediaType)
}

func TestMessageContentRejectsOtherShapes(t *testing.T) {
	var msg Message
	err := json.Unmarshal([]byte(`{"role":"user","content":42}`), &msg)
	assert.Error(t, err)
}

func TestSystemPromptBothForms(t *testing.T) {
	var req MessagesRequest
	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","max_tokens":1,"messages":[],"system":"be brief"}`), &req))
	require.Len(t, req.System, 1)
	assert.Equal(t, "be brief", req.System[0].Text)

	require.NoError(t, json.Unmarshal([]byte(`{"model":"m","max_tokens":1,"messages":[],"system":[{"type":"text","text":"a"},{"type":"text","text":"b"}]}`), &req))
	require.Len(t, req.System, 2)
	assert.Equal(t, "b", req.System[1].Text)
}

func TestToolUseBlockParsing(t *testing.T) {
	raw := `{"role":"assistant","content":[
		{"type":"tool_use","id":"tu_1","name":"get_weather","input":{"city":"Paris"}}
	]}`

	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))

	block := msg.Content.Blocks[0]
	assert.Equal(t, BlockTypeToolUse, block.Type)
	assert.Equal(t, "tu_1", block.ID)
	assert.Equal(t, "get_weather", block.Name)
	assert.JSONEq(t, `{"city":"Paris"}`, string(block.Input))
}

func TestNormalizeCapsThinkingBudget(t *testing.T) {
	req := MessagesRequest{Thinking: &Thinking{Type: "enabled", BudgetTokens: 100000}}
	req.Normalize()
	assert.Equal(t, MaxThinkingBudgetTokens, req.Thinking.BudgetTokens)

	req = MessagesRequest{Thinking: &Thinking{Type: "enabled", BudgetTokens: 512}}
	req.Normalize()
	assert.Equal(t, 512, req.Thinking.BudgetTokens)
}

func TestErrorResponseShape(t *testing.T) {
	out, err := json.Marshal(AuthenticationError())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","error":{"type":"authentication_error","message":"Invalid API key"}}`, string(out))
}
