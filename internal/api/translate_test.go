package api

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zatxm/gemini-web2api/internal/conversation"
	"github.com/zatxm/gemini-web2api/internal/types"
)

func TestNormalizeMessagesStringContent(t *testing.T) {
	t.Parallel()

	history, images, err := normalizeMessages([]*types.ReqMessage{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	})
	require.NoError(t, err)
	assert.Empty(t, images)
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleText{Role: "system", Text: "be brief"}, history[0])
	assert.Equal(t, conversation.RoleText{Role: "user", Text: "hi"}, history[1])
}

func TestNormalizeMessagesDefaultsRole(t *testing.T) {
	t.Parallel()

	history, _, err := normalizeMessages([]*types.ReqMessage{{Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "user", history[0].Role)
}

func TestNormalizeMessagesTextParts(t *testing.T) {
	t.Parallel()

	history, images, err := normalizeMessages([]*types.ReqMessage{
		{Role: "user", Content: []interface{}{
			map[string]interface{}{"type": "text", "text": "line one"},
			map[string]interface{}{"type": "text", "text": "line two"},
		}},
	})
	require.NoError(t, err)
	assert.Empty(t, images)
	assert.Equal(t, "line one\nline two", history[0].Text)
}

func TestNormalizeMessagesDataURLImage(t *testing.T) {
	t.Parallel()

	raw := []byte{0x89, 0x50, 0x4e, 0x47}
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(raw)
	history, images, err := normalizeMessages([]*types.ReqMessage{
		{Role: "user", Content: []interface{}{
			map[string]interface{}{"type": "text", "text": "what is this"},
			map[string]interface{}{"type": "image_url", "image_url": map[string]interface{}{"url": dataURL}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "what is this", history[0].Text)
	require.Len(t, images, 1)
	assert.Equal(t, "image.png", images[0].name)
	assert.Equal(t, raw, images[0].data)
}

func TestNormalizeMessagesSkipsImagesInOlderTurns(t *testing.T) {
	t.Parallel()

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte("x"))
	_, images, err := normalizeMessages([]*types.ReqMessage{
		{Role: "user", Content: []interface{}{
			map[string]interface{}{"type": "image_url", "image_url": map[string]interface{}{"url": dataURL}},
		}},
		{Role: "assistant", Content: "a picture"},
		{Role: "user", Content: "thanks"},
	})
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestNormalizeMessagesUnsupportedContent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content interface{}
	}{
		{name: "number content", content: 42},
		{name: "unknown part type", content: []interface{}{
			map[string]interface{}{"type": "input_audio"},
		}},
		{name: "image part without url", content: []interface{}{
			map[string]interface{}{"type": "image_url"},
		}},
		{name: "bogus data url", content: []interface{}{
			map[string]interface{}{"type": "image_url", "image_url": map[string]interface{}{"url": "file:///etc/passwd"}},
		}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, _, err := normalizeMessages([]*types.ReqMessage{{Role: "user", Content: tc.content}})
			assert.ErrorIs(t, err, ErrUnsupportedContent)
		})
	}
}

func TestBuildPromptSingleTurn(t *testing.T) {
	t.Parallel()

	history := []conversation.RoleText{{Role: "user", Text: "hi"}}
	assert.Equal(t, "hi", buildPrompt(history, false))
}

func TestBuildPromptContinuingUsesLastTurnOnly(t *testing.T) {
	t.Parallel()

	history := []conversation.RoleText{
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hello"},
		{Role: "user", Text: "and then?"},
	}
	assert.Equal(t, "and then?", buildPrompt(history, true))
}

func TestBuildPromptReplaysHistoryWithRoles(t *testing.T) {
	t.Parallel()

	history := []conversation.RoleText{
		{Role: "system", Text: "be brief"},
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hello"},
		{Role: "user", Text: "and then?"},
	}
	want := "System: be brief\n\nUser: hi\n\nAssistant: hello\n\nUser: and then?"
	assert.Equal(t, want, buildPrompt(history, false))
}

func TestBuildPromptSkipsEmptyTurns(t *testing.T) {
	t.Parallel()

	history := []conversation.RoleText{
		{Role: "user", Text: ""},
		{Role: "assistant", Text: "hello"},
		{Role: "user", Text: "ok"},
	}
	assert.Equal(t, "Assistant: hello\n\nUser: ok", buildPrompt(history, false))
}
