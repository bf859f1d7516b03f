//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSupportChatMintsSession(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/support/chat", map[string]string{"message": "help"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "support: help", body["reply"])
	minted, _ := body["sessionId"].(string)
	assert.Len(t, minted, 36)

	resp, body = ts.do(t, http.MethodPost, "/api/support/chat", map[string]string{"message": "again", "sessionId": minted}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, minted, body["sessionId"])
	_, sessions := ts.chat.snapshot()
	assert.Equal(t, []string{minted, minted}, sessions)
}

func TestSupportChatRejects(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/api/support/chat", map[string]string{"sessionId": "abc"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Message is required", body["error"])

	ts.chat.setErr(errors.New("provider down"))
	resp, body = ts.do(t, http.MethodPost, "/api/support/chat", map[string]string{"message": "help"}, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "Failed to get support response", body["error"])
}
