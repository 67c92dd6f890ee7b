package spawner

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stoneforge-ai/stoneforge/internal/common/logger"
)

func TestExecHeadlessProvider_StartParsesAgentMessages(t *testing.T) {
	script := `read line
echo '{"type":"system_init","sessionId":"abc","data":{"providerSessionId":"prov-1"}}'
echo '{"type":"assistant_text","data":{"text":"working on it"}}'
echo '{"type":"result","data":{"isError":false}}'
`
	provider := NewExecHeadlessProvider("sh", []string{"-c", script}, logger.Default())

	handle, err := provider.Start(context.Background(), StartOptions{InitialPrompt: "do the thing"})
	require.NoError(t, err)
	defer handle.Close()

	var msgs []AgentMessage
	deadline := time.After(2 * time.Second)
	for len(msgs) < 3 {
		select {
		case m, ok := <-handle.Messages():
			if !ok {
				t.Fatalf("channel closed after %d messages", len(msgs))
			}
			msgs = append(msgs, m)
		case <-deadline:
			t.Fatalf("timed out waiting for messages, got %d", len(msgs))
		}
	}

	require.Equal(t, AgentMessageSystemInit, msgs[0].Type)
	require.Equal(t, AgentMessageAssistant, msgs[1].Type)
	require.Equal(t, "working on it", msgs[1].Data["text"])
	require.Equal(t, AgentMessageResult, msgs[2].Type)
	require.Equal(t, false, msgs[2].Data["isError"])
}

func TestExecHeadlessProvider_DropsMalformedAndUnknownLines(t *testing.T) {
	script := `read line
echo 'not json at all'
echo '{"type":"not_a_real_type"}'
echo '{"type":"result","data":{"isError":true}}'
`
	provider := NewExecHeadlessProvider("sh", []string{"-c", script}, logger.Default())

	handle, err := provider.Start(context.Background(), StartOptions{InitialPrompt: "go"})
	require.NoError(t, err)
	defer handle.Close()

	select {
	case m, ok := <-handle.Messages():
		require.True(t, ok)
		require.Equal(t, AgentMessageResult, m.Type)
		require.Equal(t, true, m.Data["isError"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for result message")
	}
}

func TestExecHeadlessProvider_MissingExecutableErrors(t *testing.T) {
	provider := NewExecHeadlessProvider("", nil, logger.Default())
	_, err := provider.Start(context.Background(), StartOptions{})
	require.Error(t, err)
}

func TestExecInteractiveProvider_MissingExecutableErrors(t *testing.T) {
	provider := NewExecInteractiveProvider("", nil, logger.Default())
	_, err := provider.Start(context.Background(), StartOptions{}, 80, 24)
	require.Error(t, err)
}
