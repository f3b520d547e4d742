package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"galaxy-chat/internal/llm"
)

func sseServer(t *testing.T, events []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, true, body["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			fmt.Fprintf(w, "data: %s\n\n", e)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamCollectsDeltasFinishAndUsage(t *testing.T) {
	srv := sseServer(t, []string{
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":"Hi"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":" there"}}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`{"id":"1","object":"chat.completion.chunk","choices":[],"usage":{"prompt_tokens":5,"completion_tokens":2,"total_tokens":7}}`,
	})
	defer srv.Close()

	p := New(Config{APIKey: "test-key", BaseURL: srv.URL + "/"})
	s, err := p.Stream(context.Background(), llm.Request{
		Model: "gpt-4o",
		Turns: []llm.Turn{{Role: llm.RoleUser, Content: "Hello"}},
	})
	require.NoError(t, err)
	defer s.Close()

	var text strings.Builder
	var finish string
	var usage *llm.Usage
	for {
		c, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		text.WriteString(c.Delta)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
		if c.Usage != nil {
			usage = c.Usage
		}
	}

	require.Equal(t, "Hi there", text.String())
	require.Equal(t, "stop", finish)
	require.NotNil(t, usage)
	require.Equal(t, 7, usage.TotalTokens)
}

func TestStreamUpstreamErrorIsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	p := New(Config{APIKey: "test-key", BaseURL: srv.URL})
	_, err := p.Stream(context.Background(), llm.Request{
		Model: "gpt-4o",
		Turns: []llm.Turn{{Role: llm.RoleUser, Content: "Hello"}},
	})

	var statusErr *llm.StatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestToMessagesImageParts(t *testing.T) {
	msgs := toMessages([]llm.Turn{
		{Role: llm.RoleSystem, Content: "sys"},
		{Role: llm.RoleUser, Content: "what is this", Images: []string{"https://x/cat.png"}},
	})

	require.Len(t, msgs, 2)
	require.Equal(t, "sys", msgs[0].Content)
	require.Empty(t, msgs[1].Content)
	require.Len(t, msgs[1].MultiContent, 2)
	require.Equal(t, "https://x/cat.png", msgs[1].MultiContent[1].ImageURL.URL)
}
