package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://api.openai.com/v1/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// fakeGetter is a minimal paramstore.Getter stub for use within this package.
type fakeGetter struct {
	vals   map[string]string
	err    error
	onCall func() // optional; called on each GetParameter invocation
}

func (f *fakeGetter) GetParameter(_ context.Context, name string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	if f.err != nil {
		return "", f.err
	}
	return f.vals[name], nil
}

func defaultGetter() *fakeGetter {
	return &fakeGetter{vals: map[string]string{
		"/coder/open-ai-token":       `{"token":"sk-from-ssm"}`,
		"/coder/config/openai_model": "gpt-4o-mini",
	}}
}

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/coder")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(defaultGetter(), " ")
	require.Error(t, err)
}

func TestEnsureInit_FetchedOnFirstCallOnly(t *testing.T) {
	calls := 0
	g := defaultGetter()
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/coder")
	require.NoError(t, err)

	require.NoError(t, c.ensureInit(context.Background()))
	require.Equal(t, "sk-from-ssm", c.apiKey)
	require.Equal(t, "gpt-4o-mini", c.model)
	fetched := calls

	require.NoError(t, c.ensureInit(context.Background()))
	require.NoError(t, c.ensureInit(context.Background()))
	require.Equal(t, fetched, calls, "SSM must only be hit once per process lifetime")
}

func TestEnsureInit_ModelOption_SkipsSSMModelLookup(t *testing.T) {
	g := &fakeGetter{vals: map[string]string{"/coder/open-ai-token": `{"token":"sk"}`}}
	c, err := NewClient(g, "/coder", WithModel("gpt-4.1"))
	require.NoError(t, err)

	require.NoError(t, c.ensureInit(context.Background()))
	require.Equal(t, "gpt-4.1", c.model)
}

func TestEnsureInit_BadTokenPayload(t *testing.T) {
	g := &fakeGetter{vals: map[string]string{"/coder/open-ai-token": "not-json"}}
	c, err := NewClient(g, "/coder")
	require.NoError(t, err)
	require.Error(t, c.ensureInit(context.Background()))
}

func newTestServer(t *testing.T, status int, body string, capture *[]byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			buf, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			*capture = buf
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
}

func chatCompletion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"index": 0, "message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func TestComplete_HappyPath(t *testing.T) {
	var captured []byte
	srv := newTestServer(t, http.StatusOK, chatCompletion("hello there"), &captured)
	defer srv.Close()

	c, err := NewClient(defaultGetter(), "/coder", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	out, err := c.Complete(context.Background(), "you are a coder", "write hello world")
	require.NoError(t, err)
	require.Equal(t, "hello there", out)

	var req chatRequest
	require.NoError(t, json.Unmarshal(captured, &req))
	require.Equal(t, "gpt-4o-mini", req.Model)
	require.Len(t, req.Messages, 2)
	require.Equal(t, "system", req.Messages[0].Role)
	require.Equal(t, "user", req.Messages[1].Role)
	require.Nil(t, req.ResponseFormat)
}

func TestComplete_UpstreamStatusError(t *testing.T) {
	srv := newTestServer(t, http.StatusTooManyRequests, `{"error":"rate limited"}`, nil)
	defer srv.Close()

	c, err := NewClient(defaultGetter(), "/coder", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestComplete_NoChoices(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, `{"choices":[]}`, nil)
	defer srv.Close()

	c, err := NewClient(defaultGetter(), "/coder", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	_, err = c.Complete(context.Background(), "sys", "user")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no choices")
}

func TestCompleteStructured_HappyPath(t *testing.T) {
	var captured []byte
	srv := newTestServer(t, http.StatusOK, chatCompletion(`{"route":"code-generation"}`), &captured)
	defer srv.Close()

	c, err := NewClient(defaultGetter(), "/coder", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	var out struct {
		Route string `json:"route"`
	}
	schema := json.RawMessage(`{"type":"object","properties":{"route":{"type":"string"}},"required":["route"],"additionalProperties":false}`)
	require.NoError(t, c.CompleteStructured(context.Background(), "sys", "classify", "route_decision", schema, &out))
	require.Equal(t, "code-generation", out.Route)

	var req chatRequest
	require.NoError(t, json.Unmarshal(captured, &req))
	require.NotNil(t, req.ResponseFormat)
	require.Equal(t, "json_schema", req.ResponseFormat.Type)
	require.Equal(t, "route_decision", req.ResponseFormat.JSONSchema.Name)
	require.True(t, req.ResponseFormat.JSONSchema.Strict)
}

func TestCompleteStructured_MalformedOutput(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, chatCompletion(`not-json`), nil)
	defer srv.Close()

	c, err := NewClient(defaultGetter(), "/coder", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	var out struct {
		Route string `json:"route"`
	}
	err = c.CompleteStructured(context.Background(), "sys", "classify", "route_decision", json.RawMessage(`{}`), &out)
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode structured response")
}

func TestCompleteStructured_UnknownFieldRejected(t *testing.T) {
	srv := newTestServer(t, http.StatusOK, chatCompletion(`{"route":"end","extra":1}`), nil)
	defer srv.Close()

	c, err := NewClient(defaultGetter(), "/coder", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	require.NoError(t, err)

	var out struct {
		Route string `json:"route"`
	}
	err = c.CompleteStructured(context.Background(), "sys", "classify", "route_decision", json.RawMessage(`{}`), &out)
	require.Error(t, err)
}

func TestCompleteStructured_ValidatesSchemaArgs(t *testing.T) {
	c, err := NewClient(defaultGetter(), "/coder")
	require.NoError(t, err)

	var out struct{}
	require.Error(t, c.CompleteStructured(context.Background(), "s", "u", "", json.RawMessage(`{}`), &out))
	require.Error(t, c.CompleteStructured(context.Background(), "s", "u", "name", nil, &out))
}

func TestFetchAPIKey_Errors(t *testing.T) {
	_, err := fetchAPIKeyFromParamStore(context.Background(), nil, "/coder/open-ai-token")
	require.Error(t, err)

	g := &fakeGetter{err: errors.New("ssm down")}
	_, err = fetchAPIKeyFromParamStore(context.Background(), g, "/coder/open-ai-token")
	require.Error(t, err)

	g = &fakeGetter{vals: map[string]string{"/coder/open-ai-token": `{"token":""}`}}
	_, err = fetchAPIKeyFromParamStore(context.Background(), g, "/coder/open-ai-token")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}
