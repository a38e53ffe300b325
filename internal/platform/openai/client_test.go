package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/heimdex/heimdex-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, baseURL string) *client {
	t.Helper()
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", baseURL)
	t.Setenv("OPENAI_MAX_RETRIES", "2")
	t.Setenv("OPENAI_TIMEOUT_SECONDS", "5")

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	c, err := NewClient(log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c.(*client)
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	if _, err := NewClient(log); err == nil {
		t.Fatal("expected error for missing OPENAI_API_KEY")
	}
}

func TestNewClientDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", "https://proxy.example.com/")
	t.Setenv("OPENAI_EMBED_MODEL", "")
	t.Setenv("OPENAI_MODEL", "")

	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	got, err := NewClient(log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c := got.(*client)
	if c.baseURL != "https://proxy.example.com" {
		t.Fatalf("baseURL: want trailing slash trimmed, got %q", c.baseURL)
	}
	if c.embedModel != "text-embedding-3-small" {
		t.Fatalf("embedModel default: got %q", c.embedModel)
	}
	if got.EmbedModel() != c.embedModel {
		t.Fatalf("EmbedModel(): want %q got %q", c.embedModel, got.EmbedModel())
	}
	if c.temperature == nil || *c.temperature != 0.2 {
		t.Fatalf("temperature default: got %v", c.temperature)
	}
}

func TestNewClientTemperatureOff(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_TEMPERATURE", "off")

	log, _ := logger.New("development")
	got, err := NewClient(log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	c := got.(*client)
	if !c.disableTemperature || c.temperature != nil {
		t.Fatalf("temperature=off: want disabled, got disable=%v ptr=%v", c.disableTemperature, c.temperature)
	}
}

func TestEmbedAssemblesByIndex(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req embeddingsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 3 {
			t.Errorf("input length: want=3 got=%d", len(req.Input))
		}
		if req.Input[1] != " " {
			t.Errorf("blank input placeholder: want %q got %q", " ", req.Input[1])
		}
		// Out-of-order indices exercise index-keyed assembly.
		_, _ = io.WriteString(w, `{"data":[
			{"embedding":[0.5,0.6],"index":2},
			{"embedding":[0.1,0.2],"index":0},
			{"embedding":[0.3,0.4],"index":1}
		]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vecs, err := c.Embed(context.Background(), []string{"first", "", "third"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("auth header: got %q", gotAuth)
	}
	if len(vecs) != 3 {
		t.Fatalf("vectors: want=3 got=%d", len(vecs))
	}
	if vecs[0][0] != 0.1 || vecs[2][1] != 0.6 {
		t.Fatalf("index assembly wrong: %v", vecs)
	}
}

func TestEmbedRetriesOnceOnMissingIndices(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Missing index 1 and fewer rows than requested: not repairable positionally.
			_, _ = io.WriteString(w, `{"data":[{"embedding":[0.1],"index":0}]}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"embedding":[0.1],"index":0},{"embedding":[0.2],"index":1}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vecs, err := c.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls: want=2 got=%d", got)
	}
	if vecs[1][0] != 0.2 {
		t.Fatalf("second vector: got %v", vecs[1])
	}
}

func TestEmbedEmptyInputShortCircuits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for empty input")
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	vecs, err := c.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 0 {
		t.Fatalf("want empty result, got %v", vecs)
	}
}

func TestDoWithClientRetriesRetryableStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error":{"message":"rate limited"}}`)
			return
		}
		_, _ = io.WriteString(w, `{"data":[{"embedding":[1],"index":0}]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.Embed(context.Background(), []string{"x"}); err != nil {
		t.Fatalf("Embed after retry: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls: want=2 got=%d", got)
	}
}

func TestDoWithClientDoesNotRetryBadRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"message":"bad input"}}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.Embed(context.Background(), []string{"x"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "openai http 400") {
		t.Fatalf("error: got %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls: want=1 got=%d", got)
	}
}

func responsesJSONBody(text string) string {
	b, _ := json.Marshal(text)
	return `{"output":[{"type":"message","role":"assistant","content":[{"type":"output_text","text":` + string(b) + `}]}],"usage":{"input_tokens":12,"output_tokens":8}}`
}

func TestGenerateJSONParsesStructuredOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req map[string]any
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		text, _ := req["text"].(map[string]any)
		format, _ := text["format"].(map[string]any)
		if format["type"] != "json_schema" || format["strict"] != true {
			t.Errorf("format: want strict json_schema, got %v", format)
		}
		_, _ = io.WriteString(w, responsesJSONBody(`{"verdict":"ok","count":3}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	obj, err := c.GenerateJSON(context.Background(), "sys", "user", "test_schema", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("GenerateJSON: %v", err)
	}
	if obj["verdict"] != "ok" {
		t.Fatalf("parsed object: got %v", obj)
	}
}

func TestGenerateJSONRequiresSchema(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0")
	if _, err := c.GenerateJSON(context.Background(), "s", "u", "", map[string]any{}); err == nil {
		t.Fatal("expected error for empty schema name")
	}
	if _, err := c.GenerateJSON(context.Background(), "s", "u", "name", nil); err == nil {
		t.Fatal("expected error for nil schema")
	}
}

func TestGenerateJSONRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"output":[],"refusal":"cannot comply"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GenerateJSON(context.Background(), "s", "u", "name", map[string]any{"type": "object"})
	if err == nil || !strings.Contains(err.Error(), "model refused") {
		t.Fatalf("want refusal error, got %v", err)
	}
}

func TestGenerateJSONTemperatureFallback(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(raw, &req)
		bodies = append(bodies, req)
		if _, hasTemp := req["temperature"]; hasTemp {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = io.WriteString(w, `{"error":{"message":"Unsupported parameter: 'temperature' is not supported with this model."}}`)
			return
		}
		_, _ = io.WriteString(w, responsesJSONBody(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	if _, err := c.GenerateJSON(context.Background(), "s", "u", "name", map[string]any{"type": "object"}); err != nil {
		t.Fatalf("GenerateJSON with fallback: %v", err)
	}
	if len(bodies) != 2 {
		t.Fatalf("requests: want=2 got=%d", len(bodies))
	}
	if _, hasTemp := bodies[1]["temperature"]; hasTemp {
		t.Fatal("second request must omit temperature")
	}

	// The rejection is learned: the next call omits temperature up front.
	if _, err := c.GenerateJSON(context.Background(), "s", "u", "name", map[string]any{"type": "object"}); err != nil {
		t.Fatalf("GenerateJSON after learning: %v", err)
	}
	if len(bodies) != 3 {
		t.Fatalf("requests: want=3 got=%d", len(bodies))
	}
	if _, hasTemp := bodies[2]["temperature"]; hasTemp {
		t.Fatal("learned model must not receive temperature")
	}
}

func TestGenerateJSONWithImagesBuildsContentParts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var req struct {
			Input []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"input"`
		}
		if err := json.Unmarshal(raw, &req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if len(req.Input) != 2 {
			t.Fatalf("input turns: want=2 got=%d", len(req.Input))
		}
		var parts []map[string]any
		if err := json.Unmarshal(req.Input[1].Content, &parts); err != nil {
			t.Fatalf("user content must be a part array: %v", err)
		}
		if len(parts) != 2 || parts[0]["type"] != "input_text" || parts[1]["type"] != "input_image" {
			t.Fatalf("content parts: got %v", parts)
		}
		_, _ = io.WriteString(w, responsesJSONBody(`{"ok":true}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.GenerateJSONWithImages(context.Background(), "s", "u",
		[]ImageInput{{ImageURL: "data:image/jpeg;base64,AAAA"}},
		"name", map[string]any{"type": "object"})
	if err != nil {
		t.Fatalf("GenerateJSONWithImages: %v", err)
	}
}

func TestParseNoTempModelRules(t *testing.T) {
	models, prefixes := parseNoTempModelRules("o1-*, gpt-5, O3-* ,")
	if !models["gpt-5"] {
		t.Fatalf("exact rule missing: %v", models)
	}
	if len(prefixes) != 2 || prefixes[0] != "o1" || prefixes[1] != "o3" {
		t.Fatalf("prefix rules: got %v", prefixes)
	}
}

func TestIsUnsupportedTemperatureMessage(t *testing.T) {
	cases := []struct {
		msg  string
		want bool
	}{
		{"Unsupported parameter: 'temperature'", true},
		{"temperature does not support 0.2 with this model", true},
		{"Unsupported parameter: 'top_p'", false},
		{"rate limited", false},
		{"", false},
	}
	for _, c := range cases {
		if got := isUnsupportedTemperatureMessage(c.msg); got != c.want {
			t.Fatalf("isUnsupportedTemperatureMessage(%q): want=%v got=%v", c.msg, c.want, got)
		}
	}
}

func TestExtractUsageFromRaw(t *testing.T) {
	in, out := extractUsageFromRaw([]byte(`{"usage":{"input_tokens":7,"output_tokens":3}}`))
	if in != 7 || out != 3 {
		t.Fatalf("responses usage: got in=%d out=%d", in, out)
	}
	in, out = extractUsageFromRaw([]byte(`{"usage":{"prompt_tokens":11,"completion_tokens":5}}`))
	if in != 11 || out != 5 {
		t.Fatalf("chat usage: got in=%d out=%d", in, out)
	}
	in, out = extractUsageFromRaw([]byte(`{"data":[]}`))
	if in != 0 || out != 0 {
		t.Fatalf("missing usage: got in=%d out=%d", in, out)
	}
}

func TestStatusFromRespErr(t *testing.T) {
	if got := statusFromRespErr(nil, &openAIHTTPError{StatusCode: 502}); got != "502" {
		t.Fatalf("http error status: got %q", got)
	}
	if got := statusFromRespErr(nil, context.Canceled); got != "canceled" {
		t.Fatalf("canceled status: got %q", got)
	}
	if got := statusFromRespErr(nil, context.DeadlineExceeded); got != "timeout" {
		t.Fatalf("timeout status: got %q", got)
	}
}
