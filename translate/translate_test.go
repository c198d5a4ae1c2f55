package translate

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/entry"
)

func TestTruncateKeepsRunesWhole(t *testing.T) {
	if got := truncate("abc", 5); got != "abc" {
		t.Fatalf("truncate(short) = %q", got)
	}
	// Each Thai letter is 3 bytes; a 4-byte limit lands inside the second one.
	got := truncate("สวัสดี", 4)
	if got != "ส..." {
		t.Fatalf("truncate = %q, want %q", got, "ส...")
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncate produced invalid UTF-8: %q", got)
	}
}

// ---------------------------------------------------------------------------
// parseTranslations / fixInvalidEscapes
// ---------------------------------------------------------------------------

func TestParseTranslations(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"plain", `["Сохранить", "Отмена"]`, []string{"Сохранить", "Отмена"}},
		{"markdown block", "```json\n[\"Привет\"]\n```", []string{"Привет"}},
		{"prose around", "Here you go:\n[\"a\", \"b\"]\nDone.", []string{"a", "b"}},
		{"groff escape", `["use \[dq]quotes\[dq]"]`, []string{`use \[dq]quotes\[dq]`}},
		{"valid escapes kept", `["line\nbreak \"q\""]`, []string{"line\nbreak \"q\""}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseTranslations(tc.raw, len(tc.want))
			if err != nil {
				t.Fatalf("parseTranslations: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("[%d] = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestParseTranslationsRejectsGarbage(t *testing.T) {
	if _, err := parseTranslations("sorry, I cannot help", 1); err == nil {
		t.Fatal("expected error for non-JSON response")
	}
	if _, err := parseTranslations("[]", 2); err == nil {
		t.Fatal("expected error for empty array")
	}
}

func TestExtractResponseText(t *testing.T) {
	tests := map[string]string{
		"openai":    `{"choices":[{"message":{"content":"hello"}}]}`,
		"gemini":    `{"candidates":[{"content":{"parts":[{"text":"hello"}]}}]}`,
		"anthropic": `{"content":[{"type":"text","text":"hello"}]}`,
	}
	for name, body := range tests {
		got, err := extractResponseText([]byte(body))
		if err != nil || got != "hello" {
			t.Errorf("%s: got %q, %v", name, got, err)
		}
	}
	if _, err := extractResponseText([]byte(`{"error":{"message":"bad key"}}`)); err == nil || !strings.Contains(err.Error(), "bad key") {
		t.Errorf("API error not surfaced: %v", err)
	}
}

func TestParseRetryDelay(t *testing.T) {
	body := `{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"30s"}]}}`
	if got := parseRetryDelay([]byte(body)); got != 35*time.Second {
		t.Errorf("got %v, want 35s", got)
	}
	if got := parseRetryDelay([]byte("nope")); got != 65*time.Second {
		t.Errorf("got %v, want default 65s", got)
	}
}

func TestBuildUserPromptIncludesContext(t *testing.T) {
	p := buildUserPrompt([]entry.Entry{
		{SourceText: "Open", Context: entry.Ctx("menu")},
		{SourceText: "multi\nline"},
	})
	if !strings.Contains(p, `1. "Open"`) || !strings.Contains(p, "(context: menu)") {
		t.Errorf("prompt missing first entry or context:\n%s", p)
	}
	if !strings.Contains(p, `2. "multi\nline"`) {
		t.Errorf("newline not escaped:\n%s", p)
	}
	if !strings.Contains(p, "exactly 2 translated strings") {
		t.Errorf("prompt missing count:\n%s", p)
	}
}

// ---------------------------------------------------------------------------
// HTTPTranslator
// ---------------------------------------------------------------------------

func openAIReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
	return string(b)
}

func TestHTTPTranslatorOpenAI(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		io.WriteString(w, openAIReply("```json\n[\"บันทึก\", \"ยกเลิก\"]\n```"))
	}))
	defer srv.Close()

	tr := NewHTTPTranslator(Provider{ID: "openai", API: APIOpenAIChat, BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "m1"})
	got, err := tr.Translate(context.Background(), Batch{
		Entries:  []entry.Entry{{SourceText: "Save"}, {SourceText: "Cancel", Context: entry.Ctx("dialog")}},
		Language: "th",
	})
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	if gotAuth != "Bearer sk-test" || gotPath != "/v1/chat/completions" {
		t.Errorf("auth=%q path=%q", gotAuth, gotPath)
	}
	if gotBody["model"] != "m1" {
		t.Errorf("model = %v", gotBody["model"])
	}
	if got["Save"] != "บันทึก" || got["dialog\x04Cancel"] != "ยกเลิก" {
		t.Errorf("translations = %#v", got)
	}
}

func TestHTTPTranslatorAnthropicAndGemini(t *testing.T) {
	var anthropicKey, geminiKey, geminiPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/messages"):
			anthropicKey = r.Header.Get("x-api-key")
			io.WriteString(w, `{"content":[{"type":"text","text":"[\"A\"]"}]}`)
		default:
			geminiKey = r.Header.Get("x-goog-api-key")
			geminiPath = r.URL.Path
			io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"[\"G\"]"}]}}]}`)
		}
	}))
	defer srv.Close()

	b := Batch{Entries: []entry.Entry{{SourceText: "x"}}, Language: "de", Model: "mod"}

	a := NewHTTPTranslator(Provider{ID: "anthropic", API: APIAnthropic, BaseURL: srv.URL, APIKey: "ak"})
	if got, err := a.Translate(context.Background(), b); err != nil || got["x"] != "A" {
		t.Fatalf("anthropic: %v %v", got, err)
	}
	g := NewHTTPTranslator(Provider{ID: "google", API: APIGemini, BaseURL: srv.URL, APIKey: "gk"})
	if got, err := g.Translate(context.Background(), b); err != nil || got["x"] != "G" {
		t.Fatalf("gemini: %v %v", got, err)
	}
	if anthropicKey != "ak" || geminiKey != "gk" || geminiPath != "/v1beta/models/mod:generateContent" {
		t.Errorf("anthropicKey=%q geminiKey=%q geminiPath=%q", anthropicKey, geminiKey, geminiPath)
	}
}

func TestHTTPTranslatorRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, openAIReply(`["ok"]`))
	}))
	defer srv.Close()

	tr := NewHTTPTranslator(Provider{ID: "x", BaseURL: srv.URL, Model: "m"})
	tr.Backoff = time.Millisecond
	got, err := tr.Translate(context.Background(), Batch{Entries: []entry.Entry{{SourceText: "a"}}})
	if err != nil || got["a"] != "ok" {
		t.Fatalf("got %v, %v", got, err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestHTTPTranslatorClientErrorIsExternalCall(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	tr := NewHTTPTranslator(Provider{ID: "x", BaseURL: srv.URL, Model: "m"})
	_, err := tr.Translate(context.Background(), Batch{Entries: []entry.Entry{{SourceText: "a"}}})
	if !apperr.Is(err, apperr.KindExternalCall) {
		t.Fatalf("err = %v, want external call", err)
	}
}

func TestHTTPTranslatorCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, openAIReply(`["only one"]`))
	}))
	defer srv.Close()

	tr := NewHTTPTranslator(Provider{ID: "x", BaseURL: srv.URL, Model: "m"})
	_, err := tr.Translate(context.Background(), Batch{Entries: []entry.Entry{{SourceText: "a"}, {SourceText: "b"}}})
	if err == nil {
		t.Fatal("expected error on translation count mismatch")
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry(map[string]Provider{
		ProviderCustomOpenAI: {BaseURL: "http://llm.local/v1", Model: "local-model"},
		"mirror":             {BaseURL: "http://mirror/v1"},
	}, RegistryOptions{Key: func(id string) string { return "key-" + id }, MaxRetries: 1})

	tr, err := r.Resolve(ProviderCustomOpenAI, "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	h := tr.(*HTTPTranslator)
	if h.Provider.Model != "local-model" || h.Provider.APIKey != "key-custom-openai" || h.MaxRetries != 1 {
		t.Errorf("provider = %#v", h.Provider)
	}
	if tr, _ := r.Resolve("mirror", "override"); tr.(*HTTPTranslator).Provider.Model != "override" {
		t.Error("model override not applied")
	}

	if _, err := r.Resolve("nope", ""); !apperr.Is(err, apperr.KindValidation) {
		t.Errorf("unknown provider: %v", err)
	}

	ids := r.IDs()
	if len(ids) != len(DefaultProviders())+1 {
		t.Errorf("IDs = %v", ids)
	}
}
