package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minios-linux/lokitd/bulk"
	"github.com/minios-linux/lokitd/engine"
	"github.com/minios-linux/lokitd/remote"
	"github.com/minios-linux/lokitd/store"
	"github.com/minios-linux/lokitd/translate"
)

const shopTH = `msgid ""
msgstr ""
"Language: th\n"

msgid "Save"
msgstr "บันทึก"

msgid "Cancel"
msgstr ""

msgid "Quit"
msgstr ""
`

type resolver struct{}

func (resolver) Resolve(provider, model string) (translate.Translator, error) {
	return translate.TranslatorFunc(func(ctx context.Context, b translate.Batch) (map[string]string, error) {
		out := make(map[string]string, len(b.Entries))
		for _, e := range b.Entries {
			out[e.ID()] = "[" + b.Language + "] " + e.SourceText
		}
		return out, nil
	}), nil
}

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	local, rem := t.TempDir(), t.TempDir()
	for _, p := range []string{
		filepath.Join(local, "shop", "th.po"),
		filepath.Join(rem, "main", "shop", "th.po"),
	} {
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(shopTH), 0o644))
	}

	st, err := store.New(local)
	require.NoError(t, err)
	jobs := bulk.New(bulk.Options{})
	t.Cleanup(jobs.Close)
	eng := engine.New(st, remote.NewDir(rem),
		translate.NewOrchestrator(resolver{}, st, translate.Options{}), jobs,
		engine.Options{DefaultRef: "main", GenerateDir: t.TempDir(), Provider: "fake"})

	ts := httptest.NewServer(New(eng, "", opts...).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func do(t *testing.T, method, url string, body any) (int, map[string]any) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func errorKind(t *testing.T, body map[string]any) string {
	t.Helper()
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "no error object in %v", body)
	return e["kind"].(string)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	code, body := do(t, http.MethodGet, ts.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestSyncPreviewAndApply(t *testing.T) {
	ts := newTestServer(t)

	code, body := do(t, http.MethodPost, ts.URL+"/v1/sync/preview", map[string]any{"file_id": "shop/th"})
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["unchanged"], 3)
	require.Empty(t, body["updated"])

	code, body = do(t, http.MethodPost, ts.URL+"/v1/sync/apply", map[string]any{
		"file_id": "shop/th",
		"policy":  map[string]bool{"overwrite_local_with_remote": true, "push_result_upstream": true},
	})
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["success"])
	require.Equal(t, true, body["pushed"])
}

func TestValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	code, body := do(t, http.MethodPost, ts.URL+"/v1/sync/preview", map[string]any{})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation", errorKind(t, body))
	require.Contains(t, body["error"].(map[string]any)["message"], "file_id")

	code, body = do(t, http.MethodPost, ts.URL+"/v1/sync/preview", map[string]any{"file_id": "shop/th", "extra": 1})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation", errorKind(t, body))

	code, body = do(t, http.MethodPost, ts.URL+"/v1/jobs", map[string]any{"options": map[string]string{"kind": "publish"}})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation", errorKind(t, body))

	code, body = do(t, http.MethodGet, ts.URL+"/v1/files/shop%2Fth/entries?filter=fuzzy", nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation", errorKind(t, body))

	code, body = do(t, http.MethodGet, ts.URL+"/v1/files/shop%2Fth/entries?page=x", nil)
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation", errorKind(t, body))
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t)

	code, body := do(t, http.MethodGet, ts.URL+"/v1/files/shop%2Fde/entries", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_found", errorKind(t, body))

	code, body = do(t, http.MethodGet, ts.URL+"/v1/jobs/0b1c", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_found", errorKind(t, body))
}

func TestEntriesAndNextUntranslated(t *testing.T) {
	ts := newTestServer(t)

	code, body := do(t, http.MethodGet, ts.URL+"/v1/files/shop%2Fth/entries?filter=untranslated&page_size=1&page=2", nil)
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["total_entries"])
	require.EqualValues(t, 2, body["total_pages"])
	items := body["items"].([]any)
	require.Len(t, items, 1)
	require.Equal(t, "Quit", items[0].(map[string]any)["source"])
	require.EqualValues(t, 3, body["stats"].(map[string]any)["total"])

	code, body = do(t, http.MethodGet, ts.URL+"/v1/files/shop%2Fth/next-untranslated?after=Cancel&page_size=2", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, true, body["found"])
	require.Equal(t, "Quit", body["entry_id"])
	require.EqualValues(t, 2, body["page"])

	code, body = do(t, http.MethodGet, ts.URL+"/v1/files/shop%2Fth/next-untranslated?after=Quit", nil)
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, false, body["found"])

	code, body = do(t, http.MethodGet, ts.URL+"/v1/files", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["files"], 1)
}

func TestTranslateBatch(t *testing.T) {
	ts := newTestServer(t)

	code, body := do(t, http.MethodPost, ts.URL+"/v1/translate/batch", map[string]any{
		"file_id":      "shop/th",
		"entry_ids":    []string{"Cancel", "Quit"},
		"batch_size":   1,
		"auto_persist": true,
	})
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["translated_count"])
	require.EqualValues(t, 2, body["total_rows"])
	require.Len(t, body["batches"], 2)
	require.Equal(t, true, body["persisted"])
	require.Equal(t, "[th] Quit", body["translations"].(map[string]any)["Quit"])

	code, body = do(t, http.MethodPost, ts.URL+"/v1/translate/batch", map[string]any{
		"file_id": "shop/th", "entry_ids": []string{"Nope"},
	})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, "validation", errorKind(t, body))
}

func TestJobLifecycle(t *testing.T) {
	ts := newTestServer(t)

	code, body := do(t, http.MethodPost, ts.URL+"/v1/jobs", map[string]any{
		"targets": []map[string]string{{"app": "shop", "locale": "th"}},
		"options": map[string]string{"kind": "generate"},
	})
	require.Equal(t, http.StatusAccepted, code)
	id, _ := body["job_id"].(string)
	require.NotEmpty(t, id)

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, body = do(t, http.MethodGet, ts.URL+"/v1/jobs/"+id, nil)
		if body["status"] == "completed" {
			break
		}
		require.True(t, time.Now().Before(deadline), "job stuck in %v", body["status"])
		time.Sleep(10 * time.Millisecond)
	}
	require.EqualValues(t, 100, body["progress"])

	code, body = do(t, http.MethodGet, ts.URL+"/v1/jobs", nil)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["jobs"], 1)

	code, _ = do(t, http.MethodGet, ts.URL+"/v1/jobs/"+id+"?ack=1", nil)
	require.Equal(t, http.StatusOK, code)
	code, _ = do(t, http.MethodGet, ts.URL+"/v1/jobs/"+id, nil)
	require.Equal(t, http.StatusNotFound, code)
}

func TestCancelUnknownJob(t *testing.T) {
	ts := newTestServer(t)
	code, body := do(t, http.MethodDelete, ts.URL+"/v1/jobs/"+strings.Repeat("a", 8), nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, "not_found", errorKind(t, body))
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, WithCORS("http://console.local"))

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/v1/sync/preview", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://console.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "http://console.local", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err = http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
