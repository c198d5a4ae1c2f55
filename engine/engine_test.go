package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/minios-linux/lokitd/apperr"
	"github.com/minios-linux/lokitd/bulk"
	"github.com/minios-linux/lokitd/entry"
	"github.com/minios-linux/lokitd/merge"
	"github.com/minios-linux/lokitd/remote"
	"github.com/minios-linux/lokitd/store"
	"github.com/minios-linux/lokitd/translate"
)

const localTH = `msgid ""
msgstr ""
"Language: th\n"

msgid "Save"
msgstr "บันทึก"

msgid "Cancel"
msgstr "ยกเลิก"

msgctxt "menu"
msgid "Open"
msgstr ""

msgid "Quit"
msgstr ""
`

const remoteTH = `msgid ""
msgstr ""
"Language: th\n"

msgid "Save"
msgstr ""

msgid "Cancel"
msgstr "ยกเลิก"
`

type harness struct {
	eng       *Engine
	store     *store.Store
	repo      *remote.Dir
	localDir  string
	remoteDir string
	genDir    string
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

type resolverFunc func(provider, model string) (translate.Translator, error)

func (f resolverFunc) Resolve(provider, model string) (translate.Translator, error) {
	return f(provider, model)
}

func newHarness(t *testing.T, targets ...bulk.Target) *harness {
	t.Helper()
	h := &harness{
		localDir:  t.TempDir(),
		remoteDir: t.TempDir(),
		genDir:    filepath.Join(t.TempDir(), "out"),
	}
	writeFile(t, filepath.Join(h.localDir, "shop", "th.po"), localTH)
	writeFile(t, filepath.Join(h.remoteDir, "main", "shop", "th.po"), remoteTH)

	st, err := store.New(h.localDir)
	require.NoError(t, err)
	h.store = st
	h.repo = remote.NewDir(h.remoteDir)

	upper := translate.TranslatorFunc(func(ctx context.Context, b translate.Batch) (map[string]string, error) {
		out := make(map[string]string, len(b.Entries))
		for _, e := range b.Entries {
			out[e.ID()] = strings.ToUpper(e.SourceText) + "@" + b.Language
		}
		return out, nil
	})
	resolver := resolverFunc(func(provider, model string) (translate.Translator, error) {
		if provider != "fake" {
			return nil, apperr.Validationf("test", "unknown provider %q", provider)
		}
		return upper, nil
	})
	tr := translate.NewOrchestrator(resolver, st, translate.Options{BatchSize: 2, Timeout: time.Second})

	jobs := bulk.New(bulk.Options{TargetTimeout: 5 * time.Second})
	t.Cleanup(jobs.Close)

	h.eng = New(st, h.repo, tr, jobs, Options{
		DefaultRef:  "main",
		GenerateDir: h.genDir,
		Targets:     targets,
		Provider:    "fake",
	})
	return h
}

func (h *harness) wait(t *testing.T, id string) bulk.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := h.eng.jobs.Wait(ctx, id)
	require.NoError(t, err)
	return job
}

func TestPreviewSyncSaveCancelExample(t *testing.T) {
	h := newHarness(t)

	d, err := h.eng.PreviewSync(context.Background(), "", "shop/th")
	require.NoError(t, err)
	require.Empty(t, d.Added)
	require.Len(t, d.Updated, 1)
	require.Equal(t, "Save", d.Updated[0].ID)
	require.Len(t, d.Unchanged, 1)
	require.Equal(t, "Cancel", d.Unchanged[0].ID)

	// Preview never writes.
	set, err := h.store.Load(context.Background(), "shop/th")
	require.NoError(t, err)
	require.Equal(t, "บันทึก", set.Entries[0].TargetText)
}

func TestPreviewSyncMissingRemote(t *testing.T) {
	h := newHarness(t)
	_, err := h.eng.PreviewSync(context.Background(), "main", "shop/de")
	require.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

	_, err = h.eng.PreviewSync(context.Background(), "nope", "shop/th")
	require.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
}

func TestApplySyncOverwriteAndPush(t *testing.T) {
	h := newHarness(t)
	writeFile(t, filepath.Join(h.remoteDir, "main", "shop", "th.po"), remoteTH+`
msgid "Help"
msgstr "ช่วยเหลือ"
`)
	ctx := context.Background()

	res, err := h.eng.ApplySync(ctx, "main", "shop/th", merge.Policy{OverwriteLocalWithRemote: true, PushResultUpstream: true})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.True(t, res.Pushed)
	require.Equal(t, []string{"Help", "Save"}, res.Applied)
	require.Empty(t, res.Available)

	local, err := h.store.Load(ctx, "shop/th")
	require.NoError(t, err)
	require.Equal(t, 5, local.Len())
	require.Equal(t, "", local.Entries[0].TargetText)
	require.Equal(t, "Help", local.Entries[4].SourceText)

	pushed, err := h.repo.Read(ctx, "main", "shop/th")
	require.NoError(t, err)
	require.Equal(t, local.Len(), pushed.Len())

	// A second apply finds nothing left to do.
	again, err := h.eng.PreviewSync(ctx, "main", "shop/th")
	require.NoError(t, err)
	require.False(t, again.Changed())
}

func TestApplySyncKeepLocal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.eng.ApplySync(ctx, "", "shop/th", merge.Policy{})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.False(t, res.Pushed)
	require.Equal(t, []string{"Save"}, res.Available)
	require.Empty(t, res.Applied)

	local, err := h.store.Load(ctx, "shop/th")
	require.NoError(t, err)
	require.Equal(t, "บันทึก", local.Entries[0].TargetText)
}

func TestApplySyncCreatesMissingLocalFile(t *testing.T) {
	h := newHarness(t)
	writeFile(t, filepath.Join(h.remoteDir, "main", "admin", "th.po"), remoteTH)
	ctx := context.Background()

	res, err := h.eng.ApplySync(ctx, "main", "admin/th", merge.Policy{OverwriteLocalWithRemote: true})
	require.NoError(t, err)
	require.Equal(t, []string{"Save", "Cancel"}, res.Applied)

	set, err := h.store.Load(ctx, "admin/th")
	require.NoError(t, err)
	require.Equal(t, 2, set.Len())
}

type failingWriter struct{ *remote.Dir }

func (failingWriter) Write(context.Context, string, string, entry.Set) error {
	return errors.New("permission denied")
}

func TestApplySyncPushFailureKeepsLocalSave(t *testing.T) {
	h := newHarness(t)
	h.eng.remote = failingWriter{h.repo}

	res, err := h.eng.ApplySync(context.Background(), "main", "shop/th", merge.Policy{OverwriteLocalWithRemote: true, PushResultUpstream: true})
	require.NoError(t, err)
	require.True(t, res.Success)
	require.False(t, res.Pushed)
	require.Contains(t, res.Error, "permission denied")
}

func TestTranslateBatchPersists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.eng.TranslateBatch(ctx, translate.Request{
		FileID:      "shop/th",
		EntryIDs:    []string{"menu\x04Open", "Quit"},
		AutoPersist: true,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.TranslatedCount)
	require.True(t, res.Persisted)
	require.Equal(t, "OPEN@th", res.Translations["menu\x04Open"])

	set, err := h.store.Load(ctx, "shop/th")
	require.NoError(t, err)
	require.Equal(t, "QUIT@th", set.Entries[3].TargetText)

	_, err = h.eng.TranslateBatch(ctx, translate.Request{FileID: "shop/th", EntryIDs: []string{"Quit"}, Provider: "other"})
	require.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)

	_, err = h.eng.TranslateBatch(ctx, translate.Request{EntryIDs: []string{"Quit"}})
	require.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
}

func TestBulkGenerateRecordsPerTargetFailure(t *testing.T) {
	h := newHarness(t)

	id, err := h.eng.StartBulkJob(context.Background(), []bulk.Target{
		{App: "shop", Locale: "th"},
		{App: "shop", Locale: "de"},
	}, BulkOptions{Kind: KindGenerate})
	require.NoError(t, err)

	job := h.wait(t, id)
	require.Equal(t, bulk.StatusCompleted, job.Status)
	require.Len(t, job.Results, 2)
	require.True(t, job.Results[0].Success)
	require.Equal(t, 4, job.Results[0].EntriesCount)
	require.False(t, job.Results[1].Success)
	require.Equal(t, 100.0, job.Progress)

	data, err := os.ReadFile(filepath.Join(h.genDir, "shop", "th.po"))
	require.NoError(t, err)
	require.Contains(t, string(data), `msgstr "บันทึก"`)
}

func TestBulkGenerateAddsMissingHeader(t *testing.T) {
	h := newHarness(t)
	writeFile(t, filepath.Join(h.localDir, "shop", "ru.po"), "msgid \"Save\"\nmsgstr \"Сохранить\"\n")

	id, err := h.eng.StartBulkJob(context.Background(), []bulk.Target{{FileID: "shop/ru"}}, BulkOptions{Kind: KindGenerate})
	require.NoError(t, err)
	job := h.wait(t, id)
	require.True(t, job.Results[0].Success, "result: %+v", job.Results[0])

	data, err := os.ReadFile(filepath.Join(h.genDir, "shop", "ru.po"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"Project-Id-Version: shop\n"`)
	require.Contains(t, string(data), `"Language: ru\n"`)
	require.Contains(t, string(data), "Plural-Forms: nplurals=3;")
}

func TestBulkGenerateKeepsEmptyContextEntries(t *testing.T) {
	h := newHarness(t)
	writeFile(t, filepath.Join(h.localDir, "shop", "km.po"), `msgid ""
msgstr ""
"Language: km\n"

msgctxt ""
msgid "Open"
msgstr "បើក"

msgctxt "menu"
msgid "Close"
msgstr "បិទ"

msgid "Save"
msgstr "រក្សាទុក"

msgctxt ""
msgid "Save"
msgstr "រក្សា"
`)

	id, err := h.eng.StartBulkJob(context.Background(), []bulk.Target{{App: "shop", Locale: "km"}}, BulkOptions{Kind: KindGenerate})
	require.NoError(t, err)
	job := h.wait(t, id)
	require.Len(t, job.Results, 1)
	require.True(t, job.Results[0].Success, "result: %+v", job.Results[0])
	require.Equal(t, 4, job.Results[0].EntriesCount)

	data, err := os.ReadFile(filepath.Join(h.genDir, "shop", "km.po"))
	require.NoError(t, err)
	require.Contains(t, string(data), "msgctxt \"\"\nmsgid \"Open\"")
}

func TestVerifyCatalog(t *testing.T) {
	set := entry.Set{Entries: []entry.Entry{
		{SourceText: "Open", Context: entry.Ctx(""), TargetText: "เปิด"},
		{SourceText: "Save", TargetText: "บันทึก"},
		{SourceText: "Save", Context: entry.Ctx(""), TargetText: "เก็บ"},
		{SourceText: "Close", Context: entry.Ctx("menu"), TargetText: "ปิด"},
	}}
	data, err := entry.ToPO(set, nil).Bytes()
	require.NoError(t, err)
	require.NoError(t, verifyCatalog(data, set))

	wrong := set.Clone()
	wrong.Entries[3].TargetText = "ออก"
	require.ErrorContains(t, verifyCatalog(data, wrong), "menu\x04Close")
}

func TestBulkTranslateEnumeratesConfiguredTargets(t *testing.T) {
	h := newHarness(t, bulk.Target{App: "shop", Locale: "th"})

	id, err := h.eng.StartBulkJob(context.Background(), nil, BulkOptions{Kind: KindTranslate})
	require.NoError(t, err)
	job := h.wait(t, id)
	require.Equal(t, bulk.StatusCompleted, job.Status)
	require.Len(t, job.Results, 1)
	require.True(t, job.Results[0].Success)
	require.Equal(t, 2, job.Results[0].EntriesCount)

	set, err := h.store.Load(context.Background(), "shop/th")
	require.NoError(t, err)
	require.Equal(t, 4, set.Stats().Translated)
	require.Equal(t, "OPEN@th", set.Entries[2].TargetText)
}

func TestBulkWithoutTargetsFails(t *testing.T) {
	h := newHarness(t)

	id, err := h.eng.StartBulkJob(context.Background(), nil, BulkOptions{Kind: KindGenerate})
	require.NoError(t, err)
	job := h.wait(t, id)
	require.Equal(t, bulk.StatusFailed, job.Status)
	require.NotEmpty(t, job.ErrorLog)

	_, err = h.eng.StartBulkJob(context.Background(), nil, BulkOptions{Kind: "publish"})
	require.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
}

func TestBulkStatusAck(t *testing.T) {
	h := newHarness(t)
	id, err := h.eng.StartBulkJob(context.Background(), []bulk.Target{{FileID: "shop/th"}}, BulkOptions{Kind: KindGenerate})
	require.NoError(t, err)
	h.wait(t, id)

	job, err := h.eng.GetBulkJobStatus(id, false)
	require.NoError(t, err)
	require.Equal(t, bulk.StatusCompleted, job.Status)

	_, err = h.eng.GetBulkJobStatus(id, true)
	require.NoError(t, err)
	_, err = h.eng.GetBulkJobStatus(id, false)
	require.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

	require.True(t, apperr.Is(h.eng.CancelBulkJob("missing"), apperr.KindNotFound))
}

func TestListEntriesAndFindNext(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.eng.ListEntries(ctx, "shop/th", ListQuery{Filter: "untranslated", PageSize: 1})
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalEntries)
	require.Equal(t, 2, res.TotalPages)
	require.Len(t, res.Items, 1)
	require.Equal(t, "Open", res.Items[0].Source)
	require.Equal(t, "menu", *res.Items[0].Context)
	require.Equal(t, 4, res.Stats.Total)
	require.Equal(t, 2, res.Stats.Translated)

	_, err = h.eng.ListEntries(ctx, "shop/th", ListQuery{Filter: "fuzzy"})
	require.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)

	next, err := h.eng.FindNextUntranslated(ctx, "shop/th", "Save", 2)
	require.NoError(t, err)
	require.Equal(t, &NextResult{Found: true, Page: 2, Index: 2, EntryID: "menu\x04Open"}, next)

	next, err = h.eng.FindNextUntranslated(ctx, "shop/th", "Quit", 2)
	require.NoError(t, err)
	require.False(t, next.Found)

	files, err := h.eng.ListFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	require.Equal(t, "shop/th", files[0].ID)
}

func TestFindNextAtFirstEntryKeepsIndex(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	writeFile(t, filepath.Join(h.localDir, "shop", "de.po"), "msgid \"Save\"\nmsgstr \"\"\n\nmsgid \"Quit\"\nmsgstr \"Beenden\"\n")

	next, err := h.eng.FindNextUntranslated(ctx, "shop/de", "", 10)
	require.NoError(t, err)
	require.Equal(t, &NextResult{Found: true, Page: 1, Index: 0, EntryID: "Save"}, next)

	data, err := json.Marshal(next)
	require.NoError(t, err)
	require.Contains(t, string(data), `"index":0`)
}
