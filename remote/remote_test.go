package remote

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/minios-linux/lokitd/apperr"
)

const upstreamTH = `msgid ""
msgstr ""
"Language: th\n"

msgid "Save"
msgstr "บันทึก"

msgctxt "menu"
msgid "Open"
msgstr ""
`

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	root := t.TempDir()
	p := filepath.Join(root, "main", "shop")
	if err := os.MkdirAll(p, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(p, "th.po"), []byte(upstreamTH), 0o644); err != nil {
		t.Fatal(err)
	}
	return NewDir(root)
}

func TestDirListAndRead(t *testing.T) {
	d := newTestDir(t)
	ctx := context.Background()

	files, err := d.List(ctx, "main")
	if err != nil || len(files) != 1 || files[0] != "shop/th" {
		t.Fatalf("List = %v, %v", files, err)
	}

	set, err := d.Read(ctx, "main", "shop/th")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if set.Len() != 2 || set.Entries[0].TargetText != "บันทึก" || set.Entries[1].ID() != "menu\x04Open" {
		t.Fatalf("set = %+v", set.Entries)
	}
}

func TestDirErrors(t *testing.T) {
	d := newTestDir(t)
	ctx := context.Background()

	if _, err := d.List(ctx, "feature"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("missing ref: %v", err)
	}
	if _, err := d.Read(ctx, "main", "shop/de"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("missing file: %v", err)
	}
	if _, err := d.Read(ctx, "../outside", "x"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("escaping ref: %v", err)
	}

	bad := filepath.Join(d.root, "main", "broken.po")
	if err := os.WriteFile(bad, []byte("garbage line\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Read(ctx, "main", "broken"); !apperr.Is(err, apperr.KindExternalCall) {
		t.Fatalf("unparseable remote file: %v", err)
	}
}

func TestDirWriteRoundTrip(t *testing.T) {
	d := newTestDir(t)
	ctx := context.Background()

	set, err := d.Read(ctx, "main", "shop/th")
	if err != nil {
		t.Fatal(err)
	}
	set.Entries[1].TargetText = "เปิด"
	if err := d.Write(ctx, "main", "shop/th", set); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := d.Read(ctx, "main", "shop/th")
	if err != nil || got.Entries[1].TargetText != "เปิด" {
		t.Fatalf("after write: %+v %v", got.Entries, err)
	}

	// Writing to a new ref creates it.
	if err := d.Write(ctx, "review", "shop/th", set); err != nil {
		t.Fatalf("Write new ref: %v", err)
	}
	if files, err := d.List(ctx, "review"); err != nil || len(files) != 1 {
		t.Fatalf("new ref list = %v %v", files, err)
	}
}
