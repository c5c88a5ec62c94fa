package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/littlehero/api/internal/config"
	"github.com/littlehero/api/internal/storage"
	"github.com/littlehero/api/internal/storage/storagetest"
)

func setupBucket(t *testing.T) (*storagetest.Fake, opener) {
	t.Helper()
	fake := storagetest.New()
	gateway := storage.NewGateway(fake, fake, "test-bucket")
	cfg := &config.Config{Retention: config.RetentionConfig{UploadDays: 1, ProcessingDays: 7}}

	ctx := context.Background()
	for _, key := range []string{
		storage.UploadKey("b1", "jpg"),
		storage.IllustrationKey("b1", 1),
		storage.PDFKey("b1"),
		storage.UploadKey("b2", "png"),
	} {
		if _, err := gateway.Put(ctx, key, []byte("data"), "application/octet-stream"); err != nil {
			t.Fatal(err)
		}
	}

	return fake, func(context.Context) (*storage.Gateway, *config.Config, error) {
		return gateway, cfg, nil
	}
}

func run(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(open)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestList(t *testing.T) {
	_, open := setupBucket(t)

	out, err := run(t, open, "list", "--prefix", "books/b1/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out, storage.PDFKey("b1")) || !strings.Contains(out, "3 objects") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if strings.Contains(out, "books/b2/") {
		t.Errorf("prefix filter ignored:\n%s", out)
	}

	out, err = run(t, open, "list", "-o", "json")
	if err != nil {
		t.Fatalf("list json: %v", err)
	}
	var objects []objectView
	if err := json.Unmarshal([]byte(out), &objects); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(objects) != 4 {
		t.Errorf("expected 4 objects, got %d", len(objects))
	}
}

func TestDeleteAndDeletePrefix(t *testing.T) {
	fake, open := setupBucket(t)

	if _, err := run(t, open, "delete", storage.PDFKey("b1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if fake.Has(storage.PDFKey("b1")) {
		t.Error("pdf still present after delete")
	}

	out, err := run(t, open, "delete-prefix", storage.BookPrefix("b1"))
	if err != nil {
		t.Fatalf("delete-prefix: %v", err)
	}
	if !strings.Contains(out, "deleted 2 objects") {
		t.Errorf("unexpected output: %s", out)
	}
	if keys := fake.Keys(); len(keys) != 1 || !strings.HasPrefix(keys[0], "books/b2/") {
		t.Errorf("unexpected remaining keys %v", keys)
	}

	if _, err := run(t, open, "delete-prefix", "/"); err == nil {
		t.Error("expected whole-bucket delete to be refused")
	}
}

func TestSetupLifecycle(t *testing.T) {
	fake, open := setupBucket(t)

	out, err := run(t, open, "setup-lifecycle")
	if err != nil {
		t.Fatalf("setup-lifecycle: %v\n%s", err, out)
	}
	if len(fake.Rules()) != 2 {
		t.Errorf("expected upload and processing rules, got %d", len(fake.Rules()))
	}
	if !strings.Contains(out, "applied  upload") {
		t.Errorf("unexpected output:\n%s", out)
	}

	// idempotent
	if _, err := run(t, open, "setup-lifecycle"); err != nil {
		t.Fatalf("second setup-lifecycle: %v", err)
	}
	if len(fake.Rules()) != 2 {
		t.Errorf("rules duplicated: %d", len(fake.Rules()))
	}
}

func TestAudit(t *testing.T) {
	fake, open := setupBucket(t)
	fake.Backdate(storage.UploadKey("b1", "jpg"), 72*time.Hour)
	fake.Backdate(storage.PDFKey("b1"), 365*24*time.Hour)

	out, err := run(t, open, "audit", "-o", "json")
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var findings []findingView
	if err := json.Unmarshal([]byte(out), &findings); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	for _, f := range findings {
		if f.Category == "final" {
			t.Errorf("final object reported overdue: %+v", f)
		}
	}
	found := false
	for _, f := range findings {
		if f.Key == storage.UploadKey("b1", "jpg") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected backdated upload in findings, got %+v", findings)
	}

	if _, err := run(t, open, "audit", "--strict"); err == nil {
		t.Error("expected --strict to fail with overdue objects")
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	_, open := setupBucket(t)
	if _, err := run(t, open, "list", "-o", "yaml"); err == nil {
		t.Error("expected unknown format to be rejected")
	}
}
