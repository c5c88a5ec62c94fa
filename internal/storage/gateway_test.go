package storage_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/littlehero/api/internal/model"
	"github.com/littlehero/api/internal/storage"
	"github.com/littlehero/api/internal/storage/storagetest"
)

func newGateway(t *testing.T) (*storage.Gateway, *storagetest.Fake) {
	t.Helper()
	fake := storagetest.New()
	return storage.NewGateway(fake, fake, "books-test"), fake
}

func TestClassify(t *testing.T) {
	tests := []struct {
		key  string
		want model.AssetCategory
	}{
		{"books/abc/photos/1.jpg", model.CategoryUpload},
		{"books/abc/working/page-001.png", model.CategoryProcessing},
		{"books/abc/final/book.pdf", model.CategoryFinal},
		{"books/abc/final/thumbnail.jpg", model.CategoryFinal},
		{"books/abc/other/x", model.CategoryUnknown},
		{"books//photos/x.jpg", model.CategoryUnknown},
		{"books/abc/photos/", model.CategoryUnknown},
		{"uploads/abc/photos/x.jpg", model.CategoryUnknown},
		{"", model.CategoryUnknown},
	}
	for _, tt := range tests {
		if got := storage.Classify(tt.key); got != tt.want {
			t.Errorf("Classify(%q) = %s, want %s", tt.key, got, tt.want)
		}
	}
}

func TestKeyBuilders(t *testing.T) {
	if got := storage.IllustrationKey("b1", 2); got != "books/b1/working/page-002.png" {
		t.Errorf("unexpected illustration key %q", got)
	}
	if got := storage.PDFKey("b1"); got != "books/b1/final/book.pdf" {
		t.Errorf("unexpected pdf key %q", got)
	}
	if got := storage.ThumbnailKey("b1"); got != "books/b1/final/thumbnail.jpg" {
		t.Errorf("unexpected thumbnail key %q", got)
	}
	up := storage.UploadKey("b1", ".JPG")
	if !strings.HasPrefix(up, "books/b1/photos/") || !strings.HasSuffix(up, ".jpg") {
		t.Errorf("unexpected upload key %q", up)
	}
	if storage.UploadKey("b1", "png") == storage.UploadKey("b1", "png") {
		t.Error("upload keys should be unique")
	}
}

func TestPut_Untagged(t *testing.T) {
	gw, fake := newGateway(t)
	if !gw.Tagging() {
		t.Fatal("gateways tag by default")
	}
	gw.WithoutTagging()

	key := storage.UploadKey("b1", "png")
	if _, err := gw.Put(context.Background(), key, []byte("x"), "image/png"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if tags := fake.Tags(key); len(tags) != 0 {
		t.Errorf("expected no tags, got %v", tags)
	}
}

func TestSupportsTagging(t *testing.T) {
	for provider, want := range map[string]bool{"s3": true, "": true, "r2": false} {
		if got := storage.SupportsTagging(provider); got != want {
			t.Errorf("SupportsTagging(%q) = %v, want %v", provider, got, want)
		}
	}
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	gw, fake := newGateway(t)
	key := storage.IllustrationKey("b1", 1)

	ref, err := gw.Put(ctx, key, []byte("png-bytes"), "image/png")
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if ref.Key != key || ref.Size != 9 {
		t.Errorf("unexpected ref %+v", ref)
	}
	if got := fake.Tags(key)[storage.CategoryTag]; got != string(model.CategoryProcessing) {
		t.Errorf("expected category tag processing, got %q", got)
	}

	data, err := gw.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(data) != "png-bytes" {
		t.Errorf("unexpected body %q", data)
	}

	// overwrite
	if _, err := gw.Put(ctx, key, []byte("v2"), "image/png"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	data, _ = gw.Get(ctx, key)
	if string(data) != "v2" {
		t.Errorf("overwrite not visible, got %q", data)
	}

	if err := gw.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := gw.Delete(ctx, key); err != nil {
		t.Fatalf("second delete should succeed: %v", err)
	}
	if _, err := gw.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := gw.Stat(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound from stat, got %v", err)
	}
}

func TestErrorMapping(t *testing.T) {
	ctx := context.Background()
	gw, fake := newGateway(t)

	fake.SetFault(func(op, key string) error {
		return errors.New("connection reset by peer")
	})
	if _, err := gw.Get(ctx, "books/b/final/book.pdf"); !errors.Is(err, storage.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable, got %v", err)
	}

	fake.SetFault(func(op, key string) error {
		if op == storagetest.OpPut {
			return &smithy.GenericAPIError{Code: "QuotaExceeded", Message: "bucket is full"}
		}
		return nil
	})
	if _, err := gw.Put(ctx, "books/b/final/book.pdf", []byte("x"), "application/pdf"); !errors.Is(err, storage.ErrStorageQuotaExceeded) {
		t.Errorf("expected ErrStorageQuotaExceeded, got %v", err)
	}
}

func TestListPaginatesAndRestarts(t *testing.T) {
	ctx := context.Background()
	gw, _ := newGateway(t)

	const n = 1205
	for i := 0; i < n; i++ {
		if _, err := gw.Put(ctx, fmt.Sprintf("books/b%04d/working/page-001.png", i), []byte("x"), "image/png"); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}

	count := func() int {
		c := 0
		for obj, err := range gw.List(ctx, storage.Root) {
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if obj.Category != model.CategoryProcessing {
				t.Fatalf("unexpected category %s for %s", obj.Category, obj.Key)
			}
			c++
		}
		return c
	}
	if got := count(); got != n {
		t.Errorf("first listing: expected %d, got %d", n, got)
	}
	if got := count(); got != n {
		t.Errorf("second listing: expected %d, got %d", n, got)
	}

	// early break stops the listing
	seen := 0
	for range gw.List(ctx, storage.Root) {
		seen++
		if seen == 3 {
			break
		}
	}
	if seen != 3 {
		t.Errorf("expected to stop at 3, got %d", seen)
	}
}

func TestDeletePrefix(t *testing.T) {
	ctx := context.Background()
	gw, fake := newGateway(t)

	for i := 1; i <= 1500; i++ {
		gw.Put(ctx, storage.IllustrationKey("doomed", i), []byte("x"), "image/png")
	}
	gw.Put(ctx, storage.PDFKey("kept"), []byte("pdf"), "application/pdf")

	n, err := gw.DeletePrefix(ctx, storage.BookPrefix("doomed"))
	if err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	if n != 1500 {
		t.Errorf("expected 1500 deletions, got %d", n)
	}
	if keys := fake.Keys(); len(keys) != 1 || keys[0] != storage.PDFKey("kept") {
		t.Errorf("unexpected remaining keys %v", keys)
	}

	n, err = gw.DeletePrefix(ctx, storage.BookPrefix("doomed"))
	if err != nil || n != 0 {
		t.Errorf("second delete prefix: n=%d err=%v", n, err)
	}
}

func TestPresignGet(t *testing.T) {
	gw, _ := newGateway(t)
	url, err := gw.PresignGet(context.Background(), storage.PDFKey("b1"), 15*time.Minute)
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(url, "books/b1/final/book.pdf") || !strings.Contains(url, "X-Amz-Expires=900") {
		t.Errorf("unexpected url %q", url)
	}
}
