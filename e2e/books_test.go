package e2e

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/littlehero/api/internal/storage"
)

func TestCreateBook_CompletesAndDownloads(t *testing.T) {
	ta := setupApp(t)

	created := createBook(t, ta.app, testUserID, "superhero")
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected 'id' in response, got %v", created)
	}
	if created["status"] != "pending" {
		t.Errorf("expected status 'pending', got %v", created["status"])
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/books/"+id)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	status := parseJSON(t, resp)
	if status["status"] != "completed" {
		t.Fatalf("expected status 'completed', got %v (%v)", status["status"], status["statusDetail"])
	}
	if status["pagesDone"] != float64(3) || status["pageCount"] != float64(3) {
		t.Errorf("expected 3 of 3 pages, got %v of %v", status["pagesDone"], status["pageCount"])
	}
	if url, _ := status["thumbnailUrl"].(string); !strings.Contains(url, storage.ThumbnailKey(id)) {
		t.Errorf("expected presigned thumbnail url, got %q", url)
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/books/"+id+"/download")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusFound)
	if loc := resp.Header.Get("Location"); !strings.Contains(loc, storage.PDFKey(id)) {
		t.Errorf("expected redirect to the pdf, got %q", loc)
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/books/"+id+"/download?stream=true")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if body := readBody(t, resp); !strings.HasPrefix(body, "%PDF") {
		t.Errorf("expected a pdf body, got %d bytes", len(body))
	}
}

func TestCreateBook_NoAuth(t *testing.T) {
	ta := setupApp(t)

	body, ct := bookForm(t, "Mia", "space", photoPNG(t), "image/png")
	resp, err := doRequest(ta.app, http.MethodPost, "/api/books", body, map[string]string{"Content-Type": ct})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
}

func TestCreateBook_Rejected(t *testing.T) {
	ta := setupApp(t)

	tests := []struct {
		name        string
		childName   string
		adventure   string
		photo       []byte
		contentType string
	}{
		{"missing child name", "", "space", photoPNG(t), "image/png"},
		{"unknown adventure", "Mia", "western", photoPNG(t), "image/png"},
		{"missing photo", "Mia", "space", nil, ""},
		{"unsupported type", "Mia", "space", []byte("GIF89a"), "image/gif"},
		{"content does not match type", "Mia", "space", []byte("not really a png"), "image/png"},
		{"too large", "Mia", "space", make([]byte, 5*1024*1024+1), "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, ct := bookForm(t, tt.childName, tt.adventure, tt.photo, tt.contentType)
			resp, err := doRequest(ta.app, http.MethodPost, "/api/books", body, map[string]string{
				"Authorization": "Bearer " + generateToken(t, testUserID),
				"Content-Type":  ct,
			})
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			assertStatus(t, resp, http.StatusBadRequest)
			if code := errorCode(t, resp); code != "VALIDATION_ERROR" {
				t.Errorf("expected VALIDATION_ERROR, got %q", code)
			}
		})
	}

	if keys := ta.storage.Keys(); len(keys) != 0 {
		t.Errorf("rejected requests stored objects: %v", keys)
	}
}

func TestBookStatus_OtherOwner(t *testing.T) {
	ta := setupApp(t)

	id := createBook(t, ta.app, "someone-else", "space")["id"].(string)

	for _, path := range []string{"/api/books/" + id, "/api/books/" + id + "/download"} {
		resp, err := doAuthRequest(t, ta.app, http.MethodGet, path)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusNotFound)
	}
}

func TestBookStatus_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/books/does-not-exist/download")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
	if code := errorCode(t, resp); code != "NOT_FOUND" {
		t.Errorf("expected NOT_FOUND, got %q", code)
	}
}

func TestDownload_NotReady(t *testing.T) {
	ta := setupApp(t)
	ta.enqueuer.hold.Store(true)

	id := createBook(t, ta.app, testUserID, "space")["id"].(string)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/books/"+id+"/download")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
	if code := errorCode(t, resp); code != "NOT_READY" {
		t.Errorf("expected NOT_READY, got %q", code)
	}
}

func TestDownload_MissingPDF(t *testing.T) {
	ta := setupApp(t)

	id := createBook(t, ta.app, testUserID, "space")["id"].(string)
	if err := ta.gateway.Delete(context.Background(), storage.PDFKey(id)); err != nil {
		t.Fatal(err)
	}

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/books/"+id+"/download")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusInternalServerError)
	if code := errorCode(t, resp); code != "INTEGRITY_ERROR" {
		t.Errorf("expected INTEGRITY_ERROR, got %q", code)
	}
}

func TestCancelAndRetry(t *testing.T) {
	ta := setupApp(t)
	ta.enqueuer.hold.Store(true)

	id := createBook(t, ta.app, testUserID, "space")["id"].(string)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/books/"+id+"/cancel")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if body := parseJSON(t, resp); body["status"] != "failed" {
		t.Errorf("expected status 'failed', got %v", body["status"])
	}

	// failed is terminal
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/books/"+id+"/cancel")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)

	ta.enqueuer.hold.Store(false)
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/books/"+id+"/retry")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	retried := parseJSON(t, resp)
	if retried["resumedFrom"] != id {
		t.Errorf("expected resumedFrom %s, got %v", id, retried["resumedFrom"])
	}
	newID, _ := retried["id"].(string)
	if newID == "" || newID == id {
		t.Fatalf("expected a new job id, got %q", newID)
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/books/"+newID)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if body := parseJSON(t, resp); body["status"] != "completed" {
		t.Errorf("expected retried book to complete, got %v", body["status"])
	}

	// the original stays failed
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/books/"+id)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if body := parseJSON(t, resp); body["status"] != "failed" {
		t.Errorf("expected original to stay failed, got %v", body["status"])
	}
}

func TestRetry_NotFailed(t *testing.T) {
	ta := setupApp(t)

	id := createBook(t, ta.app, testUserID, "space")["id"].(string)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/books/"+id+"/retry")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusConflict)
}

func TestListBooks(t *testing.T) {
	ta := setupApp(t)

	for i := 0; i < 3; i++ {
		createBook(t, ta.app, testUserID, "space")
	}
	createBook(t, ta.app, "someone-else", "space")

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/books?page=1&limit=2")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)
	if body["total"] != float64(3) {
		t.Errorf("expected total 3, got %v", body["total"])
	}
	if books, _ := body["books"].([]interface{}); len(books) != 2 {
		t.Errorf("expected 2 books on the first page, got %d", len(books))
	}

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/books?limit=500")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestAdventureTypes(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/api/adventure-types")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)
	types, _ := body["adventureTypes"].([]interface{})
	if len(types) != 6 {
		t.Errorf("expected 6 adventure types, got %d", len(types))
	}
}

func TestStream_RequiresUpgrade(t *testing.T) {
	ta := setupApp(t)
	ta.enqueuer.hold.Store(true)

	id := createBook(t, ta.app, testUserID, "space")["id"].(string)

	resp, err := doAuthRequest(t, ta.app, http.MethodGet, "/ws/books/"+id)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUpgradeRequired)
}
