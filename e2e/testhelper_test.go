package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/littlehero/api/internal/auth"
	"github.com/littlehero/api/internal/bookjob"
	"github.com/littlehero/api/internal/catalog"
	"github.com/littlehero/api/internal/client"
	"github.com/littlehero/api/internal/config"
	"github.com/littlehero/api/internal/handler"
	"github.com/littlehero/api/internal/middleware"
	"github.com/littlehero/api/internal/notify"
	"github.com/littlehero/api/internal/service"
	"github.com/littlehero/api/internal/storage"
	"github.com/littlehero/api/internal/storage/storagetest"
	ws "github.com/littlehero/api/internal/websocket"
	"github.com/littlehero/api/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"
)

// inlineEnqueuer runs the worker in-process instead of going through asynq.
// With hold set, jobs stay pending.
type inlineEnqueuer struct {
	worker *worker.BookWorker
	hold   atomic.Bool
}

func (e *inlineEnqueuer) Enqueue(_ context.Context, jobID string) error {
	if e.hold.Load() {
		return nil
	}
	return e.worker.Run(context.Background(), jobID)
}

// testApp holds all components needed for testing
type testApp struct {
	app      *fiber.App
	storage  *storagetest.Fake
	gateway  *storage.Gateway
	machine  *bookjob.Machine
	enqueuer *inlineEnqueuer
}

// setupApp creates a Fiber app wired like main.go, backed by the memory job
// store, the in-memory bucket and the synthetic illustrator.
func setupApp(t *testing.T) *testApp {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	log := zerolog.Nop()
	fake := storagetest.New()
	gateway := storage.NewGateway(fake, fake, "test-bucket")
	machine := bookjob.NewMachine(bookjob.NewMemoryStore())

	hub := ws.NewHub(log)
	go hub.Run(ctx)
	dispatcher := notify.NewDispatcher(log, 64, notify.NewHubSink(hub))
	machine.Subscribe(dispatcher)
	go dispatcher.Run(ctx)

	cat := catalog.Default()
	bookWorker := worker.NewBookWorker(
		machine, gateway, cat,
		client.NewSyntheticIllustrator("64x64"), client.NewPDFAssembler(), client.NewThumbnailer(32, 32),
		worker.Config{RetryDelay: time.Millisecond},
		log,
	)
	enqueuer := &inlineEnqueuer{worker: bookWorker}

	bookService := service.NewBookService(machine, gateway, cat, enqueuer, config.UploadConfig{}, time.Hour, log)

	validate := validator.New()
	bookHandler := handler.NewBookHandler(bookService, validate, log)
	streamHandler := handler.NewStreamHandler(bookService, hub, log)
	// legacy HMAC only
	authn := auth.NewAuthenticator(nil, testJWTSecret)
	authHandler := handler.NewAuthHandler(authn)
	authenticate := middleware.NewAuthMiddleware(authn).Authenticate()
	// no redis: the limiter lets every request through
	rateLimiter := middleware.NewRateLimiter(nil, log)

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", authenticate)
	api.Get("/adventure-types", bookHandler.AdventureTypes)

	books := api.Group("/books")
	books.Post("/", rateLimiter.BooksLimit(10000), bookHandler.Create)
	books.Get("/", bookHandler.List)
	books.Get("/:id", bookHandler.Status)
	books.Get("/:id/download", bookHandler.Download)
	books.Post("/:id/cancel", bookHandler.Cancel)
	books.Post("/:id/retry", rateLimiter.BooksLimit(10000), bookHandler.Retry)

	app.Get("/ws/books/:id", authenticate, streamHandler.Authorize, streamHandler.Stream())

	return &testApp{app: app, storage: fake, gateway: gateway, machine: machine, enqueuer: enqueuer}
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T, userID string) string {
	t.Helper()
	signed, err := auth.GenerateLegacyToken(userID, testJWTSecret, time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequest(method, path, body)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return app.Test(req, -1)
}

// doAuthRequest performs a bodiless request as the default test user.
func doAuthRequest(t *testing.T, app *fiber.App, method, path string) (*http.Response, error) {
	t.Helper()
	return doRequest(app, method, path, nil, map[string]string{
		"Authorization": "Bearer " + generateToken(t, testUserID),
	})
}

// photoPNG encodes a small valid PNG.
func photoPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 16), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// bookForm builds the multipart body of POST /api/books. An empty
// contentType leaves the photo out.
func bookForm(t *testing.T, childName, adventure string, photo []byte, contentType string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if childName != "" {
		w.WriteField("childName", childName)
	}
	if adventure != "" {
		w.WriteField("adventureType", adventure)
	}
	if contentType != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="photo"; filename="photo"`)
		h.Set("Content-Type", contentType)
		part, err := w.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(photo)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

// createBook submits a book as userID and returns the decoded response.
func createBook(t *testing.T, app *fiber.App, userID, adventure string) map[string]interface{} {
	t.Helper()
	body, ct := bookForm(t, "Mia", adventure, photoPNG(t), "image/png")
	resp, err := doRequest(app, http.MethodPost, "/api/books", body, map[string]string{
		"Authorization": "Bearer " + generateToken(t, userID),
		"Content-Type":  ct,
	})
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusAccepted)
	return parseJSON(t, resp)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode extracts error.code from an error response.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	body := parseJSON(t, resp)
	e, ok := body["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected error object, got %v", body)
	}
	code, _ := e["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
