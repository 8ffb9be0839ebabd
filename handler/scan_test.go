package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/surajmurari02/ocr-card/config"
	"github.com/surajmurari02/ocr-card/middleware"
	"github.com/surajmurari02/ocr-card/model"
	"github.com/surajmurari02/ocr-card/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const johnSmithPayload = `{
  "name": "John Smith",
  "designation": "Senior Software Engineer",
  "company name": "Tech Solutions Inc.",
  "mobile number": "+1-555-123-4567",
  "email": "john.smith@techsolutions.com",
  "address": "123 Business Ave, Suite 100, New York, NY 10001"
}`

// fakeOCR answers every request with status and body and counts the calls.
type fakeOCR struct {
	server *httptest.Server
	calls  atomic.Int32
}

func newFakeOCR(t *testing.T, status int, body string) *fakeOCR {
	t.Helper()
	f := &fakeOCR{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("OCR server got bad multipart body: %v", err)
			return
		}
		w.WriteHeader(status)
		w.Write([]byte(body))
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newTestRouter(t *testing.T, ocrURL string) *gin.Engine {
	t.Helper()

	client, err := service.NewOCRClient(&config.OCRConfig{
		APIURL:         ocrURL,
		Query:          config.DefaultQuery,
		RequestTimeout: 2 * time.Second,
		MaxRetries:     1,
		RetryDelay:     time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewOCRClient failed: %v", err)
	}

	deps := service.ControllerDeps{
		Validator: service.NewFileValidator(&config.UploadConfig{
			MaxFileSize:  512 << 10,
			AllowedTypes: []string{"image/jpeg", "image/png"},
		}),
		Preparer: service.NewImageProcessor(false),
		Scanner:  client,
		Exporter: service.NewResultFormatter(),
		Deadline: 5 * time.Second,
	}
	registry := service.NewSessionRegistry(&config.SessionConfig{MaxSessions: 10, TTL: time.Hour},
		func(id string) *service.UploadController { return service.NewUploadController(id, deps) })

	h := NewScanHandler(registry)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("session_id", "test-session")
		c.Next()
	})
	upload := router.Group("/process_image")
	upload.Use(middleware.BodyLimit(1<<20, "1MB"))
	upload.POST("", h.ProcessImage)
	router.GET("/api/scan", h.State)
	router.POST("/api/scan/reset", h.Reset)
	router.GET("/api/export/:format", h.Export)
	return router
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func uploadRequest(t *testing.T, field, filename, contentType string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := w.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart failed: %v", err)
	}
	part.Write(data)
	w.Close()

	req := httptest.NewRequest("POST", "/process_image", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestProcessImageEndToEnd(t *testing.T) {
	ocr := newFakeOCR(t, http.StatusOK, johnSmithPayload)
	router := newTestRouter(t, ocr.server.URL)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "image", "card.png", "image/png", pngBytes(t)))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	want := map[string]string{
		"name":        "John Smith",
		"designation": "Senior Software Engineer",
		"company":     "Tech Solutions Inc.",
		"mobile":      "+1-555-123-4567",
		"email":       "john.smith@techsolutions.com",
		"address":     "123 Business Ave, Suite 100, New York, NY 10001",
		"status":      "success",
		"filename":    "card.png",
	}
	for k, v := range want {
		if body[k] != v {
			t.Errorf("%s = %v, want %q", k, body[k], v)
		}
	}
	if _, ok := body["processing_time"].(float64); !ok {
		t.Errorf("Expected numeric processing_time, got %v", body["processing_time"])
	}

	// The result view is ready to export.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/scan", nil))
	view := decodeBody(t, w)
	if view["state"] != string(model.StateResultReady) || view["can_export"] != true {
		t.Errorf("Unexpected view %v", view)
	}

	// vCard export leaves the state alone, so CSV can follow.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/export/vcard", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected vCard export 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "FN:John Smith") {
		t.Errorf("vCard missing FN line: %s", w.Body.String())
	}
	if got := w.Header().Get("Content-Disposition"); !strings.Contains(got, "business_card.vcf") {
		t.Errorf("Unexpected Content-Disposition %q", got)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/export/csv", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected CSV export 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `Company,"Tech Solutions Inc."`) {
		t.Errorf("CSV missing company row: %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "processing") {
		t.Error("CSV should not contain processing_time")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/export/pdf", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected unsupported format 400, got %d", w.Code)
	}

	if ocr.calls.Load() != 1 {
		t.Errorf("Expected exactly one OCR call, got %d", ocr.calls.Load())
	}
}

func TestProcessImageValidation(t *testing.T) {
	ocr := newFakeOCR(t, http.StatusOK, johnSmithPayload)
	router := newTestRouter(t, ocr.server.URL)

	tests := []struct {
		name     string
		req      *http.Request
		wantCode int
		wantMsg  string
	}{
		{
			name:     "wrong type",
			req:      uploadRequest(t, "image", "notes.txt", "text/plain", []byte("hello")),
			wantCode: http.StatusBadRequest,
			wantMsg:  "Invalid file type",
		},
		{
			name:     "too large",
			req:      uploadRequest(t, "image", "big.jpg", "image/jpeg", bytes.Repeat([]byte{0xff}, 600<<10)),
			wantCode: http.StatusBadRequest,
			wantMsg:  "File too large",
		},
		{
			name:     "missing field",
			req:      uploadRequest(t, "document", "card.png", "image/png", []byte("x")),
			wantCode: http.StatusBadRequest,
			wantMsg:  "No image file uploaded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, tt.req)

			if w.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if msg, _ := decodeBody(t, w)["error"].(string); !strings.Contains(msg, tt.wantMsg) {
				t.Errorf("Expected error containing %q, got %q", tt.wantMsg, msg)
			}
		})
	}

	if ocr.calls.Load() != 0 {
		t.Errorf("Validation failures must not reach the OCR service, got %d calls", ocr.calls.Load())
	}
}

func TestProcessImageBodyTooLarge(t *testing.T) {
	ocr := newFakeOCR(t, http.StatusOK, johnSmithPayload)
	router := newTestRouter(t, ocr.server.URL)

	req := uploadRequest(t, "image", "huge.png", "image/png", bytes.Repeat([]byte{1}, 2<<20))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected status 413, got %d", w.Code)
	}
	body := decodeBody(t, w)
	if body["error"] != "File size too large" || body["max_size"] != "1MB" {
		t.Errorf("Unexpected body %v", body)
	}
}

func TestProcessImageProviderFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode int
		wantKind string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"model overloaded"}`, http.StatusBadGateway, "server_rejected"},
		{"client fault", http.StatusBadRequest, `{"error":"bad image"}`, http.StatusBadGateway, "server_rejected"},
		{"not json", http.StatusOK, "I could not read this card", http.StatusBadGateway, "malformed_response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ocr := newFakeOCR(t, tt.status, tt.body)
			router := newTestRouter(t, ocr.server.URL)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, uploadRequest(t, "image", "card.png", "image/png", pngBytes(t)))

			if w.Code != tt.wantCode {
				t.Fatalf("Expected status %d, got %d: %s", tt.wantCode, w.Code, w.Body.String())
			}
			if kind := decodeBody(t, w)["error_kind"]; kind != tt.wantKind {
				t.Errorf("Expected error_kind %q, got %v", tt.wantKind, kind)
			}

			w = httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/api/scan", nil))
			view := decodeBody(t, w)
			if view["state"] != string(model.StateScanFailed) || view["can_retry"] != true {
				t.Errorf("Expected failed view with retry, got %v", view)
			}
		})
	}
}

func TestProcessImageUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	router := newTestRouter(t, url)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "image", "card.png", "image/png", pngBytes(t)))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d: %s", w.Code, w.Body.String())
	}
	if kind := decodeBody(t, w)["error_kind"]; kind != "network_error" {
		t.Errorf("Expected network_error, got %v", kind)
	}
}

func TestResetDropsResult(t *testing.T) {
	ocr := newFakeOCR(t, http.StatusOK, johnSmithPayload)
	router := newTestRouter(t, ocr.server.URL)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "image", "card.png", "image/png", pngBytes(t)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected scan to succeed, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/scan/reset", nil))
	if view := decodeBody(t, w); view["state"] != string(model.StateIdle) {
		t.Errorf("Expected idle after reset, got %v", view["state"])
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/export/json", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 with no data, got %d", w.Code)
	}
	if msg := decodeBody(t, w)["error"]; msg != "No data to export. Scan a business card first." {
		t.Errorf("Unexpected error %v", msg)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", model.ValidationError(model.ErrTooLarge, "too big"), http.StatusBadRequest},
		{"in progress", model.NewScanError(model.CategoryState, model.ErrScanInProgress, "busy", nil), http.StatusConflict},
		{"abandoned", model.NewScanError(model.CategoryState, model.ErrScanAbandoned, "gone", nil), http.StatusConflict},
		{"no file", model.NewScanError(model.CategoryState, model.ErrNoFileSelected, "none", nil), http.StatusBadRequest},
		{"no data", model.ExportError(model.ErrNoData, "empty"), http.StatusNotFound},
		{"bad format", model.ExportError(model.ErrUnsupportedFormat, "pdf"), http.StatusBadRequest},
		{"rejected", model.NewScanError(model.CategoryServerRejected, model.ErrServerRejected, "no", nil), http.StatusBadGateway},
		{"malformed", model.NewScanError(model.CategoryMalformed, model.ErrMalformedResponse, "junk", nil), http.StatusBadGateway},
		{"unreachable", model.NewScanError(model.CategoryNetwork, model.ErrUnreachable, "down", nil), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestProcessImageRejectsOverlappingScan(t *testing.T) {
	started := make(chan struct{}, 2)
	release := make(chan struct{})
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		started <- struct{}{}
		<-release
		w.Write([]byte(johnSmithPayload))
	}))
	t.Cleanup(srv.Close)
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	router := newTestRouter(t, srv.URL)

	firstReq := uploadRequest(t, "image", "first.png", "image/png", pngBytes(t))
	first := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		router.ServeHTTP(first, firstReq)
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("First scan never reached the OCR service")
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, uploadRequest(t, "image", "second.png", "image/png", pngBytes(t)))
	if second.Code != http.StatusConflict {
		t.Fatalf("Expected overlapping upload to get 409, got %d: %s", second.Code, second.Body.String())
	}
	if msg := decodeBody(t, second)["error"]; msg != "A scan is already in progress. Please wait for it to finish." {
		t.Errorf("Unexpected error %v", msg)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/scan", nil))
	if view := decodeBody(t, w); view["state"] != string(model.StateScanning) || view["filename"] != "first.png" {
		t.Errorf("Running scan was disturbed: %v", view)
	}

	unblock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("First scan did not finish")
	}

	if first.Code != http.StatusOK {
		t.Fatalf("Expected first scan to succeed, got %d: %s", first.Code, first.Body.String())
	}
	if body := decodeBody(t, first); body["filename"] != "first.png" || body["name"] != "John Smith" {
		t.Errorf("Unexpected first result %v", body)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected exactly one OCR call, got %d", calls.Load())
	}
}
