package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Brownie44l1/anime-style-api/internal/model"
	"github.com/Brownie44l1/anime-style-api/internal/pipeline"
)

type identityEngine struct{}

func (identityEngine) Forward(_ context.Context, input *pipeline.Tensor) (*pipeline.Tensor, error) {
	return input, nil
}

type failingEngine struct{}

func (failingEngine) Forward(context.Context, *pipeline.Tensor) (*pipeline.Tensor, error) {
	return nil, errors.New("device lost")
}

type stubSource struct{ err error }

func (s stubSource) Ensure(_ context.Context, m model.StyleModel) (model.Artifacts, error) {
	return model.Artifacts{Weights: m.Weights, Topology: m.Topology}, s.err
}

func newTestRouter(t *testing.T, source model.ArtifactSource, eng pipeline.Engine, maxUpload int64) http.Handler {
	t.Helper()
	open := func(model.Artifacts) (pipeline.Engine, error) { return eng, nil }
	loader := model.NewLoader(source, open, 2)
	t.Cleanup(loader.Close)
	return NewRouter(NewHandler(pipeline.Default(), loader), RouterOptions{MaxUploadBytes: maxUpload})
}

func createJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 90, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode failed: %v", err)
	}
	return buf.Bytes()
}

// newUpload builds a multipart request; empty fields are omitted.
func newUpload(t *testing.T, path string, file []byte, modelName string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if file != nil {
		fw, err := mw.CreateFormFile("file", "photo.jpg")
		if err != nil {
			t.Fatalf("CreateFormFile failed: %v", err)
		}
		fw.Write(file)
	}
	if modelName != "" {
		mw.WriteField("model_name", modelName)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return resp
}

func TestPredictReturnsPNG(t *testing.T) {
	router := newTestRouter(t, stubSource{}, identityEngine{}, 0)

	for _, path := range []string{"/predict/", "/predict"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, newUpload(t, path, createJPEG(t, 300, 200), "hayao"))

		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
		}
		if ct := rec.Header().Get("Content-Type"); ct != "image/png" {
			t.Errorf("Expected image/png, got %q", ct)
		}
		if rec.Header().Get("X-Request-ID") == "" {
			t.Error("Expected a request id header")
		}
		if rec.Body.Len() == 0 {
			t.Fatal("Expected non-empty body")
		}

		img, err := png.Decode(rec.Body)
		if err != nil {
			t.Fatalf("Response is not a PNG: %v", err)
		}
		if img.Bounds().Dx() != 300 || img.Bounds().Dy() != 200 {
			t.Errorf("Expected 300x200, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
		}
	}
}

func TestPredictErrors(t *testing.T) {
	jpg := createJPEG(t, 64, 64)

	tests := []struct {
		name   string
		source model.ArtifactSource
		engine pipeline.Engine
		file   []byte
		model  string
		status int
		code   string
	}{
		{"unknown model", stubSource{}, identityEngine{}, jpg, "not_a_model", http.StatusBadRequest, "unknown_model_name"},
		{"zero byte upload", stubSource{}, identityEngine{}, []byte{}, "hayao", http.StatusBadRequest, "decode_error"},
		{"corrupt upload", stubSource{}, identityEngine{}, []byte("GIF89a garbage"), "hayao", http.StatusBadRequest, "decode_error"},
		{"missing file", stubSource{}, identityEngine{}, nil, "hayao", http.StatusBadRequest, "missing_file"},
		{"missing model name", stubSource{}, identityEngine{}, jpg, "", http.StatusBadRequest, "missing_model_name"},
		{"provisioning failure", stubSource{err: model.ErrProvisioning}, identityEngine{}, jpg, "paprika", http.StatusBadGateway, "model_provisioning_error"},
		{"inference failure", stubSource{}, failingEngine{}, jpg, "shinkai", http.StatusInternalServerError, "inference_error"},
	}

	for _, tt := range tests {
		router := newTestRouter(t, tt.source, tt.engine, 0)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, newUpload(t, "/predict/", tt.file, tt.model))

		if rec.Code != tt.status {
			t.Errorf("%s: expected %d, got %d: %s", tt.name, tt.status, rec.Code, rec.Body.String())
			continue
		}
		if resp := decodeError(t, rec); resp.Code != tt.code {
			t.Errorf("%s: expected code %q, got %q (%s)", tt.name, tt.code, resp.Code, resp.Error)
		}
	}
}

func TestPredictRejectsNonMultipart(t *testing.T) {
	router := newTestRouter(t, stubSource{}, identityEngine{}, 0)

	req := httptest.NewRequest(http.MethodPost, "/predict/", bytes.NewReader([]byte(`{"image": []}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", rec.Code)
	}
}

func TestPredictUploadLimit(t *testing.T) {
	router := newTestRouter(t, stubSource{}, identityEngine{}, 1024)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, newUpload(t, "/predict/", createJPEG(t, 400, 400), "hayao"))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected 413, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t, stubSource{}, identityEngine{}, 0)

	req := httptest.NewRequest(http.MethodOptions, "/predict/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected Access-Control-Allow-Origin *, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "*" {
		t.Errorf("Expected Access-Control-Allow-Headers *, got %q", got)
	}
}

func TestOnlyPredictIsRouted(t *testing.T) {
	router := newTestRouter(t, stubSource{}, identityEngine{}, 0)

	for _, tc := range []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/health", http.StatusNotFound},
		{http.MethodGet, "/predict/", http.StatusMethodNotAllowed},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Code != tc.status {
			t.Errorf("%s %s: expected %d, got %d", tc.method, tc.path, tc.status, rec.Code)
		}
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	router := newTestRouter(t, stubSource{}, identityEngine{}, 0)

	req := newUpload(t, "/predict/", nil, "hayao")
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("Expected request id abc-123, got %q", got)
	}
}
