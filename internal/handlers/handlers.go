package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/Brownie44l1/anime-style-api/internal/imageio"
	"github.com/Brownie44l1/anime-style-api/internal/model"
	"github.com/Brownie44l1/anime-style-api/internal/pipeline"
)

// maxMemory is the part of a multipart form kept in memory; the rest spills
// to temp files.
const maxMemory = 32 << 20

// ModelLoader resolves a model name to an engine. release must be called
// when the engine is no longer needed.
type ModelLoader interface {
	Load(ctx context.Context, name string) (eng pipeline.Engine, release func(), err error)
}

type Handler struct {
	pipeline *pipeline.Pipeline
	models   ModelLoader
}

func NewHandler(p *pipeline.Pipeline, models ModelLoader) *Handler {
	return &Handler{
		pipeline: p,
		models:   models,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Error: msg, Code: code})
}

// writeFailure maps a pipeline error to its HTTP status.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, imageio.ErrDecode):
		writeError(w, http.StatusBadRequest, "decode_error", err.Error())
	case errors.Is(err, model.ErrUnknownModelName):
		writeError(w, http.StatusBadRequest, "unknown_model_name", err.Error())
	case errors.Is(err, model.ErrProvisioning):
		writeError(w, http.StatusBadGateway, "model_provisioning_error", err.Error())
	case errors.Is(err, pipeline.ErrInvalidImageDimensions):
		writeError(w, http.StatusUnprocessableEntity, "invalid_image_dimensions", err.Error())
	case errors.Is(err, pipeline.ErrInference):
		writeError(w, http.StatusInternalServerError, "inference_error", err.Error())
	case errors.Is(err, imageio.ErrEncode):
		writeError(w, http.StatusInternalServerError, "encode_error", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

// Predict stylizes the uploaded "file" with the model named by "model_name"
// and responds with a PNG of the same size.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload_too_large", err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_form", "Failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "No image file provided. Use 'file' as the form field name")
		return
	}
	defer file.Close()

	modelName := r.FormValue("model_name")
	if modelName == "" {
		writeError(w, http.StatusBadRequest, "missing_model_name", "No model selected. Use 'model_name' as the form field name")
		return
	}

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form", "Failed to read uploaded file")
		return
	}

	log.Printf("Received file: %s, size: %d bytes, model: %s", header.Filename, len(content), modelName)

	img, err := imageio.Decode(content)
	if err != nil {
		log.Printf("Decode error: %v", err)
		writeFailure(w, err)
		return
	}

	log.Printf("Image dimensions: %dx%d", img.Bounds().Dx(), img.Bounds().Dy())

	eng, release, err := h.models.Load(r.Context(), modelName)
	if err != nil {
		log.Printf("Model load error: %v", err)
		writeFailure(w, err)
		return
	}
	defer release()

	out, err := h.pipeline.Predict(r.Context(), eng, img)
	if err != nil {
		log.Printf("Prediction error: %v", err)
		writeFailure(w, err)
		return
	}

	var buf bytes.Buffer
	if err := imageio.EncodePNG(&buf, out); err != nil {
		log.Printf("Encode error: %v", err)
		writeFailure(w, err)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("Failed to write response: %v", err)
	}
}
