package server

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/pario-ai/kotoba/pkg/apierror"
	"github.com/pario-ai/kotoba/pkg/models"
)

const (
	codeInvalidRequest = "INVALID_REQUEST"
	codeUnauthorized   = "UNAUTHORIZED"
)

type identifyRequest struct {
	Image      string `json:"image" validate:"required"`
	MaxPhrases int    `json:"maxPhrases" validate:"omitempty,min=1,max=50"`
}

type analyzeRequest struct {
	Phrase  string `json:"phrase" validate:"required"`
	Type    string `json:"type" validate:"required,oneof=translate explain grammar vocabulary conjugation"`
	Context string `json:"context"`
	Image   string `json:"image"`
}

type extractRequest struct {
	Image string `json:"image" validate:"required"`
}

// invalidRequest is a validation failure that never reaches the call layer.
type invalidRequest struct {
	message string
	details string
}

func (e *invalidRequest) Error() string { return e.message }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	var req identifyRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeInvalid(w, err)
		return
	}
	img, err := s.decodeImage(req.Image)
	if err != nil {
		s.writeInvalid(w, err)
		return
	}

	result, err := s.svc.Identify(r.Context(), img, req.MaxPhrases)
	if err != nil {
		s.writeCallError(w, err, models.OpIdentify)
		return
	}
	s.writeData(w, result)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeInvalid(w, err)
		return
	}
	if strings.TrimSpace(req.Phrase) == "" {
		s.writeInvalid(w, &invalidRequest{message: "phrase must not be blank."})
		return
	}
	if err := s.checkLength("phrase", req.Phrase, s.cfg.Server.MaxPhraseLength); err != nil {
		s.writeInvalid(w, err)
		return
	}
	if err := s.checkLength("context", req.Context, s.cfg.Server.MaxContextLength); err != nil {
		s.writeInvalid(w, err)
		return
	}

	areq := models.AnalyzeRequest{
		Phrase:  strings.TrimSpace(req.Phrase),
		Type:    models.AnalysisType(req.Type),
		Context: strings.TrimSpace(req.Context),
	}
	if req.Image != "" {
		img, err := s.decodeImage(req.Image)
		if err != nil {
			s.writeInvalid(w, err)
			return
		}
		areq.Image = img
	}

	result, err := s.svc.Analyze(r.Context(), areq)
	if err != nil {
		s.writeCallError(w, err, models.OpAnalyze)
		return
	}
	s.writeEnvelope(w, http.StatusOK, models.Envelope{Success: true, Data: result})
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeInvalid(w, err)
		return
	}
	img, err := s.decodeImage(req.Image)
	if err != nil {
		s.writeInvalid(w, err)
		return
	}

	result, err := s.svc.ExtractText(r.Context(), img)
	if err != nil {
		s.writeCallError(w, err, models.OpExtract)
		return
	}
	s.writeData(w, result)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.CacheStats())
}

func (s *Server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	s.svc.ClearCache()
	s.logger.Info("cache cleared by operator")
	s.writeData(w, map[string]bool{"cleared": true})
}

// decode parses a JSON body and runs struct validation.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	limit := int64(s.cfg.Server.MaxImageBytes)*4/3 + 64<<10
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &invalidRequest{message: "Request body is too large."}
		}
		return &invalidRequest{message: "Request body must be valid JSON.", details: err.Error()}
	}

	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			return &invalidRequest{message: "Request validation failed.", details: strings.Join(fields, "; ")}
		}
		return &invalidRequest{message: "Request validation failed.", details: err.Error()}
	}
	return nil
}

func (s *Server) checkLength(field, value string, limit int) error {
	if limit > 0 && utf8.RuneCountInString(value) > limit {
		return &invalidRequest{message: fmt.Sprintf("%s must be at most %d characters.", field, limit)}
	}
	return nil
}

// decodeImage accepts raw base64 or a data URL and requires a PNG within
// the configured size limit.
func (s *Server) decodeImage(encoded string) ([]byte, error) {
	if i := strings.Index(encoded, ","); strings.HasPrefix(encoded, "data:") && i >= 0 {
		encoded = encoded[i+1:]
	}
	img, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, &invalidRequest{message: "Image must be base64 encoded."}
	}
	if len(img) > s.cfg.Server.MaxImageBytes {
		return nil, &invalidRequest{message: fmt.Sprintf("Image exceeds the %d byte limit.", s.cfg.Server.MaxImageBytes)}
	}
	if _, err := png.DecodeConfig(bytes.NewReader(img)); err != nil {
		return nil, &invalidRequest{message: "Image must be a valid PNG.", details: err.Error()}
	}
	return img, nil
}

func (s *Server) writeInvalid(w http.ResponseWriter, err error) {
	var inv *invalidRequest
	if !errors.As(err, &inv) {
		inv = &invalidRequest{message: "Invalid request.", details: err.Error()}
	}
	s.writeError(w, http.StatusBadRequest, codeInvalidRequest, inv.message, inv.details)
}

func (s *Server) writeCallError(w http.ResponseWriter, err error, op models.Operation) {
	var aerr *apierror.Error
	if !errors.As(err, &aerr) {
		aerr = apierror.New(apierror.UnknownServerError, op, err)
	}
	s.writeAPIError(w, aerr)
}

func (s *Server) writeAPIError(w http.ResponseWriter, aerr *apierror.Error) {
	s.writeEnvelope(w, aerr.StatusCode, models.Envelope{Error: aerr.Body()})
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, message, details string) {
	s.writeEnvelope(w, status, models.Envelope{Error: &models.ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
	}})
}

func (s *Server) writeData(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", zap.Error(err))
		s.writeAPIError(w, apierror.New(apierror.UnknownServerError, "", err))
		return
	}
	s.writeEnvelope(w, http.StatusOK, models.Envelope{Success: true, Data: data})
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, env models.Envelope) {
	s.writeJSON(w, status, env)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}

// operationFor maps an API path to the operation used in error messages.
func operationFor(r *http.Request) models.Operation {
	switch {
	case strings.HasSuffix(r.URL.Path, "/identify"):
		return models.OpIdentify
	case strings.HasSuffix(r.URL.Path, "/analyze"):
		return models.OpAnalyze
	case strings.HasSuffix(r.URL.Path, "/extract"):
		return models.OpExtract
	default:
		return ""
	}
}
