// Package server exposes the sighting workflow over HTTP. Routes keep
// the original public surface: /Places/Nearby, /Product/UploadImage,
// /Product/Add, /Product/FindProducts, and static /ImageUploads files.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/whatsin-app/whatsin/internal/config"
	"github.com/whatsin-app/whatsin/internal/discovery"
	"github.com/whatsin-app/whatsin/internal/imagemeta"
	"github.com/whatsin-app/whatsin/internal/imagestore"
)

// Server holds the HTTP handlers for the public surface.
type Server struct {
	svc            *discovery.Service
	images         *imagestore.Store
	maxUploadBytes int64
	limiter        *rate.Limiter
}

// New creates a Server. The rate limiter bounds image uploads, which
// are by far the most expensive requests.
func New(svc *discovery.Service, images *imagestore.Store, uploads config.UploadsConfig) *Server {
	return &Server{
		svc:            svc,
		images:         images,
		maxUploadBytes: uploads.MaxBytes,
		limiter:        rate.NewLimiter(rate.Limit(uploads.RatePerSec), uploads.Burst),
	}
}

// Router assembles the chi router with CORS and logging middleware.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/Places/Nearby", s.nearby)
	r.Post("/Product/UploadImage", s.rateLimited(s.uploadImage))
	// The original bound Add and FindProducts to any method with
	// query/form binding; clients use both GET and POST.
	r.HandleFunc("/Product/Add", s.add)
	r.HandleFunc("/Product/FindProducts", s.findProducts)

	r.Handle("/ImageUploads/*", http.StripPrefix("/ImageUploads/",
		http.FileServer(http.Dir(s.images.Dir()))))

	return r
}

func (s *Server) nearby(w http.ResponseWriter, r *http.Request) {
	latitude := floatParam(r, "latitude")
	longitude := floatParam(r, "longitude")

	places, err := s.svc.NearbyPlaces(r.Context(), latitude, longitude)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, places)
}

func (s *Server) uploadImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	file, header, err := r.FormFile("fileToUpload")
	if err != nil {
		http.Error(w, `{"error":"no image"}`, http.StatusBadRequest)
		return
	}
	defer file.Close()

	res, err := s.svc.ProcessUpload(r.Context(), file, header.Filename)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) add(w http.ResponseWriter, r *http.Request) {
	productName := r.FormValue("productName")
	placeName := r.FormValue("placeName")
	latitude := floatParam(r, "placeLatitude")
	longitude := floatParam(r, "placeLongitude")
	fileName := r.FormValue("fileName")

	_, err := s.svc.AddSighting(r.Context(), productName, placeName, latitude, longitude, fileName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) findProducts(w http.ResponseWriter, r *http.Request) {
	results, err := s.svc.FindProducts(r.Context(), r.FormValue("productName"), requestBaseURL(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

// rateLimited rejects requests beyond the upload token bucket.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			http.Error(w, `{"error":"too many uploads"}`, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

// writeError maps the service error taxonomy onto status codes.
// Validation problems are the client's fault; a missing GPS directory
// is a well-formed but unprocessable upload; corrupt bytes, whether
// they fail metadata parsing or pixel decoding, are a 400 with the
// decoder's message; everything else is opaque.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var perr *imagemeta.ParseError
	switch {
	case errors.Is(err, discovery.ErrValidation):
		http.Error(w, `{"error":"invalid input"}`, http.StatusBadRequest)
	case errors.Is(err, imagemeta.ErrNoGPSData):
		http.Error(w, `{"error":"no gps metadata"}`, http.StatusUnprocessableEntity)
	case errors.As(err, &perr):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": perr.Error()})
	case errors.Is(err, imagestore.ErrUndecodable):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	default:
		zap.L().Error("request failed", zap.Error(err))
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

// floatParam reads a query/form parameter as a float pointer; absent or
// unparseable values become nil and fail coordinate validation later.
func floatParam(r *http.Request, name string) *float64 {
	raw := r.FormValue(name)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

// requestBaseURL reconstructs scheme://host of the current request for
// building externally addressable image links.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to encode response", zap.Error(err))
	}
}
