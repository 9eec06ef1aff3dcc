// Package api provides HTTP handlers for the gridviewd server.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/gridviewd/server/internal/service"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Registry    *DatasetRegistry
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Global datasets endpoint (not dataset-scoped)
	r.Get("/api/datasets", datasetsHandler(cfg.Registry))

	// Dataset-scoped routes: /d/{dataset}/...
	r.Route("/d/{dataset}", func(r chi.Router) {
		r.Use(datasetMiddleware(cfg.Registry))

		r.Get("/preview.png", datasetPreviewHandler)

		r.Route("/api", func(r chi.Router) {
			r.Get("/meta", datasetMetaHandler)
			r.Get("/window", datasetWindowHandler)
			r.Get("/slice", datasetSliceGetHandler)
			r.Put("/slice", datasetSlicePutHandler)
			r.Get("/events", datasetEventsHandler)
		})
	})

	return r
}

// Context key for dataset service
type ctxKey string

const datasetServiceKey ctxKey = "datasetService"

// datasetMiddleware resolves the dataset from URL and injects the grid service into context.
func datasetMiddleware(registry *DatasetRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			datasetID := chi.URLParam(r, "dataset")
			svc := registry.Get(datasetID)
			if svc == nil {
				http.Error(w, "dataset not found: "+datasetID, http.StatusNotFound)
				return
			}
			ctx := context.WithValue(r.Context(), datasetServiceKey, svc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getDatasetService(r *http.Request) *service.GridService {
	if svc, ok := r.Context().Value(datasetServiceKey).(*service.GridService); ok {
		return svc
	}
	return nil
}

// datasetsHandler returns the list of available datasets.
func datasetsHandler(registry *DatasetRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"default":  registry.DefaultDatasetID(),
			"datasets": registry.Datasets(),
			"title":    registry.Title(),
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}

func datasetMetaHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(svc.Meta())
}

// datasetWindowHandler serves a rectangular window read. Pending cells come
// back as nulls; the client polls or follows /api/events for updates.
func datasetWindowHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}

	row0 := queryInt(r, "row0", 0)
	col0 := queryInt(r, "col0", 0)
	rows := queryInt(r, "rows", 0)
	cols := queryInt(r, "cols", 0)
	if rows <= 0 || cols <= 0 {
		http.Error(w, "rows and cols query params are required and must be positive", http.StatusBadRequest)
		return
	}

	data, err := svc.Window(row0, col0, rows, cols)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

func datasetSliceGetHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"slice": svc.Slice()})
}

const maxSliceBodyBytes = 4 << 10

// datasetSlicePutHandler applies a new slice expression. The body is either a
// JSON object {"slice":"10:20,5:15"} or the raw expression text. Any text is
// accepted; malformed dimensions fall back to the full extent.
func datasetSlicePutHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSliceBodyBytes+1))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}
	if len(body) > maxSliceBodyBytes {
		http.Error(w, "slice body too large", http.StatusBadRequest)
		return
	}

	text := strings.TrimSpace(string(body))
	if strings.HasPrefix(text, "{") {
		var payload struct {
			Slice string `json:"slice"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		text = payload.Slice
	}

	svc.SetSlice(text)

	// Echo the resulting view so the client learns the new extents in one trip.
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(svc.Meta())
}

// datasetEventsHandler streams model change notifications as server-sent
// events. The subscription ends when the client disconnects.
func datasetEventsHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, cancel := svc.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}

// datasetPreviewHandler renders a heatmap preview of a window. Without
// explicit spans it previews the whole visible extent.
func datasetPreviewHandler(w http.ResponseWriter, r *http.Request) {
	svc := getDatasetService(r)
	if svc == nil {
		http.Error(w, "dataset service not found", http.StatusInternalServerError)
		return
	}

	meta := svc.Meta()
	row0 := queryInt(r, "row0", 0)
	col0 := queryInt(r, "col0", 0)
	rows := queryInt(r, "rows", meta.Rows)
	cols := queryInt(r, "cols", meta.Cols)
	colormap := r.URL.Query().Get("colormap")

	data, err := svc.Preview(row0, col0, rows, cols, colormap)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

func queryInt(r *http.Request, name string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
