// Package service provides per-dataset orchestration for the HTTP API.
package service

import (
	"encoding/json"
	"fmt"

	"github.com/gridviewd/server/internal/cache"
	"github.com/gridviewd/server/internal/grid"
	"github.com/gridviewd/server/internal/render"
	"github.com/gridviewd/server/pkg/logger"
)

var log = logger.GetLogger("service")

// maxWindowCells bounds one window request; larger reads should be paged.
const maxWindowCells = 100000

// maxPreviewSpan caps each axis of a preview read. Previews collapse to a
// fixed-size image anyway, so spans beyond this are clamped, not rejected.
const maxPreviewSpan = 300

// GridServiceConfig contains grid service configuration.
type GridServiceConfig struct {
	DatasetID string
	Model     *grid.Model
	Cache     *cache.Manager
	Renderer  *render.HeatmapRenderer
}

// GridService serves one dataset's windows, previews and slice mutations.
type GridService struct {
	datasetID string
	model     *grid.Model
	cache     *cache.Manager
	renderer  *render.HeatmapRenderer
}

// NewGridService creates a new grid service.
func NewGridService(cfg GridServiceConfig) *GridService {
	datasetID := cfg.DatasetID
	if datasetID == "" {
		datasetID = "default"
	}
	return &GridService{
		datasetID: datasetID,
		model:     cfg.Model,
		cache:     cfg.Cache,
		renderer:  cfg.Renderer,
	}
}

// MetaResponse describes the dataset and its current view.
type MetaResponse struct {
	Dataset    string `json:"dataset"`
	Path       string `json:"path"`
	URI        string `json:"uri"`
	Shape      [2]int `json:"shape"`
	Dtype      string `json:"dtype"`
	Rows       int    `json:"rows"`
	Cols       int    `json:"cols"`
	Slice      string `json:"slice"`
	Generation uint64 `json:"generation"`
}

// Meta returns dataset metadata plus the visible extents under the active slice.
func (s *GridService) Meta() MetaResponse {
	id := s.model.Identity()
	meta := s.model.Meta()
	return MetaResponse{
		Dataset:    s.datasetID,
		Path:       id.Path,
		URI:        id.URI,
		Shape:      [2]int{meta.Shape.Rows, meta.Shape.Cols},
		Dtype:      meta.Dtype,
		Rows:       s.model.RowCount(grid.RegionBody),
		Cols:       s.model.ColumnCount(grid.RegionBody),
		Slice:      s.model.SliceText(),
		Generation: s.model.Generation(),
	}
}

// WindowResponse is the JSON shape of a window read. A null value means the
// containing block is still being fetched; poll again or wait for a
// cells-changed event.
type WindowResponse struct {
	Row0       int          `json:"row0"`
	Col0       int          `json:"col0"`
	Rows       int          `json:"rows"`
	Cols       int          `json:"cols"`
	Values     [][]*float64 `json:"values"`
	Pending    int          `json:"pending"`
	Generation uint64       `json:"generation"`
}

// Window reads a logical rectangle and returns it serialized. Fully resident
// windows are cached; partial ones are not, so a redraw poll sees blocks as
// they land.
func (s *GridService) Window(row0, col0, rows, cols int) ([]byte, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("window spans must be positive, got %dx%d", rows, cols)
	}
	if rows*cols > maxWindowCells {
		return nil, fmt.Errorf("window of %d cells exceeds the %d cell limit", rows*cols, maxWindowCells)
	}

	key := cache.WindowKey(s.datasetID, s.model.Generation(), row0, col0, rows, cols)
	if data, ok := s.cache.GetWindow(key); ok {
		return data, nil
	}

	w := s.model.ReadWindow(row0, col0, rows, cols)
	resp := WindowResponse{
		Row0:       w.Row0,
		Col0:       w.Col0,
		Rows:       len(w.Values),
		Pending:    w.Pending,
		Generation: w.Generation,
		Values:     make([][]*float64, len(w.Values)),
	}
	if resp.Rows > 0 {
		resp.Cols = len(w.Values[0])
	}
	for i := range w.Values {
		row := make([]*float64, len(w.Values[i]))
		for j := range w.Values[i] {
			if w.Present[i][j] {
				v := w.Values[i][j]
				row[j] = &v
			}
		}
		resp.Values[i] = row
	}

	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("marshal window: %w", err)
	}
	if w.Pending == 0 {
		if err := s.cache.SetWindow(key, data); err != nil {
			log.Debugf("window cache set failed: %v", err)
		}
	}
	return data, nil
}

// Preview renders a window as a heatmap PNG. Like Window, only fully
// resident previews are cached.
func (s *GridService) Preview(row0, col0, rows, cols int, colormapName string) ([]byte, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("preview spans must be positive, got %dx%d", rows, cols)
	}
	if rows > maxPreviewSpan {
		rows = maxPreviewSpan
	}
	if cols > maxPreviewSpan {
		cols = maxPreviewSpan
	}
	if colormapName == "" {
		colormapName = "default"
	}

	key := cache.PreviewKey(s.datasetID, s.model.Generation(), row0, col0, rows, cols, colormapName)
	if data, ok := s.cache.GetPreview(key); ok {
		return data, nil
	}

	w := s.model.ReadWindow(row0, col0, rows, cols)
	data, err := s.renderer.RenderWindow(w, colormapName)
	if err != nil {
		return nil, err
	}
	if w.Pending == 0 {
		s.cache.SetPreview(key, data)
	}
	return data, nil
}

// SetSlice applies a new slice expression to the model.
func (s *GridService) SetSlice(text string) {
	s.model.SetSlice(text)
}

// Slice returns the active slice expression.
func (s *GridService) Slice() string {
	return s.model.SliceText()
}

// Subscribe registers a change-notification subscriber on the model.
func (s *GridService) Subscribe() (<-chan grid.Event, func()) {
	return s.model.Subscribe()
}

// DatasetID returns the configured dataset ID.
func (s *GridService) DatasetID() string {
	return s.datasetID
}
