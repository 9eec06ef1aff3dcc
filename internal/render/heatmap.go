// Package render provides heatmap preview rendering using fogleman/gg.
package render

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"sync"

	"github.com/fogleman/gg"

	"github.com/gridviewd/server/internal/grid"
	"github.com/gridviewd/server/pkg/colormap"
)

// Config contains renderer configuration.
type Config struct {
	PreviewSize     int
	DefaultColormap string
}

// pendingColor marks cells whose block is not resident yet.
var pendingColor = color.RGBA{224, 224, 224, 255}

// HeatmapRenderer renders window previews.
type HeatmapRenderer struct {
	config      Config
	contextPool sync.Pool
	bufferPool  sync.Pool
	colormaps   map[string]colormap.Colormap
}

// NewHeatmapRenderer creates a new heatmap renderer.
func NewHeatmapRenderer(cfg Config) *HeatmapRenderer {
	if cfg.PreviewSize <= 0 {
		cfg.PreviewSize = 256
	}
	if cfg.DefaultColormap == "" {
		cfg.DefaultColormap = "viridis"
	}

	r := &HeatmapRenderer{
		config: cfg,
		contextPool: sync.Pool{
			New: func() interface{} {
				return gg.NewContext(cfg.PreviewSize, cfg.PreviewSize)
			},
		},
		bufferPool: sync.Pool{
			New: func() interface{} {
				return bytes.NewBuffer(make([]byte, 0, 32*1024))
			},
		},
		colormaps: make(map[string]colormap.Colormap),
	}

	r.colormaps["viridis"] = colormap.Viridis
	r.colormaps["plasma"] = colormap.Plasma
	r.colormaps["inferno"] = colormap.Inferno
	r.colormaps["grays"] = colormap.Grays

	return r
}

// RenderWindow renders a window as a heatmap PNG. Values are normalized over
// the resident cells of the window; pending cells render gray.
func (r *HeatmapRenderer) RenderWindow(w *grid.Window, colormapName string) ([]byte, error) {
	rows := len(w.Values)
	if rows == 0 || len(w.Values[0]) == 0 {
		return nil, fmt.Errorf("render: empty window")
	}
	cols := len(w.Values[0])

	cmap, ok := r.colormaps[colormapName]
	if !ok {
		cmap = r.colormaps[r.config.DefaultColormap]
	}

	lo, hi, any := windowRange(w)
	span := hi - lo
	if span == 0 {
		span = 1
	}

	dc := r.contextPool.Get().(*gg.Context)
	defer r.contextPool.Put(dc)

	dc.SetColor(color.White)
	dc.Clear()

	size := float64(r.config.PreviewSize)
	cellW := size / float64(cols)
	cellH := size / float64(rows)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if !w.Present[i][j] || !any {
				dc.SetColor(pendingColor)
			} else {
				dc.SetColor(cmap.At((w.Values[i][j] - lo) / span))
			}
			dc.DrawRectangle(float64(j)*cellW, float64(i)*cellH, cellW, cellH)
			dc.Fill()
		}
	}

	return r.encodeContext(dc)
}

func windowRange(w *grid.Window) (lo, hi float64, any bool) {
	for i := range w.Values {
		for j := range w.Values[i] {
			if !w.Present[i][j] {
				continue
			}
			v := w.Values[i][j]
			if !any {
				lo, hi = v, v
				any = true
				continue
			}
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
	}
	return lo, hi, any
}

func (r *HeatmapRenderer) encodeContext(dc *gg.Context) ([]byte, error) {
	buf := r.bufferPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		r.bufferPool.Put(buf)
	}()

	// Use fast PNG encoder
	encoder := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := encoder.Encode(buf, dc.Image()); err != nil {
		return nil, err
	}

	// Copy buffer contents (buffer will be reused)
	result := make([]byte, buf.Len())
	copy(result, buf.Bytes())
	return result, nil
}
