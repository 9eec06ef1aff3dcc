// Package remote implements grid.Source over the dataset service's HTTP API.
//
// The service exposes two endpoints:
//
//	GET {base}/api/dataset/meta?path=&uri=
//	    -> JSON {"shape":[rows,cols],"dtype":"float64"}
//	GET {base}/api/dataset/block?path=&uri=&row0=&row1=&col0=&col1=
//	    -> row-major little-endian cell payload of the dataset dtype,
//	       optionally zstd-compressed (Content-Encoding: zstd)
//
// The block payload dtype is carried in the X-Dtype response header and
// defaults to float64.
package remote

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/gridviewd/server/internal/grid"
)

// Config contains client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client (used by tests).
	HTTPClient *http.Client
}

// Client talks to one remote dataset service.
type Client struct {
	baseURL string
	http    *http.Client
	decoder *zstd.Decoder
}

// NewClient creates a client for the dataset service at cfg.BaseURL.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("remote: empty base_url")
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("remote: create zstd decoder: %w", err)
	}

	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}

	return &Client{baseURL: base, http: hc, decoder: decoder}, nil
}

type metaResponse struct {
	Shape []int  `json:"shape"`
	Dtype string `json:"dtype"`
}

// Metadata fetches the dataset shape and dtype. Invoked once per model open.
func (c *Client) Metadata(ctx context.Context, id grid.Identity) (grid.Meta, error) {
	q := identityQuery(id)
	body, _, err := c.get(ctx, "/api/dataset/meta", q)
	if err != nil {
		return grid.Meta{}, err
	}

	var meta metaResponse
	if err := json.Unmarshal(body, &meta); err != nil {
		return grid.Meta{}, fmt.Errorf("remote: parse metadata for %s: %w", id.Path, err)
	}
	if len(meta.Shape) != 2 {
		return grid.Meta{}, fmt.Errorf("remote: dataset %s is %d-dimensional, want 2", id.Path, len(meta.Shape))
	}

	dtype := meta.Dtype
	if dtype == "" {
		dtype = "float64"
	}
	return grid.Meta{
		Shape: grid.Shape{Rows: meta.Shape[0], Cols: meta.Shape[1]},
		Dtype: dtype,
	}, nil
}

// Block fetches one rectangular cell block.
func (c *Client) Block(ctx context.Context, id grid.Identity, rect grid.Rect) ([][]float64, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("remote: empty block rectangle %+v", rect)
	}

	q := identityQuery(id)
	q.Set("row0", strconv.Itoa(rect.Row0))
	q.Set("row1", strconv.Itoa(rect.Row1))
	q.Set("col0", strconv.Itoa(rect.Col0))
	q.Set("col1", strconv.Itoa(rect.Col1))

	body, header, err := c.get(ctx, "/api/dataset/block", q)
	if err != nil {
		return nil, err
	}

	if header.Get("Content-Encoding") == "zstd" {
		body, err = c.decoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("remote: zstd decompress block: %w", err)
		}
	}

	dtype := header.Get("X-Dtype")
	if dtype == "" {
		dtype = "float64"
	}
	return decodeBlock(body, dtype, rect)
}

// Close releases the zstd decoder.
func (c *Client) Close() {
	c.decoder.Close()
}

func (c *Client) get(ctx context.Context, path string, q url.Values) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("remote: build request: %w", err)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("remote: %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("remote: read %s response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("remote: %s returned %d: %s", path, resp.StatusCode, snippet(body))
	}
	return body, resp.Header, nil
}

func identityQuery(id grid.Identity) url.Values {
	q := url.Values{}
	q.Set("path", id.Path)
	q.Set("uri", id.URI)
	return q
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}

func dtypeSize(dtype string) (int, error) {
	switch dtype {
	case "float32", "int32", "uint32":
		return 4, nil
	case "float64", "int64":
		return 8, nil
	default:
		return 0, fmt.Errorf("remote: unsupported dtype: %s", dtype)
	}
}

// decodeBlock turns a row-major little-endian payload into a 2-D value grid.
func decodeBlock(data []byte, dtype string, rect grid.Rect) ([][]float64, error) {
	size, err := dtypeSize(dtype)
	if err != nil {
		return nil, err
	}
	want := rect.Rows() * rect.Cols() * size
	if len(data) < want {
		return nil, fmt.Errorf("remote: block payload too short: got %d bytes, want %d", len(data), want)
	}

	values := make([][]float64, rect.Rows())
	for i := range values {
		row := make([]float64, rect.Cols())
		for j := range row {
			off := ((i * rect.Cols()) + j) * size
			switch dtype {
			case "float64":
				row[j] = math.Float64frombits(binary.LittleEndian.Uint64(data[off:]))
			case "float32":
				row[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(data[off:])))
			case "int32":
				row[j] = float64(int32(binary.LittleEndian.Uint32(data[off:])))
			case "uint32":
				row[j] = float64(binary.LittleEndian.Uint32(data[off:]))
			case "int64":
				row[j] = float64(int64(binary.LittleEndian.Uint64(data[off:])))
			}
		}
		values[i] = row
	}
	return values, nil
}
