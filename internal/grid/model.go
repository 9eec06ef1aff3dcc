// Package grid implements an out-of-core view over a large remote 2-D array.
//
// The model partitions the dataset's physical address space into fixed-size
// blocks, tracks per-block fetch state (absent, in-flight, resident) and
// answers point lookups without ever blocking: a miss returns a pending
// placeholder and schedules exactly one asynchronous fetch for the containing
// block. Completed fetches install data and publish cells-changed events so
// the consumer redraws only the affected rectangle.
//
// A slice expression narrows the visible window; applying one discards all
// block state and bumps a generation counter so fetches issued under the old
// mapping are cancelled, and any that still complete are discarded.
package grid

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gridviewd/server/internal/slice"
	"github.com/gridviewd/server/pkg/logger"
)

var log = logger.GetLogger("grid")

// Region names the part of the consumer's grid a query refers to. Only the
// body touches the block cache; headers are synthesized from coordinates.
type Region string

const (
	RegionBody         Region = "body"
	RegionRowHeader    Region = "row-header"
	RegionColumnHeader Region = "column-header"
	RegionCornerHeader Region = "corner-header"
)

// CellKind tags the variants of a cell lookup result.
type CellKind int

const (
	// CellPending means the containing block is not resident yet; render a
	// placeholder and wait for a cells-changed event.
	CellPending CellKind = iota
	// CellNumber carries a resident body value.
	CellNumber
	// CellLabel carries a header label.
	CellLabel
)

// CellValue is the result of a point lookup.
type CellValue struct {
	Kind   CellKind
	Number float64
	Label  string
}

// Source serves dataset metadata and rectangular cell blocks. Implementations
// must be safe for concurrent use; Block is called once per missing block.
type Source interface {
	Metadata(ctx context.Context, id Identity) (Meta, error)
	Block(ctx context.Context, id Identity, rect Rect) ([][]float64, error)
}

// Config configures a Model.
type Config struct {
	Identity  Identity
	Source    Source
	BlockSize int // cells per block side, default 100
	// MaxResidentBlocks bounds cache memory; least-recently-used resident
	// blocks fall back to absent and are refetched on next touch. Default 1024.
	MaxResidentBlocks int
	// Shape, when set, skips the metadata fetch in Open (direct-parameter
	// construction).
	Shape *Shape
}

const (
	defaultBlockSize         = 100
	defaultMaxResidentBlocks = 1024
)

type block struct {
	rect   Rect
	values [][]float64
}

// Model is the block-cached virtual view over one dataset. All state
// transitions happen under one mutex; lookups never block on I/O.
type Model struct {
	id        Identity
	source    Source
	blockSize int
	events    *hub
	ready     chan struct{}

	mu          sync.Mutex
	meta        Meta
	opened      bool
	closed      bool
	sliceText   string
	rowRange    slice.Range
	colRange    slice.Range
	resident    *lru.Cache[BlockCoord, *block]
	inflight    map[BlockCoord]struct{}
	generation  uint64
	fetchCtx    context.Context
	fetchCancel context.CancelFunc
}

// New creates a model for one dataset. If cfg.Shape is nil the model is not
// queryable until Open succeeds.
func New(cfg Config) (*Model, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("grid: nil source for dataset %s", cfg.Identity.Path)
	}
	blockSize := cfg.BlockSize
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	maxBlocks := cfg.MaxResidentBlocks
	if maxBlocks <= 0 {
		maxBlocks = defaultMaxResidentBlocks
	}

	resident, err := lru.New[BlockCoord, *block](maxBlocks)
	if err != nil {
		return nil, fmt.Errorf("grid: create resident cache: %w", err)
	}

	m := &Model{
		id:        cfg.Identity,
		source:    cfg.Source,
		blockSize: blockSize,
		events:    newHub(),
		ready:     make(chan struct{}),
		resident:  resident,
		inflight:  make(map[BlockCoord]struct{}),
	}
	m.fetchCtx, m.fetchCancel = context.WithCancel(context.Background())

	if cfg.Shape != nil {
		m.meta = Meta{Shape: *cfg.Shape}
		m.opened = true
		close(m.ready)
	}
	return m, nil
}

// Open fetches metadata once and makes the model queryable. A metadata
// failure is returned to the caller; readiness never resolves silently.
func (m *Model) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.opened {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	meta, err := m.source.Metadata(ctx, m.id)
	if err != nil {
		return fmt.Errorf("grid: metadata for %s: %w", m.id.Path, err)
	}

	m.mu.Lock()
	if m.opened {
		m.mu.Unlock()
		return nil
	}
	m.meta = meta
	m.opened = true
	rows := effectiveCount(m.rowRange, meta.Shape.Rows)
	cols := effectiveCount(m.colRange, meta.Shape.Cols)
	close(m.ready)
	m.mu.Unlock()

	m.events.publish(Event{Type: EventRowsInserted, Region: RegionBody, Index: 0, Span: rows})
	m.events.publish(Event{Type: EventColumnsInserted, Region: RegionBody, Index: 0, Span: cols})
	return nil
}

// Ready is closed once the shape is known.
func (m *Model) Ready() <-chan struct{} { return m.ready }

// Identity returns the dataset identity.
func (m *Model) Identity() Identity { return m.id }

// Meta returns the dataset metadata (zero before Open completes).
func (m *Model) Meta() Meta {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta
}

// Generation returns the slice generation, incremented on every reset. Cache
// keys derived from the model should include it.
func (m *Model) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// SliceText returns the last applied slice expression.
func (m *Model) SliceText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sliceText
}

// Subscribe registers a change-notification subscriber. The returned function
// unsubscribes and closes the channel. Events are dropped, not queued, when
// the subscriber stops draining.
func (m *Model) Subscribe() (<-chan Event, func()) {
	return m.events.subscribe()
}

// RowCount reports the visible row extent of a region.
func (m *Model) RowCount(region Region) int {
	if region != RegionBody && region != RegionRowHeader {
		return 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return effectiveCount(m.rowRange, m.meta.Shape.Rows)
}

// ColumnCount reports the visible column extent of a region.
func (m *Model) ColumnCount(region Region) int {
	if region != RegionBody && region != RegionColumnHeader {
		return 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return effectiveCount(m.colRange, m.meta.Shape.Cols)
}

// Data answers a point lookup. Header regions synthesize labels from the
// physical coordinates; body lookups go through the block cache and return a
// pending placeholder while the containing block is fetched. Never blocks.
func (m *Model) Data(region Region, row, col int) CellValue {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch region {
	case RegionRowHeader:
		return CellValue{Kind: CellLabel, Label: strconv.Itoa(toPhysical(m.rowRange, row))}
	case RegionColumnHeader:
		return CellValue{Kind: CellLabel, Label: strconv.Itoa(toPhysical(m.colRange, col))}
	case RegionCornerHeader:
		return CellValue{Kind: CellLabel}
	}
	return m.lookupLocked(row, col)
}

// Window is a batch read of a logical rectangle, triggering fetches for every
// missing block it touches.
type Window struct {
	Row0       int
	Col0       int
	Values     [][]float64
	Present    [][]bool
	Pending    int
	Generation uint64
}

// ReadWindow reads the logical rectangle [row0,row0+rows) x [col0,col0+cols),
// clamped to the visible extents. Missing cells come back as pending with
// their blocks scheduled, exactly as per-cell lookups would.
func (m *Model) ReadWindow(row0, col0, rows, cols int) *Window {
	m.mu.Lock()
	defer m.mu.Unlock()

	totalRows := effectiveCount(m.rowRange, m.meta.Shape.Rows)
	totalCols := effectiveCount(m.colRange, m.meta.Shape.Cols)
	row0 = clamp(row0, 0, totalRows)
	col0 = clamp(col0, 0, totalCols)
	rows = clamp(rows, 0, totalRows-row0)
	cols = clamp(cols, 0, totalCols-col0)

	w := &Window{
		Row0:       row0,
		Col0:       col0,
		Values:     make([][]float64, rows),
		Present:    make([][]bool, rows),
		Generation: m.generation,
	}
	for i := 0; i < rows; i++ {
		w.Values[i] = make([]float64, cols)
		w.Present[i] = make([]bool, cols)
		for j := 0; j < cols; j++ {
			cv := m.lookupLocked(row0+i, col0+j)
			if cv.Kind == CellNumber {
				w.Values[i][j] = cv.Number
				w.Present[i][j] = true
			} else {
				w.Pending++
			}
		}
	}
	return w
}

// lookupLocked resolves one body cell. Caller holds m.mu.
func (m *Model) lookupLocked(row, col int) CellValue {
	if !m.opened || m.closed {
		return CellValue{Kind: CellPending}
	}

	pr := toPhysical(m.rowRange, row)
	pc := toPhysical(m.colRange, col)
	if pr < 0 || pr >= m.meta.Shape.Rows || pc < 0 || pc >= m.meta.Shape.Cols {
		return CellValue{Kind: CellPending}
	}

	bc := blockAt(pr, pc, m.blockSize)
	if b, ok := m.resident.Get(bc); ok {
		return CellValue{Kind: CellNumber, Number: b.values[pr-b.rect.Row0][pc-b.rect.Col0]}
	}
	if _, ok := m.inflight[bc]; ok {
		return CellValue{Kind: CellPending}
	}

	// Absent -> in-flight happens here, under the lock and before the request
	// goroutine starts: at most one fetch per block coordinate.
	m.inflight[bc] = struct{}{}
	go m.fetchBlock(m.fetchCtx, m.generation, bc)
	return CellValue{Kind: CellPending}
}

// fetchBlock runs one asynchronous block fetch. A completion whose generation
// no longer matches is a stale leftover from before a reset and is discarded.
// A failed fetch returns the block to absent so the next touch retries.
func (m *Model) fetchBlock(ctx context.Context, gen uint64, bc BlockCoord) {
	rect := blockRect(bc, m.blockSize, m.meta.Shape)
	values, err := m.source.Block(ctx, m.id, rect)
	if err == nil {
		err = checkBlockShape(values, rect)
	}

	m.mu.Lock()
	if gen != m.generation || m.closed {
		m.mu.Unlock()
		return
	}
	delete(m.inflight, bc)
	if err != nil {
		m.mu.Unlock()
		log.Warnf("block (%d,%d) of %s failed, retrying on next touch: %v", bc.Row, bc.Col, m.id.Path, err)
		return
	}
	m.resident.Add(bc, &block{rect: rect, values: values})
	ev, ok := m.cellsChangedLocked(rect)
	m.mu.Unlock()

	if ok {
		m.events.publish(ev)
	}
}

func checkBlockShape(values [][]float64, rect Rect) error {
	if len(values) != rect.Rows() {
		return fmt.Errorf("block has %d rows, want %d", len(values), rect.Rows())
	}
	for i, r := range values {
		if len(r) != rect.Cols() {
			return fmt.Errorf("block row %d has %d cols, want %d", i, len(r), rect.Cols())
		}
	}
	return nil
}

// cellsChangedLocked translates a physical rectangle into a logical
// cells-changed event, clipped to the visible extents. Caller holds m.mu.
func (m *Model) cellsChangedLocked(rect Rect) (Event, bool) {
	r0 := clamp(rect.Row0-originOf(m.rowRange), 0, effectiveCount(m.rowRange, m.meta.Shape.Rows))
	r1 := clamp(rect.Row1-originOf(m.rowRange), 0, effectiveCount(m.rowRange, m.meta.Shape.Rows))
	c0 := clamp(rect.Col0-originOf(m.colRange), 0, effectiveCount(m.colRange, m.meta.Shape.Cols))
	c1 := clamp(rect.Col1-originOf(m.colRange), 0, effectiveCount(m.colRange, m.meta.Shape.Cols))
	if r1 <= r0 || c1 <= c0 {
		return Event{}, false
	}
	return Event{
		Type:    EventCellsChanged,
		Region:  RegionBody,
		Row:     r0,
		Col:     c0,
		RowSpan: r1 - r0,
		ColSpan: c1 - c0,
	}, true
}

// SetSlice applies a new slice expression. All block state is discarded, the
// generation advances (cancelling and invalidating outstanding fetches), and
// the consumer is told to reset and re-learn the extents.
func (m *Model) SetSlice(text string) {
	ranges := slice.Parse(text)
	var rowRange, colRange slice.Range
	if len(ranges) > 0 {
		rowRange = ranges[0]
	}
	if len(ranges) > 1 {
		colRange = ranges[1]
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.sliceText = text
	m.rowRange = rowRange
	m.colRange = colRange
	m.generation++
	m.fetchCancel()
	m.fetchCtx, m.fetchCancel = context.WithCancel(context.Background())
	m.resident.Purge()
	m.inflight = make(map[BlockCoord]struct{})
	rows := effectiveCount(m.rowRange, m.meta.Shape.Rows)
	cols := effectiveCount(m.colRange, m.meta.Shape.Cols)
	m.mu.Unlock()

	m.events.publish(Event{Type: EventModelReset})
	m.events.publish(Event{Type: EventRowsInserted, Region: RegionBody, Index: 0, Span: rows})
	m.events.publish(Event{Type: EventColumnsInserted, Region: RegionBody, Index: 0, Span: cols})
}

// Close cancels outstanding fetches and closes all subscriber channels.
func (m *Model) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.fetchCancel()
	m.resident.Purge()
	m.inflight = make(map[BlockCoord]struct{})
	m.mu.Unlock()

	m.events.close()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
