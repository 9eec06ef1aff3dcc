package grid

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeSource serves deterministic cell values: cell (r, c) holds r*1e6 + c.
type fakeSource struct {
	mu    sync.Mutex
	meta  Meta
	calls int
	fails int           // number of Block calls to fail before succeeding
	gate  chan struct{} // when set, Block waits here before returning
}

func newFakeSource(rows, cols int) *fakeSource {
	return &fakeSource{meta: Meta{Shape: Shape{Rows: rows, Cols: cols}, Dtype: "float64"}}
}

func cellValue(row, col int) float64 {
	return float64(row*1000000 + col)
}

func (s *fakeSource) Metadata(ctx context.Context, id Identity) (Meta, error) {
	return s.meta, nil
}

func (s *fakeSource) Block(ctx context.Context, id Identity, rect Rect) ([][]float64, error) {
	s.mu.Lock()
	s.calls++
	gate := s.gate
	fail := s.fails > 0
	if fail {
		s.fails--
	}
	s.mu.Unlock()

	if gate != nil {
		// Deliberately ignores ctx: simulates a late arrival after a reset.
		<-gate
	}
	if fail {
		return nil, errors.New("backend unavailable")
	}

	values := make([][]float64, rect.Rows())
	for i := range values {
		values[i] = make([]float64, rect.Cols())
		for j := range values[i] {
			values[i][j] = cellValue(rect.Row0+i, rect.Col0+j)
		}
	}
	return values, nil
}

func (s *fakeSource) blockCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestModel(t *testing.T, src *fakeSource) *Model {
	t.Helper()
	m, err := New(Config{
		Identity: Identity{Path: "data.h5", URI: "/table"},
		Source:   src,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func waitEvent(t *testing.T, ch <-chan Event, typ EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %s", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", typ)
		}
	}
}

// waitResident polls Data until the cell is readable.
func waitResident(t *testing.T, m *Model, row, col int) CellValue {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		cv := m.Data(RegionBody, row, col)
		if cv.Kind == CellNumber {
			return cv
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("cell never became resident")
	return CellValue{}
}

func TestCountsAndMapping(t *testing.T) {
	src := newFakeSource(250, 250)
	m := newTestModel(t, src)

	if got := m.RowCount(RegionBody); got != 250 {
		t.Fatalf("unsliced RowCount = %d, want 250", got)
	}

	m.SetSlice("10:20,5:15")
	if got := m.RowCount(RegionBody); got != 10 {
		t.Fatalf("sliced RowCount = %d, want 10", got)
	}
	if got := m.ColumnCount(RegionBody); got != 10 {
		t.Fatalf("sliced ColumnCount = %d, want 10", got)
	}

	// Logical (0,0) maps to physical (10,5).
	cv := waitResident(t, m, 0, 0)
	if cv.Number != cellValue(10, 5) {
		t.Fatalf("Data(0,0) = %v, want value of physical (10,5)", cv.Number)
	}

	// Header labels are synthesized from physical coordinates.
	if got := m.Data(RegionRowHeader, 0, 0); got.Label != "10" {
		t.Fatalf("row header = %q, want %q", got.Label, "10")
	}
	if got := m.Data(RegionColumnHeader, 0, 0); got.Label != "5" {
		t.Fatalf("column header = %q, want %q", got.Label, "5")
	}
}

func TestZeroStartSliceIsBounded(t *testing.T) {
	src := newFakeSource(250, 250)
	m := newTestModel(t, src)

	// A start bound of 0 is a real bound, not "unset".
	m.SetSlice("0:5,0:7")
	if got := m.RowCount(RegionBody); got != 5 {
		t.Fatalf("RowCount = %d, want 5", got)
	}
	if got := m.ColumnCount(RegionBody); got != 7 {
		t.Fatalf("ColumnCount = %d, want 7", got)
	}
}

func TestEmptySliceFallsBackToFullExtent(t *testing.T) {
	src := newFakeSource(120, 80)
	m := newTestModel(t, src)

	m.SetSlice("10:20,5:15")
	m.SetSlice("")
	if got := m.RowCount(RegionBody); got != 120 {
		t.Fatalf("RowCount = %d, want 120", got)
	}
	if got := m.ColumnCount(RegionBody); got != 80 {
		t.Fatalf("ColumnCount = %d, want 80", got)
	}
}

func TestFetchDedup(t *testing.T) {
	src := newFakeSource(250, 250)
	src.gate = make(chan struct{})
	m := newTestModel(t, src)

	// Concurrent lookups into the same block while the fetch is held open.
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Data(RegionBody, i%10, i/2)
		}(i)
	}
	wg.Wait()

	if got := src.blockCalls(); got != 1 {
		t.Fatalf("expected exactly 1 block request in flight, got %d", got)
	}

	close(src.gate)
	waitResident(t, m, 0, 0)

	// Cache hits issue no further requests.
	for i := 0; i < 10; i++ {
		m.Data(RegionBody, i, i)
	}
	if got := src.blockCalls(); got != 1 {
		t.Fatalf("cache hits issued extra requests: %d total", got)
	}
}

func TestCellsChangedCoversBlock(t *testing.T) {
	src := newFakeSource(250, 250)
	m := newTestModel(t, src)

	ch, unsub := m.Subscribe()
	defer unsub()

	if cv := m.Data(RegionBody, 205, 210); cv.Kind != CellPending {
		t.Fatalf("first lookup should be pending, got kind %d", cv.Kind)
	}

	ev := waitEvent(t, ch, EventCellsChanged)
	if ev.Row != 200 || ev.Col != 200 || ev.RowSpan != 50 || ev.ColSpan != 50 {
		t.Fatalf("cells-changed = %+v, want clipped edge block [200,250)x[200,250)", ev)
	}
}

func TestResetDiscardsResidentBlocks(t *testing.T) {
	src := newFakeSource(250, 250)
	m := newTestModel(t, src)

	waitResident(t, m, 0, 0)
	if got := src.blockCalls(); got != 1 {
		t.Fatalf("expected 1 request before reset, got %d", got)
	}

	m.SetSlice("")

	// The previously resident cell must be refetched.
	if cv := m.Data(RegionBody, 0, 0); cv.Kind != CellPending {
		t.Fatal("lookup after reset should miss")
	}
	waitResident(t, m, 0, 0)
	if got := src.blockCalls(); got != 2 {
		t.Fatalf("expected a fresh request after reset, got %d total", got)
	}
}

func TestStaleCompletionDiscarded(t *testing.T) {
	src := newFakeSource(250, 250)
	src.gate = make(chan struct{})
	m := newTestModel(t, src)

	ch, unsub := m.Subscribe()
	defer unsub()

	// Start a fetch under the initial mapping, then reset while it is held.
	m.Data(RegionBody, 0, 0)
	m.SetSlice("10:20,5:15")

	// Drain the reset announcements, then let the stale fetch complete.
	waitEvent(t, ch, EventColumnsInserted)
	close(src.gate)

	// The stale completion must not install data or announce changes: the
	// next lookup misses and fetches under the new generation.
	select {
	case ev := <-ch:
		if ev.Type == EventCellsChanged {
			t.Fatalf("stale completion leaked a cells-changed event: %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}

	cv := waitResident(t, m, 0, 0)
	if cv.Number != cellValue(10, 5) {
		t.Fatalf("post-reset value = %v, want value of physical (10,5)", cv.Number)
	}
}

func TestFailedFetchIsRetryable(t *testing.T) {
	src := newFakeSource(250, 250)
	src.fails = 1
	m := newTestModel(t, src)

	cv := waitResident(t, m, 0, 0)
	if cv.Number != cellValue(0, 0) {
		t.Fatalf("retried value = %v, want %v", cv.Number, cellValue(0, 0))
	}
	if got := src.blockCalls(); got != 2 {
		t.Fatalf("expected failed attempt + retry, got %d requests", got)
	}
}

func TestSetSliceEventSequence(t *testing.T) {
	src := newFakeSource(250, 250)
	m := newTestModel(t, src)

	ch, unsub := m.Subscribe()
	defer unsub()

	m.SetSlice("10:20,5:15")

	ev := <-ch
	if ev.Type != EventModelReset {
		t.Fatalf("first event = %s, want %s", ev.Type, EventModelReset)
	}
	ev = <-ch
	if ev.Type != EventRowsInserted || ev.Span != 10 {
		t.Fatalf("second event = %+v, want rows-inserted span 10", ev)
	}
	ev = <-ch
	if ev.Type != EventColumnsInserted || ev.Span != 10 {
		t.Fatalf("third event = %+v, want columns-inserted span 10", ev)
	}
}

func TestReadWindow(t *testing.T) {
	src := newFakeSource(250, 250)
	m := newTestModel(t, src)

	w := m.ReadWindow(0, 0, 5, 5)
	if w.Pending != 25 {
		t.Fatalf("cold window: %d pending, want 25", w.Pending)
	}

	waitResident(t, m, 0, 0)
	w = m.ReadWindow(0, 0, 5, 5)
	if w.Pending != 0 {
		t.Fatalf("warm window still has %d pending cells", w.Pending)
	}
	if w.Values[3][4] != cellValue(3, 4) {
		t.Fatalf("window value [3][4] = %v, want %v", w.Values[3][4], cellValue(3, 4))
	}

	// Clamped to the visible extent.
	w = m.ReadWindow(245, 245, 20, 20)
	if len(w.Values) != 5 || len(w.Values[0]) != 5 {
		t.Fatalf("clamped window is %dx%d, want 5x5", len(w.Values), len(w.Values[0]))
	}
}

func TestOpenSurfacesMetadataFailure(t *testing.T) {
	src := newFakeSource(1, 1)
	m, err := New(Config{
		Identity: Identity{Path: "missing.h5"},
		Source:   failingMetaSource{src},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	if err := m.Open(context.Background()); err == nil {
		t.Fatal("Open should return the metadata error")
	}
	select {
	case <-m.Ready():
		t.Fatal("model became ready despite metadata failure")
	default:
	}
}

type failingMetaSource struct{ *fakeSource }

func (failingMetaSource) Metadata(ctx context.Context, id Identity) (Meta, error) {
	return Meta{}, errors.New("metadata unreachable")
}

func TestDirectShapeSkipsMetadata(t *testing.T) {
	src := newFakeSource(0, 0) // metadata would report an empty shape
	m, err := New(Config{
		Identity: Identity{Path: "data.h5"},
		Source:   src,
		Shape:    &Shape{Rows: 42, Cols: 7},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer m.Close()

	select {
	case <-m.Ready():
	default:
		t.Fatal("model with a direct shape should be ready immediately")
	}
	if got := m.RowCount(RegionBody); got != 42 {
		t.Fatalf("RowCount = %d, want 42", got)
	}
}
