package core

import (
	"bytes"
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"reconstructor/internal/blob"
	"reconstructor/internal/catalog"
	"reconstructor/internal/modelio"
	"reconstructor/internal/network"
	"reconstructor/internal/refdata"
)

const testCatalog = `
version: 1
objectives:
  none: BIO
  positive: BIO
  negative: BIO
media:
  rich: [a_e]
  minimal: [a_e]
  default: [a_e]
base_inputs: [EX_a_e, EX_missing_e]
biomass:
  exchange: EX_biomass_e
  components:
    none: [BIO]
`

func testCatalogT(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load(strings.NewReader(testCatalog))
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return cat
}

// pathwayUniversal holds an uptake exchange, a transporter and a conversion
// feeding the BIO objective, plus an unrelated reaction.
func pathwayUniversal() *network.Network {
	n := network.New("universal")
	n.AddMetabolites(
		network.Metabolite{ID: "a_e", Name: "Substrate", Compartment: network.Extracellular},
		network.Metabolite{ID: "a_c", Name: "Substrate", Compartment: network.Cytosol},
		network.Metabolite{ID: "b_c", Name: "Product", Compartment: network.Cytosol},
	)
	n.AddReactions(
		network.Reaction{ID: "EX_a_e", Name: "Exchange reaction for Substrate", Metabolites: map[string]float64{"a_e": -1}, LowerBound: -network.DefaultBound, UpperBound: network.DefaultBound},
		network.Reaction{ID: "rxn01_c", Metabolites: map[string]float64{"a_e": -1, "a_c": 1}, LowerBound: 0, UpperBound: network.DefaultBound},
		network.Reaction{ID: "rxn02_c", Metabolites: map[string]float64{"a_c": -1, "b_c": 1}, LowerBound: 0, UpperBound: network.DefaultBound},
		network.Reaction{ID: "BIO", Metabolites: map[string]float64{"b_c": -1}, LowerBound: 0, UpperBound: network.DefaultBound},
		network.Reaction{ID: "rxn09_c", Metabolites: map[string]float64{"z_c": -1, "y_c": 1}, LowerBound: -network.DefaultBound, UpperBound: network.DefaultBound},
	)
	return n
}

func testBundle() refdata.Bundle {
	return refdata.Bundle{
		Manifest:      refdata.Manifest{Version: "test-1"},
		GeneReactions: map[string][]string{"eco:b0001": {"rxn01"}, "eco:b0002": {"rxn77"}},
		GeneNames:     map[string]string{"eco:b0001": "substrate permease"},
		Universal:     pathwayUniversal(),
	}
}

type fakeSource struct {
	bundle refdata.Bundle
	err    error
	loads  int
}

func (f *fakeSource) Load(context.Context) (refdata.Bundle, error) {
	f.loads++
	return f.bundle, f.err
}

func (f *fakeSource) Driver() refdata.Driver { return refdata.DriverFile }

type fakeAligner struct {
	report string
	err    error
	query  string
}

func (f *fakeAligner) Blastp(_ context.Context, query, out string) error {
	f.query = query
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(out, []byte(f.report), 0o600)
}

type captureLogger struct {
	mu      sync.Mutex
	entries []string
}

func (c *captureLogger) add(level, msg string) {
	c.mu.Lock()
	c.entries = append(c.entries, level+":"+msg)
	c.mu.Unlock()
}

func (c *captureLogger) Debug(msg string, _ ...any) { c.add("d", msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.add("i", msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.add("w", msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.add("e", msg) }

func (c *captureLogger) has(entry string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e == entry {
			return true
		}
	}
	return false
}

type metricsCall struct {
	op      string
	success bool
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, _ time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

func (c *captureMetricsRecorder) ops() []string {
	out := make([]string, 0, len(c.calls))
	for _, call := range c.calls {
		out = append(out, call.op)
	}
	return out
}

type spanRecord struct {
	op  string
	err error
}

type captureTracer struct {
	ended []spanRecord
	// cancelAt hands the named stage an already cancelled context.
	cancelAt string
}

func (c *captureTracer) Start(ctx context.Context, op string) (context.Context, TraceSpan) {
	if op == c.cancelAt {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		ctx = cancelled
	}
	return ctx, &captureSpan{tracer: c, op: op}
}

func (c *captureTracer) failed(op string) bool {
	for _, r := range c.ended {
		if r.op == op && r.err != nil {
			return true
		}
	}
	return false
}

type captureSpan struct {
	tracer *captureTracer
	op     string
}

func (s *captureSpan) End(err error) {
	s.tracer.ended = append(s.tracer.ended, spanRecord{op: s.op, err: err})
}

func put(t *testing.T, store blob.Store, key, body string) {
	t.Helper()
	if _, err := store.Put(context.Background(), key, strings.NewReader(body), blob.PutOptions{Overwrite: true}); err != nil {
		t.Fatalf("put %s: %v", key, err)
	}
}

func putModel(t *testing.T, store blob.Store, key string, n *network.Network) {
	t.Helper()
	var buf bytes.Buffer
	if err := modelio.Write(&buf, n); err != nil {
		t.Fatalf("encode model: %v", err)
	}
	put(t, store, key, buf.String())
}

func readModel(t *testing.T, store blob.Store, key string) (*network.Network, blob.Info) {
	t.Helper()
	info, rc, err := store.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	defer rc.Close()
	n, err := modelio.Read(rc)
	if err != nil {
		t.Fatalf("decode %s: %v", key, err)
	}
	return n, info
}

func fixedClock() Clock {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	var calls int
	return ClockFunc(func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	})
}

func newMemoryWithHits(t *testing.T) blob.Store {
	t.Helper()
	store := blob.NewMemory()
	put(t, store, "sample.tsv", sampleHits)
	return store
}
