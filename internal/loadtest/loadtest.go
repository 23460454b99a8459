// Package loadtest exercises the relationship engine under concurrent load.
//
// A test graph is a layered DAG of "note" documents: every document outside
// the first layer has one or two parents in the layer above it. Writers then
// race to add edges, a share of them reversed existing edges that must be
// rejected as cycles, while readers walk ancestors, descendants and
// breadcrumbs. Afterwards the whole graph is checked for cycles.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/docgraph/internal/engine"
	"github.com/mschirtzinger/docgraph/internal/store/db"
	"github.com/mschirtzinger/docgraph/internal/typereg"
	"github.com/mschirtzinger/docgraph/internal/types"
)

// TestGraph is a populated database plus the engine driving it.
type TestGraph struct {
	DB     *db.DB
	Engine *engine.Engine

	DocIDs []string
	// Layer of each document, by index into DocIDs.
	Layer []int
	Edges []*types.Relationship
}

// LatencyStats captures the latency distribution of one operation kind.
type LatencyStats struct {
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Count int
}

// Report aggregates a Run.
type Report struct {
	Writes *LatencyStats
	Reads  *LatencyStats

	Created           int
	RejectedCycle     int
	RejectedDuplicate int
	RejectedOther     int
	Errors            int

	// BackEdgesAttempted counts reversed-edge writes; every one of them must
	// land in RejectedCycle.
	BackEdgesAttempted int
	Elapsed            time.Duration
}

// Options controls Run.
type Options struct {
	Writers         int
	Readers         int
	OpsPerWorker    int
	BackEdgePercent int
	Seed            int64
}

// DefaultOptions returns a small but contended workload.
func DefaultOptions() Options {
	return Options{
		Writers:         8,
		Readers:         8,
		OpsPerWorker:    50,
		BackEdgePercent: 20,
		Seed:            42,
	}
}

// CreateTestGraph creates a database at dbPath holding numDocs documents in
// the given number of layers.
func CreateTestGraph(ctx context.Context, dbPath string, numDocs, layers int, logger *zap.SugaredLogger) (*TestGraph, error) {
	if numDocs < 2 || layers < 2 || layers > numDocs {
		return nil, fmt.Errorf("need at least 2 documents and 2..numDocs layers (got %d docs, %d layers)", numDocs, layers)
	}

	database, err := db.Open(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.InitSchemaContext(ctx); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	cfg := engine.DefaultConfig()
	// Bound cycle checks by the graph size so no cycle can slip past.
	cfg.CycleCheckDepth = numDocs
	cfg.AncestorDepth = layers
	cfg.DescendantDepth = layers

	tg := &TestGraph{
		DB:     database,
		Engine: engine.New(database, typereg.Default(), cfg, engine.WithLogger(logger)),
		DocIDs: make([]string, numDocs),
		Layer:  make([]int, numDocs),
	}

	byLayer := make([][]int, layers)
	for i := 0; i < numDocs; i++ {
		id := fmt.Sprintf("load-%05d", i)
		layer := i * layers / numDocs
		tg.DocIDs[i] = id
		tg.Layer[i] = layer
		byLayer[layer] = append(byLayer[layer], i)

		doc := &types.Document{
			ID:           id,
			Title:        fmt.Sprintf("Load %d (layer %d)", i, layer),
			DocumentType: "note",
			Content:      fmt.Sprintf("load test document %d", i),
		}
		if _, err := database.UpsertDocument(ctx, doc); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("failed to insert document %s: %w", id, err)
		}
	}

	rng := rand.New(rand.NewSource(42))
	var items []types.RelationshipInput
	for layer := 1; layer < layers; layer++ {
		above := byLayer[layer-1]
		for _, child := range byLayer[layer] {
			first := above[rng.Intn(len(above))]
			items = append(items, types.RelationshipInput{ParentID: tg.DocIDs[first], ChildID: tg.DocIDs[child]})
			if len(above) > 1 && rng.Intn(2) == 0 {
				second := above[rng.Intn(len(above))]
				if second != first {
					items = append(items, types.RelationshipInput{
						ParentID:         tg.DocIDs[second],
						ChildID:          tg.DocIDs[child],
						RelationshipType: types.RelReference,
					})
				}
			}
		}
	}

	tg.Edges, err = tg.Engine.CreateBulkRelationships(ctx, items)
	if err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("failed to create relationships: %w", err)
	}
	return tg, nil
}

// Close closes the test database.
func (tg *TestGraph) Close() error {
	if tg.DB != nil {
		return tg.DB.Close()
	}
	return nil
}

type sample struct {
	write    bool
	backEdge bool
	elapsed  time.Duration
	err      error
}

// Run starts opts.Writers writer and opts.Readers reader goroutines, each
// doing opts.OpsPerWorker operations, and aggregates the outcome.
func (tg *TestGraph) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.OpsPerWorker <= 0 || opts.Writers+opts.Readers <= 0 {
		return nil, fmt.Errorf("nothing to run: %d writers, %d readers, %d ops", opts.Writers, opts.Readers, opts.OpsPerWorker)
	}

	samples := make(chan sample, (opts.Writers+opts.Readers)*opts.OpsPerWorker)
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < opts.Writers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(opts.Seed + int64(worker)))
			for j := 0; j < opts.OpsPerWorker && ctx.Err() == nil; j++ {
				samples <- tg.write(ctx, rng, opts.BackEdgePercent)
			}
		}(i)
	}
	for i := 0; i < opts.Readers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(opts.Seed + 1000 + int64(worker)))
			for j := 0; j < opts.OpsPerWorker && ctx.Err() == nil; j++ {
				samples <- tg.read(ctx, rng)
			}
		}(i)
	}

	wg.Wait()
	close(samples)

	report := &Report{Elapsed: time.Since(start)}
	var writes, reads []time.Duration
	for s := range samples {
		if !s.write {
			reads = append(reads, s.elapsed)
			if s.err != nil {
				report.Errors++
			}
			continue
		}

		writes = append(writes, s.elapsed)
		if s.backEdge {
			report.BackEdgesAttempted++
		}
		switch {
		case s.err == nil:
			report.Created++
		case errors.Is(s.err, types.ErrCycleDetected):
			report.RejectedCycle++
		case errors.Is(s.err, types.ErrDuplicateRelationship):
			report.RejectedDuplicate++
		case types.IsValidationError(s.err):
			report.RejectedOther++
		default:
			report.Errors++
		}
	}
	report.Writes = computeLatencyStats(writes)
	report.Reads = computeLatencyStats(reads)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

// write creates one random edge. With backEdgePercent probability it
// reverses a seeded edge instead, which must be rejected.
func (tg *TestGraph) write(ctx context.Context, rng *rand.Rand, backEdgePercent int) sample {
	s := sample{write: true}
	var parent, child string

	if len(tg.Edges) > 0 && rng.Intn(100) < backEdgePercent {
		e := tg.Edges[rng.Intn(len(tg.Edges))]
		parent, child = e.ChildID, e.ParentID
		s.backEdge = true
	} else {
		a, b := rng.Intn(len(tg.DocIDs)), rng.Intn(len(tg.DocIDs))
		if tg.Layer[a] > tg.Layer[b] {
			a, b = b, a
		}
		parent, child = tg.DocIDs[a], tg.DocIDs[b]
	}

	began := time.Now()
	_, s.err = tg.Engine.CreateRelationship(ctx, parent, child, types.RelReference)
	s.elapsed = time.Since(began)
	return s
}

func (tg *TestGraph) read(ctx context.Context, rng *rand.Rand) sample {
	id := tg.DocIDs[rng.Intn(len(tg.DocIDs))]
	began := time.Now()
	var err error
	switch rng.Intn(3) {
	case 0:
		_, err = tg.Engine.GetAncestors(ctx, id, 0)
	case 1:
		_, err = tg.Engine.GetDescendants(ctx, id, 0)
	default:
		_, err = tg.Engine.GetBreadcrumb(ctx, id, engine.BreadcrumbOptions{})
	}
	return sample{elapsed: time.Since(began), err: err}
}

// VerifyAcyclic loads every relationship and checks the graph has no
// directed cycle (Kahn's algorithm).
func (tg *TestGraph) VerifyAcyclic(ctx context.Context) error {
	rels, err := tg.DB.ListAllRelationships(ctx)
	if err != nil {
		return fmt.Errorf("failed to list relationships: %w", err)
	}
	return CheckAcyclic(rels)
}

// CheckAcyclic reports an error naming the documents left on a cycle, if
// any.
func CheckAcyclic(rels []*types.Relationship) error {
	indegree := make(map[string]int)
	children := make(map[string][]string)
	for _, r := range rels {
		children[r.ParentID] = append(children[r.ParentID], r.ChildID)
		indegree[r.ChildID]++
		if _, ok := indegree[r.ParentID]; !ok {
			indegree[r.ParentID] = 0
		}
	}

	var queue []string
	for id, n := range indegree {
		if n == 0 {
			queue = append(queue, id)
		}
	}
	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, c := range children[id] {
			indegree[c]--
			if indegree[c] == 0 {
				queue = append(queue, c)
			}
		}
	}
	if visited == len(indegree) {
		return nil
	}

	var stuck []string
	for id, n := range indegree {
		if n > 0 {
			stuck = append(stuck, id)
		}
	}
	sort.Strings(stuck)
	return fmt.Errorf("%w: %d documents on or below a cycle: %v", types.ErrCycleDetected, len(stuck), stuck)
}

func computeLatencyStats(durations []time.Duration) *LatencyStats {
	if len(durations) == 0 {
		return &LatencyStats{}
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	return &LatencyStats{
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Mean:  sum / time.Duration(len(sorted)),
		P50:   sorted[len(sorted)*50/100],
		P95:   sorted[len(sorted)*95/100],
		P99:   sorted[len(sorted)*99/100],
		Count: len(sorted),
	}
}

// Print writes a human-readable summary.
func (r *Report) Print(w io.Writer) {
	fmt.Fprintf(w, "Elapsed: %v\n", r.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Writes: %d created, %d cycle, %d duplicate, %d other rejected (%d back-edges attempted)\n",
		r.Created, r.RejectedCycle, r.RejectedDuplicate, r.RejectedOther, r.BackEdgesAttempted)
	fmt.Fprintf(w, "Errors: %d\n", r.Errors)
	r.Writes.print(w, "Write latency")
	r.Reads.print(w, "Read latency")
}

func (s *LatencyStats) print(w io.Writer, title string) {
	if s == nil || s.Count == 0 {
		return
	}
	fmt.Fprintf(w, "%s (%d ops):\n", title, s.Count)
	fmt.Fprintf(w, "  Min:  %v\n", s.Min)
	fmt.Fprintf(w, "  P50:  %v\n", s.P50)
	fmt.Fprintf(w, "  Mean: %v\n", s.Mean)
	fmt.Fprintf(w, "  P95:  %v\n", s.P95)
	fmt.Fprintf(w, "  P99:  %v\n", s.P99)
	fmt.Fprintf(w, "  Max:  %v\n", s.Max)
}
