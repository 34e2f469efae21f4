package rank

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/poiesic/docquery/ai"
	"github.com/poiesic/docquery/core"
	"github.com/poiesic/docquery/storage"
)

const (
	// DefaultRRFK is the default RRF smoothing constant. It keeps a single
	// top rank in one list from dominating the fused score. Tunable, not
	// load-bearing.
	DefaultRRFK = 60

	// defaultOverfetch is how many candidates each signal is asked for,
	// as a multiple of k. Overfetching before fusion improves recall for
	// chunks ranked by only one signal.
	defaultOverfetch = 4

	// minCandidateLimit floors the per-signal candidate limit.
	minCandidateLimit = 20
)

// Config holds the fusion tuning knobs. It is immutable after construction:
// the Ranker copies it and never reads ad-hoc global state at call time.
type Config struct {
	// RRFK is the RRF smoothing constant (reference value 60).
	RRFK float64
	// MinScore drops fused results scoring below it. Zero keeps everything.
	MinScore float64
	// MaxVectorDistance drops vector candidates farther than this distance.
	// Zero means no bound.
	MaxVectorDistance float64
	// Overfetch multiplies k to get the per-signal candidate limit.
	Overfetch int
}

// DefaultConfig returns the standard fusion configuration.
func DefaultConfig() Config {
	return Config{
		RRFK:      DefaultRRFK,
		Overfetch: defaultOverfetch,
	}
}

// Ranker fans a query out to all retrieval signals, fuses their candidate
// lists with Reciprocal Rank Fusion, and returns ordered, duplicate-free
// hits. It is stateless per request and safe for concurrent use.
type Ranker struct {
	signals     []Signal
	embedder    ai.Embedder
	chunks      storage.ChunkRepository
	needsVector bool
	cfg         Config
	logger      *slog.Logger
}

// Option configures a Ranker.
type Option func(*Ranker) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Ranker) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// WithConfig replaces the default fusion configuration.
func WithConfig(cfg Config) Option {
	return func(r *Ranker) error {
		if cfg.RRFK <= 0 {
			cfg.RRFK = DefaultRRFK
		}
		if cfg.Overfetch <= 0 {
			cfg.Overfetch = defaultOverfetch
		}
		r.cfg = cfg
		return nil
	}
}

// NewRanker creates a new Ranker over the given signals.
//
// All signals disabled is a configuration error raised here, loudly, rather
// than a silent empty result at query time. An embedder is required when any
// signal consumes query vectors.
func NewRanker(signals []Signal, embedder ai.Embedder, chunks storage.ChunkRepository, opts ...Option) (*Ranker, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}

	live := 0
	needsVector := false
	for _, s := range signals {
		if !IsDisabled(s) {
			live++
			if _, ok := s.(QueryVectorConsumer); ok {
				needsVector = true
			}
		}
	}
	if live == 0 {
		return nil, core.ErrAllSignalsDisabled
	}
	if needsVector && embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Ranker{
		signals:     signals,
		embedder:    embedder,
		chunks:      chunks,
		needsVector: needsVector,
		cfg:         DefaultConfig(),
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	return r, nil
}

// signalResult is one signal's outcome from the fan-out.
type signalResult struct {
	name       string
	candidates []Candidate
	err        error
}

// Search runs the query against all signals and returns fused hits plus the
// diagnostics sidecar. The sidecar is always built; the caller's disclosure
// gate decides whether it leaves the system boundary.
func (r *Ranker) Search(ctx context.Context, query string, scope core.Scope, k int) ([]core.FusedHit, *core.RetrievalDebug, error) {
	return r.SearchWithMonitor(ctx, query, scope, k, nil)
}

// SearchWithMonitor is Search with observation hooks.
func (r *Ranker) SearchWithMonitor(ctx context.Context, query string, scope core.Scope, k int, monitor Monitor) ([]core.FusedHit, *core.RetrievalDebug, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	monitor.Start(query)

	debug := &core.RetrievalDebug{
		Strategy:           "rrf_hybrid",
		AppliedFilters:     []string{scope.Reason},
		UsedRRFK:           r.cfg.RRFK,
		UsedMinScore:       r.cfg.MinScore,
		UsedMaxVecDistance: r.cfg.MaxVectorDistance,
	}

	// A scope resolving to zero documents is an empty result, not an error.
	if len(scope.DocumentIds) == 0 {
		for _, s := range r.signals {
			debug.Signals = append(debug.Signals, core.SignalDebug{Name: s.Name()})
		}
		monitor.Finish(nil)
		return []core.FusedHit{}, debug, nil
	}

	// The query is embedded only when a live signal consumes vectors; a
	// lexical-only configuration never touches the embedder at query time.
	q := Query{Text: query}
	if r.needsVector {
		vector, err := r.embedder.EmbedText(ctx, query)
		if err != nil {
			r.logger.Error("error generating embedding for query", "err", err)
			return nil, nil, fmt.Errorf("%w: %w", core.ErrEmbedderUnavailable, err)
		}
		q.Vector = vector
	}

	limit := k * r.cfg.Overfetch
	if limit < minCandidateLimit {
		limit = minCandidateLimit
	}

	// Fan out: the three lookups are independent with no shared mutation,
	// so they run concurrently and join before fusion.
	results := make([]signalResult, len(r.signals))
	var wg sync.WaitGroup
	for i, s := range r.signals {
		wg.Add(1)
		go func(i int, s Signal) {
			defer wg.Done()
			candidates, err := s.Rank(ctx, q, scope, limit)
			results[i] = signalResult{name: s.Name(), candidates: candidates, err: err}
		}(i, s)
	}
	wg.Wait()

	for _, res := range results {
		monitor.AfterSignal(res.name, len(res.candidates), res.err)
		if res.err != nil {
			// A failed signal contributes nothing; it never fails the
			// request. The failure is visible only in the gated sidecar.
			r.logger.Warn("retrieval signal failed", "signal", res.name, "err", res.err)
		}
	}

	hits := r.fuse(results, scope, k, debug)
	monitor.AfterFusion(len(hits))

	fused, err := r.hydrate(ctx, hits, scope)
	if err != nil {
		return nil, nil, err
	}
	monitor.Finish(fused)
	return fused, debug, nil
}

// fusedCandidate accumulates one chunk's contributions across signal lists.
type fusedCandidate struct {
	chunkID  core.ID
	score    float64
	distance float64 // negative: vector signal did not see this chunk
	ranks    map[string]int
}

// fuse applies Reciprocal Rank Fusion across the signal result lists.
func (r *Ranker) fuse(results []signalResult, scope core.Scope, k int, debug *core.RetrievalDebug) []fusedCandidate {
	fused := make(map[core.ID]*fusedCandidate)

	for _, res := range results {
		candidates := res.candidates
		if res.err != nil {
			candidates = nil
		}

		// Vector distance bound applies before ranks are assigned.
		if r.cfg.MaxVectorDistance > 0 {
			kept := candidates[:0:0]
			for _, c := range candidates {
				if c.Distance >= 0 && c.Distance > r.cfg.MaxVectorDistance {
					continue
				}
				kept = append(kept, c)
			}
			candidates = kept
		}

		debug.Signals = append(debug.Signals, signalDebug(res, candidates))

		for i, c := range candidates {
			fc, ok := fused[c.ChunkId]
			if !ok {
				fc = &fusedCandidate{
					chunkID:  c.ChunkId,
					distance: -1,
					ranks:    make(map[string]int),
				}
				fused[c.ChunkId] = fc
			}
			// 1-based rank within this list only
			rankPos := i + 1
			fc.score += 1 / (r.cfg.RRFK + float64(rankPos))
			fc.ranks[res.name] = rankPos
			if c.Distance >= 0 && (fc.distance < 0 || c.Distance < fc.distance) {
				fc.distance = c.Distance
			}
		}
	}

	ordered := make([]fusedCandidate, 0, len(fused))
	for _, fc := range fused {
		if r.cfg.MinScore > 0 && fc.score < r.cfg.MinScore {
			continue
		}
		ordered = append(ordered, *fc)
	}

	// Deterministic ordering: fused score desc, vector distance asc,
	// chunk ID asc. Chunks the vector signal never saw sort as +Inf distance.
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].score != ordered[j].score {
			return ordered[i].score > ordered[j].score
		}
		di, dj := tieDistance(ordered[i].distance), tieDistance(ordered[j].distance)
		if di != dj {
			return di < dj
		}
		return ordered[i].chunkID < ordered[j].chunkID
	})

	if len(ordered) > k {
		ordered = ordered[:k]
	}
	return ordered
}

// hydrate resolves fused candidates into full hits. A final scope check
// guards adapters that could not filter server-side; order is preserved.
func (r *Ranker) hydrate(ctx context.Context, ordered []fusedCandidate, scope core.Scope) ([]core.FusedHit, error) {
	ids := make([]core.ID, len(ordered))
	for i, fc := range ordered {
		ids[i] = fc.chunkID
	}

	chunks, err := r.chunks.GetChunks(ctx, ids...)
	if err != nil {
		return nil, err
	}
	byID := make(map[core.ID]*core.Chunk, len(chunks))
	for _, chunk := range chunks {
		byID[chunk.Id] = chunk
	}

	hits := make([]core.FusedHit, 0, len(ordered))
	for _, fc := range ordered {
		chunk, ok := byID[fc.chunkID]
		if !ok {
			// Stale candidate from an index lagging behind a reindex.
			continue
		}
		if !scope.Contains(chunk.DocumentId) {
			continue
		}
		hits = append(hits, core.FusedHit{
			ChunkId:        chunk.Id,
			DocumentId:     chunk.DocumentId,
			Page:           chunk.Page,
			ChunkIndex:     chunk.ChunkIndex,
			Text:           chunk.Text,
			Score:          fc.score,
			VectorDistance: fc.distance,
			SignalRanks:    fc.ranks,
		})
	}
	return hits, nil
}

func tieDistance(d float64) float64 {
	if d < 0 {
		return math.Inf(1)
	}
	return d
}

// signalDebug summarizes one signal's candidate list for the sidecar.
func signalDebug(res signalResult, candidates []Candidate) core.SignalDebug {
	sd := core.SignalDebug{
		Name:       res.name,
		Candidates: len(candidates),
		Failed:     res.err != nil,
	}
	if len(candidates) == 0 {
		return sd
	}

	scores := make([]float64, len(candidates))
	for i, c := range candidates {
		scores[i] = c.Score
	}
	sort.Float64s(scores)
	sd.MinScore = scores[0]
	sd.MaxScore = scores[len(scores)-1]
	mid := len(scores) / 2
	if len(scores)%2 == 0 {
		sd.MedianScore = (scores[mid-1] + scores[mid]) / 2
	} else {
		sd.MedianScore = scores[mid]
	}
	return sd
}
