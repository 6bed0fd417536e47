package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/mikeboe/deep-research/pkg/search"
)

const (
	// DefaultConcurrencyLimit caps query branches running search and
	// distillation at the same time.
	DefaultConcurrencyLimit = 2
	// DefaultNumLearnings is the number of learnings requested per query.
	DefaultNumLearnings = 3
)

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	ConcurrencyLimit int
	SearchLimit      int
	NumLearnings     int
	Logger           *slog.Logger
}

// Engine runs recursive research: each query fans out into planned search
// queries, each of which is searched, distilled and, while depth remains,
// researched again with half the breadth.
type Engine struct {
	Planner   QueryPlanner
	Distiller Distiller
	Search    search.Provider
	Logger    *slog.Logger

	searchLimit  int
	numLearnings int
	sem          *semaphore.Weighted
}

func NewEngine(planner QueryPlanner, distiller Distiller, provider search.Provider, opts Options) *Engine {
	if opts.ConcurrencyLimit <= 0 {
		opts.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = search.DefaultLimit
	}
	if opts.NumLearnings <= 0 {
		opts.NumLearnings = DefaultNumLearnings
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		Planner:      planner,
		Distiller:    distiller,
		Search:       provider,
		Logger:       opts.Logger,
		searchLimit:  opts.SearchLimit,
		numLearnings: opts.NumLearnings,
		sem:          semaphore.NewWeighted(int64(opts.ConcurrencyLimit)),
	}
}

// Research explores req.Query and returns every learning and URL found,
// deduplicated. Failing branches contribute nothing. If ctx expires the
// partial result is returned together with an error wrapping ErrTimeout.
func (e *Engine) Research(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Query) == "" {
		return Result{}, fmt.Errorf("%w: empty query", ErrInvalidArgument)
	}
	if req.Breadth <= 0 {
		return Result{}, fmt.Errorf("%w: breadth must be positive, got %d", ErrInvalidArgument, req.Breadth)
	}
	if req.Depth < 0 {
		return Result{}, fmt.Errorf("%w: depth must not be negative, got %d", ErrInvalidArgument, req.Depth)
	}

	tracker := &progressTracker{
		p: Progress{
			CurrentDepth:   req.Depth,
			TotalDepth:     req.Depth,
			CurrentBreadth: req.Breadth,
			TotalBreadth:   req.Breadth,
		},
		onProgress: req.OnProgress,
		logger:     e.Logger,
	}

	e.Logger.Info("Starting research", "query", req.Query, "breadth", req.Breadth, "depth", req.Depth)
	res, err := e.research(ctx, req.Query, req.Breadth, req.Depth, req.Learnings, req.VisitedURLs, tracker)
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: research %q: %v", ErrTimeout, req.Query, err)
		} else {
			err = fmt.Errorf("research %q: %w", req.Query, err)
		}
		return res, err
	}
	e.Logger.Info("Research finished", "learnings", len(res.Learnings), "urls", len(res.VisitedURLs))
	return res, nil
}

func (e *Engine) research(ctx context.Context, query string, breadth, depth int, learnings, visited []string, tracker *progressTracker) (Result, error) {
	queries, err := e.Planner.Plan(ctx, query, breadth, learnings)
	if err != nil {
		return Result{}, err
	}
	if len(queries) == 0 {
		return Result{}, nil
	}
	tracker.update(func(p *Progress) {
		p.TotalQueries = len(queries)
		p.CurrentQuery = &queries[0]
	})

	results := make([]Result, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q SerpQuery) {
			defer wg.Done()
			res, err := e.branch(ctx, q, breadth, depth, learnings, visited, tracker)
			if err != nil {
				e.Logger.Warn("Research branch failed", "query", q.Query, "error", err)
				return
			}
			results[i] = res
		}(i, q)
	}
	wg.Wait()

	var out Result
	for _, r := range results {
		out.Learnings = append(out.Learnings, r.Learnings...)
		out.VisitedURLs = append(out.VisitedURLs, r.VisitedURLs...)
	}
	return Result{Learnings: dedupe(out.Learnings), VisitedURLs: dedupe(out.VisitedURLs)}, nil
}

// branch handles one planned query. The concurrency slot is held for search
// and distillation only and released before recursing, so nested levels
// never wait on slots held by their ancestors.
func (e *Engine) branch(ctx context.Context, q SerpQuery, breadth, depth int, learnings, visited []string, tracker *progressTracker) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("branch panic: %v", r)
		}
	}()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	held := true
	defer func() {
		if held {
			e.sem.Release(1)
		}
	}()

	hits, err := e.Search.Search(ctx, q.Query, e.searchLimit)
	if err != nil {
		return Result{}, fmt.Errorf("search: %w", err)
	}
	newURLs := search.URLs(hits)
	newBreadth := (breadth + 1) / 2
	newDepth := depth - 1

	d, err := e.Distiller.Distill(ctx, q.Query, hits, e.numLearnings, newBreadth)
	if err != nil {
		return Result{}, err
	}
	e.sem.Release(1)
	held = false

	allLearnings := slices.Concat(learnings, d.Learnings)
	allURLs := slices.Concat(visited, newURLs)

	if newDepth <= 0 {
		tracker.update(func(p *Progress) {
			p.CurrentDepth = 0
			p.CompletedQueries++
		})
		return Result{Learnings: allLearnings, VisitedURLs: allURLs}, nil
	}

	e.Logger.Info("Researching deeper", "breadth", newBreadth, "depth", newDepth)
	tracker.update(func(p *Progress) {
		p.CurrentDepth = newDepth
		p.CurrentBreadth = newBreadth
		p.CompletedQueries++
	})
	return e.research(ctx, nextQuery(q, d.FollowUpQuestions), newBreadth, newDepth, allLearnings, allURLs, tracker)
}

// nextQuery carries a branch's research goal and follow-up questions into
// the next planning round.
func nextQuery(q SerpQuery, followUps []string) string {
	return strings.TrimSpace(fmt.Sprintf("Previous research goal: %s\nFollow-up research directions: \n%s",
		q.ResearchGoal, strings.Join(followUps, "\n")))
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// progressTracker holds the progress of one Research call. Updates and
// callbacks are serialized so callers observe CompletedQueries in order.
type progressTracker struct {
	mu         sync.Mutex
	p          Progress
	onProgress func(Progress)
	logger     *slog.Logger
}

func (t *progressTracker) update(fn func(*Progress)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.p)
	if t.onProgress == nil {
		return
	}
	snap := t.p
	if snap.CurrentQuery != nil {
		q := *snap.CurrentQuery
		snap.CurrentQuery = &q
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Warn("Progress callback panicked", "panic", r)
		}
	}()
	t.onProgress(snap)
}
