package runner

import (
	"context"
	"errors"
	"sync"

	"farescope/internal/utils"
	"farescope/pkg/amadeus"
	"farescope/pkg/query"
)

// Searcher executes one concrete query. Per-query failures come back inside
// the Outcome; a non-nil error is fatal and stops the run.
type Searcher interface {
	Search(ctx context.Context, q query.ConcreteQuery) (amadeus.Outcome, error)
}

// Sink consumes one outcome and returns the path of the persisted payload,
// if any.
type Sink interface {
	Report(out amadeus.Outcome) (string, error)
}

// Result is what the run keeps about one executed query, ledger material
// only, never the offers themselves.
type Result struct {
	Query      query.ConcreteQuery
	Offers     int
	Err        error
	OutputFile string
}

type Summary struct {
	Executed int
	Failed   int
	Results  []Result
}

// Runner drives the expand -> search -> report pipeline over a fixed list
// of concrete queries. Concurrency 1 is the sequential baseline; higher
// values use a bounded worker pool. Token refresh stays single-flight in
// the client and filename claims are exclusive-create, so workers never
// step on each other.
type Runner struct {
	Searcher    Searcher
	Reporter    Sink
	Concurrency int
}

func (r *Runner) Run(ctx context.Context, queries []query.ConcreteQuery) (Summary, error) {
	if r.Concurrency <= 1 {
		return r.runSequential(ctx, queries)
	}
	return r.runPool(ctx, queries)
}

func (r *Runner) runSequential(ctx context.Context, queries []query.ConcreteQuery) (Summary, error) {
	var summary Summary
	for _, q := range queries {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		out, err := r.Searcher.Search(ctx, q)
		if err != nil {
			return summary, err
		}

		summary.add(r.report(out))
	}
	return summary, nil
}

func (r *Runner) runPool(ctx context.Context, queries []query.ConcreteQuery) (Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type slot struct {
		res  Result
		done bool
	}
	slots := make([]slot, len(queries))

	jobs := make(chan int)
	go func() {
		defer close(jobs)
		for i := range queries {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var (
		wg        sync.WaitGroup
		reportMu  sync.Mutex
		fatalOnce sync.Once
		fatalErr  error
	)

	wg.Add(r.Concurrency)
	for i := 0; i < r.Concurrency; i++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				out, err := r.Searcher.Search(ctx, queries[idx])
				if err != nil {
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					fatalOnce.Do(func() {
						fatalErr = err
						cancel()
					})
					return
				}

				reportMu.Lock()
				res := r.report(out)
				reportMu.Unlock()
				slots[idx] = slot{res: res, done: true}
			}
		}()
	}
	wg.Wait()

	var summary Summary
	for _, s := range slots {
		if s.done {
			summary.add(s.res)
		}
	}

	if fatalErr != nil {
		return summary, fatalErr
	}
	return summary, ctx.Err()
}

// report hands the outcome to the sink. A persistence failure counts as a
// failed query, the offers were shown but the raw payload contract broke.
func (r *Runner) report(out amadeus.Outcome) Result {
	file, err := r.Reporter.Report(out)
	res := Result{
		Query:      out.Query,
		Offers:     len(out.Offers),
		Err:        out.Err,
		OutputFile: file,
	}
	if out.Err == nil && err != nil {
		utils.Log.WithField("query", out.Query.String()).Errorf("failed to persist raw payload: %v", err)
		res.Err = err
	}
	return res
}

func (s *Summary) add(res Result) {
	s.Executed++
	if res.Err != nil {
		s.Failed++
	}
	s.Results = append(s.Results, res)
}
