package backend

import (
	"context"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/opensearch-project/security-analytics-sub005/ruleengine/rule"
)

// ConvertRules compiles rules with at most workers goroutines. Results are in
// input order. A rule that fails yields a result carrying its error, so one
// bad rule never stops the others; only context cancellation aborts the
// batch.
func (b *QueryBackend) ConvertRules(ctx context.Context, rules []*rule.Rule, workers int) ([]*Result, error) {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	results := make([]*Result, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, r := range rules {
		if gctx.Err() != nil {
			break
		}
		i, r := i, r
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := b.ConvertRule(r)
			if err != nil {
				b.logger.Warn("rule conversion failed",
					zap.String("rule", r.Reference()),
					zap.Error(err))
				res = &Result{
					Rule:   r.Reference(),
					Title:  r.Title,
					Level:  r.Level,
					Fields: map[string]FieldUsage{},
					Errors: []error{err},
				}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
