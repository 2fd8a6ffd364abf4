package classify

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"opsdiag/internal/domain"
)

// Classifier assigns a Classification to one inbound item.
type Classifier interface {
	Classify(ctx context.Context, item domain.InboundItem) (domain.Classification, error)
}

// ConfigurationError reports a classifier that cannot be built from the given settings.
type ConfigurationError struct {
	Setting string
	Reason  string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("classifier configuration: %s: %s", e.Setting, e.Reason)
}

const defaultConcurrency = 4

// ClassifyAll classifies items with at most concurrency calls in flight and keeps
// the input order. The first error cancels the remaining work.
func ClassifyAll(ctx context.Context, c Classifier, items []domain.InboundItem, concurrency int) ([]domain.ClassifiedItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if concurrency < 1 {
		concurrency = defaultConcurrency
	}

	out := make([]domain.ClassifiedItem, len(items))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			cl, err := c.Classify(gCtx, item)
			if err != nil {
				return fmt.Errorf("classify %s: %w", item.ID, err)
			}
			out[i] = domain.ClassifiedItem{Item: item, Classification: cl}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
