// Package publish moves analysis output to the externally visible location.
package publish

import (
	"context"
	"log/slog"
	"path"

	apperrors "github.com/rearc-quest/dataquest/pkg/errors"
)

// Copier is the storage surface the publisher needs.
type Copier interface {
	Copy(ctx context.Context, srcKey, dstKey string) error
}

// Publisher copies analysis outputs under the published prefix.
type Publisher struct {
	store  Copier
	prefix string
}

// NewPublisher creates a publisher targeting the given prefix.
func NewPublisher(store Copier, prefix string) *Publisher {
	return &Publisher{store: store, prefix: prefix}
}

// Publish server-side copies outputKey to the published prefix and returns
// the published key. On failure nothing is rolled back: the committed state
// and the analysis output remain where they are.
func (p *Publisher) Publish(ctx context.Context, outputKey string) (string, error) {
	publishedKey := p.prefix + path.Base(outputKey)

	slog.Info("publish_start", "output_key", outputKey, "published_key", publishedKey)

	if err := p.store.Copy(ctx, outputKey, publishedKey); err != nil {
		slog.Error("publish_failed", "output_key", outputKey, "error", err)
		return "", apperrors.Wrap(err, "failed to publish analysis output")
	}

	slog.Info("publish_complete", "published_key", publishedKey)
	return publishedKey, nil
}
