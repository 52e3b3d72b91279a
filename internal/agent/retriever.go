package agent

import (
	"context"

	"github.com/soyeahso/veil/internal/domain"
)

// Retriever fetches supporting passages for a query, best first, returning
// at most budget of them.
type Retriever interface {
	Retrieve(ctx context.Context, query string, budget int) ([]domain.RetrievedPassage, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, query string, budget int) ([]domain.RetrievedPassage, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, query string, budget int) ([]domain.RetrievedPassage, error) {
	return f(ctx, query, budget)
}

// NoRetrieval returns no passages.
var NoRetrieval Retriever = RetrieverFunc(func(context.Context, string, int) ([]domain.RetrievedPassage, error) {
	return nil, nil
})
