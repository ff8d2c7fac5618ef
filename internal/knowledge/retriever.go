// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package knowledge

import (
	"context"
	"fmt"

	"github.com/bcem/insight/internal/llm"
	"github.com/bcem/insight/internal/models"
)

// Searcher is the similarity-search half of the store, split out so the
// retriever can be tested without Postgres.
type Searcher interface {
	Search(ctx context.Context, tenantAlias string, embedding []float32, minScore float64, maxResults int) ([]models.Passage, error)
}

// Retriever embeds a query and fetches ranked passages from the knowledge
// store. The store is a read-only collaborator from the pipeline's
// perspective.
type Retriever struct {
	embedder llm.Embedder
	store    Searcher

	// tenantAlias scopes retrieval; empty searches all tenants.
	tenantAlias string
}

// NewRetriever creates a retriever over the given embedder and store.
func NewRetriever(e llm.Embedder, s Searcher, tenantAlias string) *Retriever {
	return &Retriever{
		embedder:    e,
		store:       s,
		tenantAlias: tenantAlias,
	}
}

// Retrieve returns at most maxResults passages scoring at least minScore
// for the query. An empty result is valid and the caller composes from
// the query alone.
func (r *Retriever) Retrieve(ctx context.Context, query string, minScore float64, maxResults int) ([]models.Passage, error) {
	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	passages, err := r.store.Search(ctx, r.tenantAlias, embedding, minScore, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search knowledge store: %w", err)
	}

	return passages, nil
}
