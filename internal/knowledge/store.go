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

// Package knowledge provides the vector-backed knowledge store and the
// retriever that gates reply composition. Passages live in Postgres with
// pgvector embeddings; retrieval returns only passages at or above the
// caller's minimum cosine similarity.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bcem/insight/internal/models"
)

// embeddingDims matches the Titan v2 default output size.
const embeddingDims = 1024

// Store provides passage storage and similarity search in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a knowledge store backed by the given Postgres pool.
// It ensures the passages table and vector extension exist on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure knowledge schema: %w", err)
	}
	slog.Info("knowledge store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;
		CREATE TABLE IF NOT EXISTS passages (
			id           BIGSERIAL PRIMARY KEY,
			tenant_alias TEXT DEFAULT '',
			content      TEXT NOT NULL,
			embedding    vector(%d) NOT NULL,
			created_at   TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_passages_tenant ON passages(tenant_alias);
	`, embeddingDims))
	return err
}

// Upsert stores a passage with its embedding. Used for seeding the
// knowledge base; retrieval is the hot path.
func (s *Store) Upsert(ctx context.Context, tenantAlias, content string, embedding []float32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO passages (tenant_alias, content, embedding)
		VALUES ($1, $2, $3::vector)
	`, tenantAlias, content, vectorLiteral(embedding))
	if err != nil {
		return fmt.Errorf("insert passage: %w", err)
	}
	return nil
}

// Search returns up to maxResults passages whose cosine similarity to the
// embedding is at least minScore, best first. An empty tenant matches all
// tenants. An empty result is valid.
func (s *Store) Search(ctx context.Context, tenantAlias string, embedding []float32, minScore float64, maxResults int) ([]models.Passage, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT content, 1 - (embedding <=> $1::vector) AS score
		FROM passages
		WHERE ($2 = '' OR tenant_alias = $2)
		  AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT $4
	`, vectorLiteral(embedding), tenantAlias, minScore, maxResults)
	if err != nil {
		return nil, fmt.Errorf("search passages: %w", err)
	}
	defer rows.Close()

	var passages []models.Passage
	for rows.Next() {
		var p models.Passage
		if err := rows.Scan(&p.Content, &p.Score); err != nil {
			return nil, fmt.Errorf("scan passage: %w", err)
		}
		passages = append(passages, p)
	}
	return passages, rows.Err()
}

// Ping checks the Postgres connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// vectorLiteral renders an embedding in pgvector's text input format.
func vectorLiteral(embedding []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
