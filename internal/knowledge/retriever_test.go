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
	"errors"
	"testing"

	"github.com/bcem/insight/internal/models"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

type fakeSearcher struct {
	passages []models.Passage
	err      error

	lastTenant   string
	lastMinScore float64
	lastMaxHits  int
}

func (f *fakeSearcher) Search(_ context.Context, tenant string, _ []float32, minScore float64, maxResults int) ([]models.Passage, error) {
	f.lastTenant = tenant
	f.lastMinScore = minScore
	f.lastMaxHits = maxResults
	return f.passages, f.err
}

// TestRetrieve_PlumbsThresholds verifies tenant scope and threshold
// parameters reach the store.
func TestRetrieve_PlumbsThresholds(t *testing.T) {
	fs := &fakeSearcher{passages: []models.Passage{{Content: "x", Score: 0.8}}}
	r := NewRetriever(&fakeEmbedder{vec: []float32{0.1, 0.2}}, fs, "acme")

	got, err := r.Retrieve(context.Background(), "pricing?", 0.7, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d passages, want 1", len(got))
	}
	if fs.lastTenant != "acme" || fs.lastMinScore != 0.7 || fs.lastMaxHits != 9 {
		t.Errorf("store saw tenant=%q min=%v max=%d",
			fs.lastTenant, fs.lastMinScore, fs.lastMaxHits)
	}
}

// TestRetrieve_EmbedFault verifies an embedding failure propagates so the
// orchestrator can degrade to a context-free reply.
func TestRetrieve_EmbedFault(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{err: errors.New("throttled")}, &fakeSearcher{}, "")

	if _, err := r.Retrieve(context.Background(), "q", 0.7, 9); err == nil {
		t.Fatal("expected error")
	}
}

// TestRetrieve_EmptyResultIsValid verifies no passages is not an error.
func TestRetrieve_EmptyResultIsValid(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{vec: []float32{0.5}}, &fakeSearcher{}, "")

	got, err := r.Retrieve(context.Background(), "q", 0.7, 9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("got %d passages, want 0", len(got))
	}
}

// TestVectorLiteral verifies the pgvector text input format.
func TestVectorLiteral(t *testing.T) {
	got := vectorLiteral([]float32{0.25, -1, 3.5})
	if got != "[0.25,-1,3.5]" {
		t.Errorf("vectorLiteral = %q", got)
	}
	if got := vectorLiteral(nil); got != "[]" {
		t.Errorf("vectorLiteral(nil) = %q", got)
	}
}
