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

package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bcem/insight/internal/models"
)

// Extractor turns a raw email payload into an envelope. A returned error
// envelope (EmptyMessage) is terminal for the run; a Go error means the
// stage itself failed at the transport level.
type Extractor interface {
	Extract(ctx context.Context, p *models.EmailPayload) (models.Envelope, error)
}

// Classifier produces the retrieval-routing verdict for a query. Faults
// are absorbed by the implementation, which defaults to a general reply.
type Classifier interface {
	Classify(ctx context.Context, query string) models.Verdict
}

// Retriever fetches knowledge passages for a query. Returned passages all
// score at or above minScore; an empty result is valid.
type Retriever interface {
	Retrieve(ctx context.Context, query string, minScore float64, maxResults int) ([]models.Passage, error)
}

// Composer drafts a reply, grounded in passages when provided.
type Composer interface {
	Compose(ctx context.Context, query string, passages []models.Passage) (string, error)
}

// stage names a position in the orchestration state machine.
type stage string

const (
	stageExtracting  stage = "extracting"
	stageClassifying stage = "classifying"
	stageRetrieving  stage = "retrieving"
	stageComposing   stage = "composing"
	stageMerging     stage = "merging"
)

// Orchestrator sequences the pipeline:
//
//	START → EXTRACTING → (ERROR_TERMINAL | CLASSIFYING)
//	      → (RETRIEVING → COMPOSING | COMPOSING) → MERGING → DONE
//
// Dispatch is a closed set of four contracts selected by explicit
// transitions; there is no dynamic tool lookup. Stage-local faults in
// classification, retrieval, and composition degrade gracefully; only
// extraction faults terminate the run.
type Orchestrator struct {
	extractor  Extractor
	classifier Classifier
	retriever  Retriever
	composer   Composer

	minScore   float64
	maxResults int
}

// NewOrchestrator wires the four stage contracts. minScore and maxResults
// parameterize the retrieval stage.
func NewOrchestrator(
	e Extractor, c Classifier, r Retriever, co Composer,
	minScore float64, maxResults int,
) *Orchestrator {
	return &Orchestrator{
		extractor:  e,
		classifier: c,
		retriever:  r,
		composer:   co,
		minScore:   minScore,
		maxResults: maxResults,
	}
}

// Run executes one orchestration over the payload and returns the final
// envelope. The returned envelope is the error envelope verbatim when
// extraction signals failure; otherwise it is the merged insight with
// smart_reply populated (empty string when composition failed). A non-nil
// error means the extraction transport itself failed and no envelope
// exists.
func (o *Orchestrator) Run(ctx context.Context, p *models.EmailPayload) (models.Envelope, error) {
	slog.Debug("orchestration stage", "stage", stageExtracting)
	env, err := o.extractor.Extract(ctx, p)
	if err != nil {
		return models.Envelope{}, fmt.Errorf("extraction stage: %w", err)
	}

	// ERROR_TERMINAL: propagate the error envelope unchanged. No retry,
	// no reply stage.
	if env.IsError() {
		return env, nil
	}

	insight := env.Insight
	query := DeriveQuery(p.Subject, insight.Summary)

	slog.Debug("orchestration stage", "stage", stageClassifying)
	verdict := o.classifier.Classify(ctx, query)

	var passages []models.Passage
	if verdict == models.VerdictNeedsRetrieval {
		slog.Debug("orchestration stage", "stage", stageRetrieving)
		passages, err = o.retriever.Retrieve(ctx, query, o.minScore, o.maxResults)
		if err != nil {
			// Compose from the query alone rather than failing the run.
			slog.Warn("retrieval failed, composing without context",
				"error", err,
			)
			passages = nil
		}
	}

	slog.Debug("orchestration stage", "stage", stageComposing)
	reply, err := o.composer.Compose(ctx, query, passages)
	if err != nil {
		slog.Warn("composition failed, merging empty reply", "error", err)
		reply = ""
	}

	slog.Debug("orchestration stage", "stage", stageMerging)
	insight.SmartReply = reply

	return models.Success(insight), nil
}

// DeriveQuery builds the reply-drafting query from the subject line and
// the extracted summary. The reply stage never sees the full email body.
func DeriveQuery(subject, summary string) string {
	if subject == "" {
		return summary
	}
	return "Subject: " + subject + "\n" + summary
}
