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

// Package models defines the data structures shared across the insight service.
package models

// AttachmentRef points at an attachment persisted in blob storage.
type AttachmentRef struct {
	Filename   string `json:"filename"`
	StorageKey string `json:"storage_key"`
}

// EmailPayload is the canonical input to one orchestration run. It is
// immutable once constructed and owned by the caller for the duration of
// the run.
//
// plain_body is the canonical analysis source; html_body is a nullable
// fallback that gets stripped to text when plain_body is absent.
type EmailPayload struct {
	From        string          `json:"from"`
	To          string          `json:"to"`
	CC          *string         `json:"cc"`
	Subject     string          `json:"subject"`
	Date        string          `json:"date"`
	PlainBody   string          `json:"plain_body"`
	HTMLBody    *string         `json:"html_body"`
	Attachments []AttachmentRef `json:"attachments"`
}

// Verdict is the binary retrieval-routing decision produced by the
// classifier stage. It is derived per invocation and never persisted.
type Verdict string

const (
	// VerdictNeedsRetrieval routes the reply through the knowledge store.
	VerdictNeedsRetrieval Verdict = "needs_retrieval"

	// VerdictGeneral drafts the reply from general capability alone.
	VerdictGeneral Verdict = "general"
)

// Passage is a scored text snippet returned by the knowledge retriever.
// The retriever only returns passages at or above its minimum score, so
// consumers treat the set as already filtered.
type Passage struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}
