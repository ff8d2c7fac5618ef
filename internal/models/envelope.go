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

package models

import (
	"encoding/json"
	"fmt"
)

// Category is the closed classification set for an email.
type Category string

// The nine allowed categories.
const (
	CategoryWork      Category = "Work"
	CategoryPersonal  Category = "Personal"
	CategoryFinance   Category = "Finance"
	CategoryMarketing Category = "Marketing/Promotions"
	CategorySocial    Category = "Social"
	CategorySpam      Category = "Spam"
	CategoryTravel    Category = "Travel"
	CategoryReceipts  Category = "Receipts"
	CategoryOther     Category = "Other"
)

// Sentiment is the closed sentiment set for the sender's tone.
type Sentiment string

// The four allowed sentiments.
const (
	SentimentPositive Sentiment = "Positive"
	SentimentNeutral  Sentiment = "Neutral"
	SentimentNegative Sentiment = "Negative"
	SentimentMixed    Sentiment = "Mixed"
)

// Categories lists every allowed category value.
var Categories = []Category{
	CategoryWork, CategoryPersonal, CategoryFinance, CategoryMarketing,
	CategorySocial, CategorySpam, CategoryTravel, CategoryReceipts,
	CategoryOther,
}

// Sentiments lists every allowed sentiment value.
var Sentiments = []Sentiment{
	SentimentPositive, SentimentNeutral, SentimentNegative, SentimentMixed,
}

// ValidCategory reports whether c is a member of the closed category set.
func ValidCategory(c Category) bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// ValidSentiment reports whether s is a member of the closed sentiment set.
func ValidSentiment(s Sentiment) bool {
	for _, v := range Sentiments {
		if s == v {
			return true
		}
	}
	return false
}

// Error codes surfaced inside an ErrorEnvelope.
const (
	// ErrCodeEmptyMessage means the source text was empty or unparsable
	// as natural-language content. Terminal: no further stages run.
	ErrCodeEmptyMessage = "EmptyMessage"

	// ErrCodeInvalidJSON means the orchestrator's final text output
	// could not be parsed as a single JSON object.
	ErrCodeInvalidJSON = "OrchestratorInvalidJSON"

	// ErrCodeInvocationFailed is an evaluation-harness-level code for a
	// transport failure calling the entry point.
	ErrCodeInvocationFailed = "InvocationFailed"
)

// Insight is the structured result of the extraction pipeline. Every array
// field is always a list, possibly empty, never null.
type Insight struct {
	Summary     string    `json:"summary"`
	Category    Category  `json:"category"`
	Sentiment   Sentiment `json:"sentiment"`
	IsUrgent    bool      `json:"is_urgent"`
	KeyDates    []string  `json:"key_dates"`
	Amounts     []string  `json:"amounts"`
	ActionItems []string  `json:"action_items"`
	Entities    []string  `json:"entities"`
	Links       []string  `json:"links"`
	Attachments []string  `json:"attachments"`
	SmartReply  string    `json:"smart_reply"`
}

// Normalize enforces the envelope contract on a freshly parsed Insight:
// nil arrays become empty lists, and out-of-set category/sentiment values
// collapse to Other/Neutral. It returns the original category and
// sentiment strings when either was replaced, for logging.
func (in *Insight) Normalize() (badCategory, badSentiment string) {
	for _, p := range []*[]string{
		&in.KeyDates, &in.Amounts, &in.ActionItems,
		&in.Entities, &in.Links, &in.Attachments,
	} {
		if *p == nil {
			*p = []string{}
		}
	}

	if !ValidCategory(in.Category) {
		badCategory = string(in.Category)
		in.Category = CategoryOther
	}
	if !ValidSentiment(in.Sentiment) {
		badSentiment = string(in.Sentiment)
		in.Sentiment = SentimentNeutral
	}
	return badCategory, badSentiment
}

// ErrorEnvelope is the degenerate result of a failed run. Error and
// success envelopes are mutually exclusive, never mixed.
type ErrorEnvelope struct {
	Error string `json:"error"`

	// Raw carries the unparsable orchestrator output verbatim when
	// Error is OrchestratorInvalidJSON.
	Raw string `json:"raw,omitempty"`

	// Detail carries transport-failure diagnostics when Error is
	// InvocationFailed.
	Detail string `json:"detail,omitempty"`
}

// Envelope is the final result of one orchestration run: either an Insight
// or an ErrorEnvelope, never both. It marshals to exactly one JSON object.
type Envelope struct {
	Insight *Insight
	Err     *ErrorEnvelope
}

// Success wraps an Insight in an Envelope.
func Success(in *Insight) Envelope {
	return Envelope{Insight: in}
}

// Failure wraps an ErrorEnvelope in an Envelope.
func Failure(e *ErrorEnvelope) Envelope {
	return Envelope{Err: e}
}

// IsError reports whether the envelope carries an error.
func (e Envelope) IsError() bool {
	return e.Err != nil
}

// MarshalJSON emits the insight object or the error object, whichever is
// set. An envelope carrying neither is a programming error.
func (e Envelope) MarshalJSON() ([]byte, error) {
	switch {
	case e.Err != nil:
		return json.Marshal(e.Err)
	case e.Insight != nil:
		return json.Marshal(e.Insight)
	default:
		return nil, fmt.Errorf("empty envelope")
	}
}

// UnmarshalJSON decides the variant by the presence of the "error" key.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var probe struct {
		Error *string `json:"error"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	if probe.Error != nil {
		var ee ErrorEnvelope
		if err := json.Unmarshal(data, &ee); err != nil {
			return fmt.Errorf("decode error envelope: %w", err)
		}
		*e = Envelope{Err: &ee}
		return nil
	}

	var in Insight
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("decode insight envelope: %w", err)
	}
	*e = Envelope{Insight: &in}
	return nil
}
