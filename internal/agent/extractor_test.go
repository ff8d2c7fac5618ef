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
	"errors"
	"strings"
	"testing"

	"github.com/bcem/insight/internal/models"
)

// fakeCompleter records the last prompt pair and plays back a canned
// response.
type fakeCompleter struct {
	resp  string
	err   error
	calls int

	lastSystem string
	lastUser   string
}

func (f *fakeCompleter) Complete(_ context.Context, system, user string) (string, error) {
	f.calls++
	f.lastSystem = system
	f.lastUser = user
	return f.resp, f.err
}

const validInsightJSON = `{
	"summary": "Invoice 123 due Friday",
	"category": "Finance",
	"sentiment": "Neutral",
	"is_urgent": true,
	"key_dates": ["2026-08-28"],
	"amounts": ["500 USD"],
	"action_items": ["Pay invoice"],
	"entities": ["Acme Corp"],
	"links": [],
	"attachments": []
}`

func strPtr(s string) *string { return &s }

// TestExtract_EmptyBodyShortCircuits verifies the EmptyMessage envelope is
// produced locally, without a model call.
func TestExtract_EmptyBodyShortCircuits(t *testing.T) {
	tests := []struct {
		name    string
		payload models.EmailPayload
	}{
		{
			name:    "empty plain body, nil html",
			payload: models.EmailPayload{PlainBody: ""},
		},
		{
			name:    "whitespace plain body",
			payload: models.EmailPayload{PlainBody: "   \n\t  "},
		},
		{
			name: "html with no text content",
			payload: models.EmailPayload{
				PlainBody: "",
				HTMLBody:  strPtr("<div><img src=\"x.png\"></div>"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeCompleter{resp: validInsightJSON}
			ex := NewInsightExtractor(fc)

			env, err := ex.Extract(context.Background(), &tt.payload)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !env.IsError() {
				t.Fatal("expected error envelope")
			}
			if env.Err.Error != models.ErrCodeEmptyMessage {
				t.Errorf("error = %q, want %q", env.Err.Error, models.ErrCodeEmptyMessage)
			}
			if fc.calls != 0 {
				t.Errorf("model called %d times, want 0", fc.calls)
			}
		})
	}
}

// TestExtract_HTMLFallback verifies a stripped html_body counts as usable
// content.
func TestExtract_HTMLFallback(t *testing.T) {
	fc := &fakeCompleter{resp: validInsightJSON}
	ex := NewInsightExtractor(fc)

	payload := models.EmailPayload{
		PlainBody: "",
		HTMLBody:  strPtr("<p>Please pay <b>$500 USD</b> by Friday.</p>"),
	}

	env, err := ex.Extract(context.Background(), &payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.IsError() {
		t.Fatalf("unexpected error envelope: %+v", env.Err)
	}
	if fc.calls != 1 {
		t.Errorf("model called %d times, want 1", fc.calls)
	}
}

// TestExtract_NormalizesEnumsAndArrays verifies defensive normalization of
// model output.
func TestExtract_NormalizesEnumsAndArrays(t *testing.T) {
	fc := &fakeCompleter{resp: `{
		"summary": "hi",
		"category": "Bills",
		"sentiment": "Angry",
		"is_urgent": false
	}`}
	ex := NewInsightExtractor(fc)

	env, err := ex.Extract(context.Background(), &models.EmailPayload{PlainBody: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.IsError() {
		t.Fatalf("unexpected error envelope: %+v", env.Err)
	}

	in := env.Insight
	if in.Category != models.CategoryOther {
		t.Errorf("category = %q, want Other", in.Category)
	}
	if in.Sentiment != models.SentimentNeutral {
		t.Errorf("sentiment = %q, want Neutral", in.Sentiment)
	}

	for name, arr := range map[string][]string{
		"key_dates":    in.KeyDates,
		"amounts":      in.Amounts,
		"action_items": in.ActionItems,
		"entities":     in.Entities,
		"links":        in.Links,
		"attachments":  in.Attachments,
	} {
		if arr == nil {
			t.Errorf("%s is nil, want empty list", name)
		}
	}
}

// TestExtract_TransportErrorIsTerminal verifies a completer fault surfaces
// as a Go error, not an envelope.
func TestExtract_TransportErrorIsTerminal(t *testing.T) {
	fc := &fakeCompleter{err: errors.New("throttled")}
	ex := NewInsightExtractor(fc)

	_, err := ex.Extract(context.Background(), &models.EmailPayload{PlainBody: "hello"})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "throttled") {
		t.Errorf("error %q does not wrap cause", err)
	}
}

// TestParseEnvelope covers the output-discipline contract.
func TestParseEnvelope(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantError string // expected error code, "" for success
	}{
		{
			name: "plain insight object",
			raw:  validInsightJSON,
		},
		{
			name: "fenced insight object",
			raw:  "```json\n" + validInsightJSON + "\n```",
		},
		{
			name:      "model-signalled empty message",
			raw:       `{ "error": "EmptyMessage" }`,
			wantError: models.ErrCodeEmptyMessage,
		},
		{
			name:      "free text",
			raw:       "I could not parse that email, sorry!",
			wantError: models.ErrCodeInvalidJSON,
		},
		{
			name:      "truncated JSON",
			raw:       `{"summary": "half`,
			wantError: models.ErrCodeInvalidJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := ParseEnvelope(tt.raw)

			if tt.wantError == "" {
				if env.IsError() {
					t.Fatalf("unexpected error envelope: %+v", env.Err)
				}
				return
			}

			if !env.IsError() {
				t.Fatal("expected error envelope")
			}
			if env.Err.Error != tt.wantError {
				t.Errorf("error = %q, want %q", env.Err.Error, tt.wantError)
			}
			if tt.wantError == models.ErrCodeInvalidJSON && env.Err.Raw != tt.raw {
				t.Errorf("raw = %q, want original text verbatim", env.Err.Raw)
			}
		})
	}
}

// TestStripHTML verifies markup reduction.
func TestStripHTML(t *testing.T) {
	got := StripHTML("<p>Price is <b>&euro;50</b></p>")
	if !strings.Contains(got, "€50") {
		t.Errorf("StripHTML = %q, want entity-decoded text", got)
	}
	if strings.Contains(got, "<") {
		t.Errorf("StripHTML = %q, contains markup", got)
	}
}
