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

// Package eval scores agent output against a JSONL dataset of expected
// behaviours. Each case invokes the agent (over HTTP or in process) and
// runs a fixed battery of checks: schema validity, summary length,
// category and sentiment membership, required entities and action
// items, and smart-reply presence. The case score is the fraction of
// passing checks; an expected error envelope scores 1.0 on its own.
package eval

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/bcem/insight/internal/models"
)

// DefaultSummaryMaxWords bounds the summary unless a case overrides it.
const DefaultSummaryMaxWords = 60

// Expect declares the per-case expectations. Zero-valued fields are
// skipped, matching the dataset's sparse style.
type Expect struct {
	AllowErrorCodes           []string `json:"allow_error_codes,omitempty"`
	SummaryMaxWords           int      `json:"summary_max_words,omitempty"`
	CategoryIn                []string `json:"category_in,omitempty"`
	SentimentIn               []string `json:"sentiment_in,omitempty"`
	MustHaveEntities          []string `json:"must_have_entities,omitempty"`
	MustHaveActionItemsSubstr []string `json:"must_have_action_items_substr,omitempty"`
	SmartReplyRequired        bool     `json:"smart_reply_required,omitempty"`
}

// Case is one dataset row.
type Case struct {
	ID     string              `json:"id"`
	Mode   string              `json:"mode,omitempty"`
	Input  models.EmailPayload `json:"input"`
	Expect Expect              `json:"expect"`
}

// Check is one named pass/fail with optional detail.
type Check struct {
	Name   string `json:"name"`
	Pass   bool   `json:"pass"`
	Detail string `json:"detail,omitempty"`
}

// CaseResult is the scored outcome for one case.
type CaseResult struct {
	ID     string          `json:"id"`
	Score  float64         `json:"score"`
	Checks []Check         `json:"checks"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

// Report aggregates a full run.
type Report struct {
	Dataset   string       `json:"dataset"`
	Endpoint  string       `json:"endpoint"`
	Count     int          `json:"count"`
	AvgScore  float64      `json:"avg_score"`
	DurationS float64      `json:"duration_s"`
	Results   []CaseResult `json:"results"`
}

// LoadCases reads a JSONL dataset, skipping blank lines.
func LoadCases(r io.Reader) ([]Case, error) {
	var cases []Case

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		var c Case
		if err := json.Unmarshal([]byte(text), &c); err != nil {
			return nil, fmt.Errorf("dataset line %d: %w", line, err)
		}
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}

	return cases, nil
}

// Judge scores one raw agent response against the case expectations.
// The response is inspected as generic JSON so schema violations are
// observed rather than repaired by struct decoding.
func Judge(c Case, raw json.RawMessage) CaseResult {
	out := CaseResult{ID: c.ID, Raw: raw}

	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		obj = map[string]any{}
	}

	// An error envelope short-circuits: it either matches the allowed
	// codes for this case or fails outright.
	if errCode, isErr := obj["error"].(string); isErr {
		if len(c.Expect.AllowErrorCodes) > 0 && contains(c.Expect.AllowErrorCodes, errCode) {
			out.Checks = append(out.Checks, Check{
				Name: "allowed_error", Pass: true,
				Detail: "got error " + errCode,
			})
			out.Score = 1.0
		} else {
			out.Checks = append(out.Checks, Check{
				Name: "allowed_error", Pass: false,
				Detail: "unexpected error " + errCode,
			})
		}
		return out
	}

	ok, errs := validateSchema(obj)
	out.Checks = append(out.Checks, Check{
		Name: "schema_valid", Pass: ok,
		Detail: strings.Join(errs, "; "),
	})

	maxWords := c.Expect.SummaryMaxWords
	if maxWords == 0 {
		maxWords = DefaultSummaryMaxWords
	}
	sumOK := false
	if summary, ok := obj["summary"].(string); ok {
		sumOK = WordCount(summary) <= maxWords
	}
	out.Checks = append(out.Checks, Check{
		Name:   "summary_len_ok",
		Pass:   sumOK,
		Detail: fmt.Sprintf("<= %d words", maxWords),
	})

	catOK := true
	if len(c.Expect.CategoryIn) > 0 {
		cat, _ := obj["category"].(string)
		catOK = contains(c.Expect.CategoryIn, cat)
	}
	out.Checks = append(out.Checks, Check{Name: "category_expected", Pass: catOK})

	sentOK := true
	if len(c.Expect.SentimentIn) > 0 {
		sent, _ := obj["sentiment"].(string)
		sentOK = contains(c.Expect.SentimentIn, sent)
	}
	out.Checks = append(out.Checks, Check{Name: "sentiment_expected", Pass: sentOK})

	entOK := true
	if len(c.Expect.MustHaveEntities) > 0 {
		entities := stringSlice(obj["entities"])
		for _, needle := range c.Expect.MustHaveEntities {
			if !anyContains(entities, needle, false) {
				entOK = false
				break
			}
		}
	}
	out.Checks = append(out.Checks, Check{Name: "entities_contain_required", Pass: entOK})

	aiOK := true
	if len(c.Expect.MustHaveActionItemsSubstr) > 0 {
		items := stringSlice(obj["action_items"])
		for _, sub := range c.Expect.MustHaveActionItemsSubstr {
			if !anyContains(items, sub, true) {
				aiOK = false
				break
			}
		}
	}
	out.Checks = append(out.Checks, Check{Name: "action_items_expected", Pass: aiOK})

	srOK := true
	if c.Expect.SmartReplyRequired {
		sr, _ := obj["smart_reply"].(string)
		srOK = sr != ""
	}
	out.Checks = append(out.Checks, Check{Name: "smart_reply_present", Pass: srOK})

	passed := 0
	for _, ch := range out.Checks {
		if ch.Pass {
			passed++
		}
	}
	out.Score = float64(passed) / float64(len(out.Checks))

	return out
}

// validateSchema checks required keys, value types, and enum membership.
func validateSchema(obj map[string]any) (bool, []string) {
	var errs []string

	required := []string{
		"summary", "category", "sentiment", "is_urgent",
		"key_dates", "amounts", "action_items", "entities", "links", "attachments",
	}
	var missing []string
	for _, k := range required {
		if _, ok := obj[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		errs = append(errs, "missing keys: "+strings.Join(missing, ", "))
	}

	for _, k := range []string{"summary", "category", "sentiment"} {
		if v, ok := obj[k]; ok {
			if _, isStr := v.(string); !isStr {
				errs = append(errs, k+" must be string")
			}
		}
	}
	if v, ok := obj["is_urgent"]; ok {
		if _, isBool := v.(bool); !isBool {
			errs = append(errs, "is_urgent must be bool")
		}
	}
	for _, k := range []string{"key_dates", "amounts", "action_items", "entities", "links", "attachments"} {
		if v, ok := obj[k]; ok {
			if _, isList := v.([]any); !isList {
				errs = append(errs, k+" must be array")
			}
		}
	}

	if v, ok := obj["category"].(string); ok && !models.ValidCategory(models.Category(v)) {
		errs = append(errs, "category not in allowed set: "+v)
	}
	if v, ok := obj["sentiment"].(string); ok && !models.ValidSentiment(models.Sentiment(v)) {
		errs = append(errs, "sentiment not in allowed set: "+v)
	}

	return len(errs) == 0, errs
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// BuildReport aggregates case results into a run report.
func BuildReport(dataset, endpoint string, results []CaseResult, durationS float64) Report {
	sum := 0.0
	for _, r := range results {
		sum += r.Score
	}
	avg := 0.0
	if len(results) > 0 {
		avg = sum / float64(len(results))
	}
	return Report{
		Dataset:   dataset,
		Endpoint:  endpoint,
		Count:     len(results),
		AvgScore:  avg,
		DurationS: durationS,
		Results:   results,
	}
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// stringSlice coerces a decoded JSON array into strings, dropping
// non-string members.
func stringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// anyContains reports whether any member contains the needle, optionally
// case-insensitively.
func anyContains(members []string, needle string, fold bool) bool {
	if fold {
		needle = strings.ToLower(needle)
	}
	for _, m := range members {
		if fold {
			m = strings.ToLower(m)
		}
		if strings.Contains(m, needle) {
			return true
		}
	}
	return false
}
