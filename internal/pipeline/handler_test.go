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

package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bcem/insight/internal/config"
	"github.com/bcem/insight/internal/ingest"
	"github.com/bcem/insight/internal/models"
	"github.com/bcem/insight/internal/store"
)

type fakeEnricher struct {
	env   models.Envelope
	err   error
	calls int
	last  *models.EmailPayload
}

func (f *fakeEnricher) Run(ctx context.Context, p *models.EmailPayload) (models.Envelope, error) {
	f.calls++
	f.last = p
	return f.env, f.err
}

type fakeBlobs struct {
	raw      []byte
	fetchErr error
	putKeys  []string
}

func (f *fakeBlobs) FetchRaw(ctx context.Context, bucket, key string) ([]byte, error) {
	return f.raw, f.fetchErr
}

func (f *fakeBlobs) PutAttachment(ctx context.Context, messageID, filename string, data []byte) (string, error) {
	key := "attachments/" + messageID + "/" + filename
	f.putKeys = append(f.putKeys, key)
	return key, nil
}

type fakeDeduper struct {
	isNew bool
	err   error
}

func (f *fakeDeduper) IsNew(ctx context.Context, messageID string) (bool, error) {
	return f.isNew, f.err
}

type fakePersister struct {
	calls  int
	last   store.PutParams
	putErr error
}

func (f *fakePersister) PutInsight(ctx context.Context, p store.PutParams) error {
	f.calls++
	f.last = p
	return f.putErr
}

type fakePublisher struct {
	calls int
}

func (f *fakePublisher) PublishInsight(ctx context.Context, tenantAlias, recipient, messageID, subject string, in *models.Insight) error {
	f.calls++
	return nil
}

type fakeReplier struct {
	calls     int
	recipient string
	subject   string
	body      string
}

func (f *fakeReplier) SendReply(ctx context.Context, recipient, subject, body string) error {
	f.calls++
	f.recipient = recipient
	f.subject = subject
	f.body = body
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Tenants: []config.TenantConfig{
			{Alias: "acme", Domains: []string{"acme.com"}},
		},
	}
}

func testInsight() *models.Insight {
	in := &models.Insight{
		Summary:    "Invoice attached, due Friday",
		Category:   models.CategoryFinance,
		Sentiment:  models.SentimentNeutral,
		SmartReply: "Thanks, we will process the invoice by Friday.",
	}
	in.Normalize()
	return in
}

const rawEmail = "From: Pat Doe <pat@sender.io>\r\n" +
	"To: billing@acme.com\r\n" +
	"Subject: Invoice #42\r\n" +
	"Message-Id: <mid-42@sender.io>\r\n" +
	"Date: Mon, 24 Aug 2026 10:00:00 +0000\r\n" +
	"\r\n" +
	"Please find the invoice attached.\r\n"

func testParse(raw []byte) (*ingest.ParsedEmail, error) {
	return ingest.Parse(raw)
}

// TestProcessObject_FullFlow exercises fetch → parse → enrich → persist
// → publish → reply.
func TestProcessObject_FullFlow(t *testing.T) {
	enricher := &fakeEnricher{env: models.Success(testInsight())}
	blobs := &fakeBlobs{raw: []byte(rawEmail)}
	persister := &fakePersister{}
	publisher := &fakePublisher{}
	replier := &fakeReplier{}

	h := NewHandler(testConfig(), enricher, blobs, testParse,
		&fakeDeduper{isNew: true}, persister, publisher, replier)

	if err := h.processObject(context.Background(), "inbound", "mail/obj-1"); err != nil {
		t.Fatalf("processObject: %v", err)
	}

	if enricher.calls != 1 {
		t.Fatalf("enricher calls = %d, want 1", enricher.calls)
	}
	if persister.calls != 1 {
		t.Fatalf("persister calls = %d, want 1", persister.calls)
	}
	if persister.last.TenantAlias != "acme" {
		t.Errorf("tenant = %q, want acme", persister.last.TenantAlias)
	}
	if persister.last.Recipient != "billing@acme.com" {
		t.Errorf("recipient = %q", persister.last.Recipient)
	}
	if persister.last.MessageID != "mid-42@sender.io" {
		t.Errorf("message_id = %q", persister.last.MessageID)
	}
	if publisher.calls != 1 {
		t.Errorf("publisher calls = %d, want 1", publisher.calls)
	}
	if replier.calls != 1 {
		t.Fatalf("replier calls = %d, want 1", replier.calls)
	}
	if replier.recipient != "pat@sender.io" {
		t.Errorf("reply recipient = %q", replier.recipient)
	}
	if replier.subject != "Re: Invoice #42" {
		t.Errorf("reply subject = %q", replier.subject)
	}
}

// TestProcessObject_Duplicate verifies dedup short-circuits before the agent.
func TestProcessObject_Duplicate(t *testing.T) {
	enricher := &fakeEnricher{env: models.Success(testInsight())}
	h := NewHandler(testConfig(), enricher, &fakeBlobs{raw: []byte(rawEmail)},
		testParse, &fakeDeduper{isNew: false}, &fakePersister{}, &fakePublisher{}, nil)

	if err := h.processObject(context.Background(), "inbound", "mail/obj-1"); err != nil {
		t.Fatalf("processObject: %v", err)
	}

	if enricher.calls != 0 {
		t.Errorf("enricher calls = %d, want 0 for duplicate", enricher.calls)
	}
}

// TestProcessObject_ErrorEnvelope verifies agent error envelopes are not
// persisted, published, or replied to.
func TestProcessObject_ErrorEnvelope(t *testing.T) {
	enricher := &fakeEnricher{env: models.Failure(&models.ErrorEnvelope{
		Error: models.ErrCodeEmptyMessage,
	})}
	persister := &fakePersister{}
	publisher := &fakePublisher{}
	replier := &fakeReplier{}

	h := NewHandler(testConfig(), enricher, &fakeBlobs{raw: []byte(rawEmail)},
		testParse, &fakeDeduper{isNew: true}, persister, publisher, replier)

	if err := h.processObject(context.Background(), "inbound", "mail/obj-1"); err != nil {
		t.Fatalf("processObject: %v", err)
	}

	if persister.calls != 0 || publisher.calls != 0 || replier.calls != 0 {
		t.Errorf("error envelope must not fan out: persist=%d publish=%d reply=%d",
			persister.calls, publisher.calls, replier.calls)
	}
}

// TestProcessObject_NoReplyWhenEmpty verifies an empty smart reply skips SES.
func TestProcessObject_NoReplyWhenEmpty(t *testing.T) {
	in := testInsight()
	in.SmartReply = ""
	replier := &fakeReplier{}

	h := NewHandler(testConfig(), &fakeEnricher{env: models.Success(in)},
		&fakeBlobs{raw: []byte(rawEmail)}, testParse, &fakeDeduper{isNew: true},
		&fakePersister{}, &fakePublisher{}, replier)

	if err := h.processObject(context.Background(), "inbound", "mail/obj-1"); err != nil {
		t.Fatalf("processObject: %v", err)
	}

	if replier.calls != 0 {
		t.Errorf("replier calls = %d, want 0", replier.calls)
	}
}

// TestProcessObject_DedupFaultProceeds verifies a dedup error never drops mail.
func TestProcessObject_DedupFaultProceeds(t *testing.T) {
	enricher := &fakeEnricher{env: models.Success(testInsight())}

	h := NewHandler(testConfig(), enricher, &fakeBlobs{raw: []byte(rawEmail)},
		testParse, &fakeDeduper{err: errors.New("redis down")},
		&fakePersister{}, &fakePublisher{}, nil)

	if err := h.processObject(context.Background(), "inbound", "mail/obj-1"); err != nil {
		t.Fatalf("processObject: %v", err)
	}

	if enricher.calls != 1 {
		t.Errorf("enricher calls = %d, want 1", enricher.calls)
	}
}

// TestServeInvoke verifies the synchronous invocation endpoint.
func TestServeInvoke(t *testing.T) {
	h := NewHandler(testConfig(), &fakeEnricher{env: models.Success(testInsight())},
		nil, nil, nil, nil, nil, nil)

	payload := `{"from":"a@b.com","to":"c@d.com","subject":"Hi","date":"","plain_body":"hello"}`
	req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(payload))
	rr := httptest.NewRecorder()

	h.ServeInvoke(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if got["summary"] != "Invoice attached, due Friday" {
		t.Errorf("summary = %v", got["summary"])
	}
	if _, hasErr := got["error"]; hasErr {
		t.Errorf("success response must not carry error key")
	}
}

// TestServeInvoke_TransportFailure verifies agent transport errors map to
// an invocation-failed envelope with 502.
func TestServeInvoke_TransportFailure(t *testing.T) {
	h := NewHandler(testConfig(), &fakeEnricher{err: errors.New("bedrock unreachable")},
		nil, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader(`{"subject":"x","plain_body":"y"}`))
	rr := httptest.NewRecorder()

	h.ServeInvoke(rr, req)

	if rr.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadGateway)
	}

	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if got["error"] != models.ErrCodeInvocationFailed {
		t.Errorf("error = %v, want %v", got["error"], models.ErrCodeInvocationFailed)
	}
}

// TestServeInvoke_BadJSON verifies malformed request bodies get 400.
func TestServeInvoke_BadJSON(t *testing.T) {
	h := NewHandler(testConfig(), &fakeEnricher{}, nil, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/invoke", strings.NewReader("not json"))
	rr := httptest.NewRecorder()

	h.ServeInvoke(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

// TestServeEvent_Accepts verifies event notifications return 202 fast.
func TestServeEvent_Accepts(t *testing.T) {
	h := NewHandler(testConfig(), &fakeEnricher{env: models.Success(testInsight())},
		&fakeBlobs{raw: []byte(rawEmail)}, testParse, &fakeDeduper{isNew: true},
		&fakePersister{}, &fakePublisher{}, nil)

	body := `{"Records":[{"s3":{"bucket":{"name":"inbound"},"object":{"key":"mail/obj-1"}}}]}`
	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(body))
	rr := httptest.NewRecorder()

	h.ServeEvent(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
}

// TestServeEvent_InvalidJSON verifies malformed events are acknowledged,
// not retried.
func TestServeEvent_InvalidJSON(t *testing.T) {
	h := NewHandler(testConfig(), &fakeEnricher{}, nil, nil, nil, nil, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader("not json"))
	rr := httptest.NewRecorder()

	h.ServeEvent(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusAccepted)
	}
}

type fakePinger struct {
	err error
}

func (f *fakePinger) Ping(ctx context.Context) error {
	return f.err
}

// TestServeHealth reflects backing-dependency state.
func TestServeHealth(t *testing.T) {
	healthy := NewHandler(testConfig(), &fakeEnricher{}, nil, nil, nil, nil, nil, nil,
		&fakePinger{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	healthy.ServeHealth(rr, req)

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusOK)
	}

	sick := NewHandler(testConfig(), &fakeEnricher{}, nil, nil, nil, nil, nil, nil,
		&fakePinger{}, &fakePinger{err: errors.New("redis down")})

	rr = httptest.NewRecorder()
	sick.ServeHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
}

// TestDecodeObjectKey verifies storage-event key decoding.
func TestDecodeObjectKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"mail/simple.eml", "mail/simple.eml"},
		{"mail/with+spaces.eml", "mail/with spaces.eml"},
		{"mail/caf%C3%A9.eml", "mail/café.eml"},
	}

	for _, tt := range tests {
		got, err := decodeObjectKey(tt.in)
		if err != nil {
			t.Fatalf("decodeObjectKey(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("decodeObjectKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
