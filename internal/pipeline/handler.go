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

// Package pipeline wires the enrichment flow end to end. Inbound mail
// lands as an object in storage; the storage service POSTs an event
// notification here. The handler acknowledges fast, then fetches the
// raw message, parses it, runs the agent, and fans the result out to
// persistence, the event queue, and (optionally) an auto-reply.
//
// A second endpoint, /invoke, runs the agent synchronously on a
// pre-parsed payload. It exists for evaluation harnesses and manual
// testing and shares all agent semantics with the event path.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/bcem/insight/internal/config"
	"github.com/bcem/insight/internal/ingest"
	"github.com/bcem/insight/internal/models"
	"github.com/bcem/insight/internal/store"
)

// Enricher runs the agent on one email payload.
type Enricher interface {
	Run(ctx context.Context, payload *models.EmailPayload) (models.Envelope, error)
}

// BlobStore fetches raw mail and persists extracted attachments.
type BlobStore interface {
	FetchRaw(ctx context.Context, bucket, key string) ([]byte, error)
	PutAttachment(ctx context.Context, messageID, filename string, data []byte) (string, error)
}

// ParseFunc decomposes raw RFC-822 bytes. Production wiring passes
// ingest.Parse.
type ParseFunc func(raw []byte) (*ingest.ParsedEmail, error)

// Deduper filters already-processed message IDs.
type Deduper interface {
	IsNew(ctx context.Context, messageID string) (bool, error)
}

// Persister writes the enriched record.
type Persister interface {
	PutInsight(ctx context.Context, p store.PutParams) error
}

// EventPublisher pushes insight events for downstream consumers.
type EventPublisher interface {
	PublishInsight(ctx context.Context, tenantAlias, recipient, messageID, subject string, in *models.Insight) error
}

// ReplySender delivers a drafted reply.
type ReplySender interface {
	SendReply(ctx context.Context, recipient, subject, body string) error
}

// Pinger is a backing dependency the health endpoint checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler processes storage event notifications and direct invocations.
type Handler struct {
	cfg       *config.Config
	enricher  Enricher
	blobs     BlobStore
	parse     ParseFunc
	filter    Deduper
	persister Persister
	publisher EventPublisher
	replier   ReplySender
	pingers   []Pinger
}

// NewHandler creates a pipeline handler. replier may be nil when
// auto-reply is disabled; pingers back the health endpoint.
func NewHandler(
	cfg *config.Config,
	enricher Enricher,
	blobs BlobStore,
	parse ParseFunc,
	filter Deduper,
	persister Persister,
	publisher EventPublisher,
	replier ReplySender,
	pingers ...Pinger,
) *Handler {
	return &Handler{
		cfg:       cfg,
		enricher:  enricher,
		blobs:     blobs,
		parse:     parse,
		filter:    filter,
		persister: persister,
		publisher: publisher,
		replier:   replier,
		pingers:   pingers,
	}
}

// s3EventRecord is one record in an object-storage event notification.
type s3EventRecord struct {
	S3 struct {
		Bucket struct {
			Name string `json:"name"`
		} `json:"bucket"`
		Object struct {
			Key string `json:"key"`
		} `json:"object"`
	} `json:"s3"`
}

// s3Event is the notification wrapper the storage service POSTs.
type s3Event struct {
	Records []s3EventRecord `json:"Records"`
}

// ServeEvent handles object-created notifications.
//
// The storage service expects a fast response, so we acknowledge with
// 202 immediately and process records in the background. A body we
// cannot parse is still acknowledged: retrying a malformed event will
// never succeed.
func (h *Handler) ServeEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		slog.Error("failed to read event body", "error", err)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var event s3Event
	if err := json.Unmarshal(body, &event); err != nil {
		slog.Info("event body not valid JSON, ignoring",
			"body_len", len(body),
		)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	go h.processRecords(context.Background(), event.Records)
}

// ServeInvoke runs the agent synchronously on a pre-parsed payload and
// returns the envelope. The envelope itself carries agent-level errors;
// a non-200 status means the agent could not be invoked at all.
func (h *Handler) ServeInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var payload models.EmailPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, models.Failure(&models.ErrorEnvelope{
			Error:  models.ErrCodeInvocationFailed,
			Detail: fmt.Sprintf("decode payload: %v", err),
		}))
		return
	}

	env, err := h.enricher.Run(r.Context(), &payload)
	if err != nil {
		slog.Error("invocation failed", "error", err)
		writeJSON(w, http.StatusBadGateway, models.Failure(&models.ErrorEnvelope{
			Error:  models.ErrCodeInvocationFailed,
			Detail: err.Error(),
		}))
		return
	}

	writeJSON(w, http.StatusOK, env)
}

// ServeHealth reports liveness, checking every backing dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	for _, p := range h.pingers {
		if err := p.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// processRecords enriches each object in the notification.
func (h *Handler) processRecords(ctx context.Context, records []s3EventRecord) {
	for _, rec := range records {
		bucket := rec.S3.Bucket.Name
		key, err := decodeObjectKey(rec.S3.Object.Key)
		if err != nil {
			slog.Warn("failed to decode object key",
				"key", rec.S3.Object.Key,
				"error", err,
			)
			continue
		}

		if err := h.processObject(ctx, bucket, key); err != nil {
			slog.Error("enrichment failed",
				"bucket", bucket,
				"key", key,
				"error", err,
			)
		}
	}
}

// processObject runs the full flow for one raw email object.
func (h *Handler) processObject(ctx context.Context, bucket, key string) error {
	raw, err := h.blobs.FetchRaw(ctx, bucket, key)
	if err != nil {
		return fmt.Errorf("fetch raw email: %w", err)
	}

	parsed, err := h.parse(raw)
	if err != nil {
		return fmt.Errorf("parse email: %w", err)
	}

	messageID := parsed.Meta.MessageID
	if messageID == "" {
		// Fall back to the object key so dedup and record keys stay stable.
		messageID = key
	}

	isNew, err := h.filter.IsNew(ctx, messageID)
	if err != nil {
		slog.Warn("dedup check failed, proceeding", "error", err)
	} else if !isNew {
		slog.Debug("skipping duplicate message", "message_id", messageID)
		return nil
	}

	// Store attachments before invoking the agent so the payload carries
	// their final storage keys.
	for _, a := range parsed.Attachments {
		storageKey, err := h.blobs.PutAttachment(ctx, messageID, a.Filename, a.Data)
		if err != nil {
			slog.Warn("attachment store failed",
				"message_id", messageID,
				"filename", a.Filename,
				"error", err,
			)
			continue
		}
		parsed.Payload.Attachments = append(parsed.Payload.Attachments, models.AttachmentRef{
			Filename:   a.Filename,
			StorageKey: storageKey,
		})
	}

	tenantAlias := h.cfg.TenantForRecipient(parsed.Meta.Recipient)

	slog.Info("processing inbound email",
		"tenant", tenantAlias,
		"recipient", parsed.Meta.Recipient,
		"message_id", messageID,
	)

	env, err := h.enricher.Run(ctx, &parsed.Payload)
	if err != nil {
		return fmt.Errorf("run agent: %w", err)
	}

	if env.IsError() {
		slog.Warn("agent returned error envelope",
			"message_id", messageID,
			"code", env.Err.Error,
		)
		return nil
	}

	if err := h.persister.PutInsight(ctx, store.PutParams{
		TenantAlias: tenantAlias,
		Recipient:   parsed.Meta.Recipient,
		MessageID:   messageID,
		From:        parsed.Meta.FromAddr,
		FromName:    parsed.Meta.FromName,
		Subject:     parsed.Payload.Subject,
		Date:        parsed.Payload.Date,
		Insight:     env.Insight,
	}); err != nil {
		return fmt.Errorf("persist insight: %w", err)
	}

	if err := h.publisher.PublishInsight(ctx, tenantAlias, parsed.Meta.Recipient, messageID, parsed.Payload.Subject, env.Insight); err != nil {
		slog.Error("publish failed",
			"message_id", messageID,
			"error", err,
		)
	}

	h.maybeReply(ctx, parsed, env.Insight)

	return nil
}

// maybeReply sends the drafted reply when auto-reply is on and the
// agent produced one. Failures are logged, never propagated: the
// record is already persisted.
func (h *Handler) maybeReply(ctx context.Context, parsed *ingest.ParsedEmail, in *models.Insight) {
	if h.replier == nil || in.SmartReply == "" {
		return
	}
	if parsed.Meta.FromAddr == "" {
		slog.Warn("skipping reply, sender address unknown")
		return
	}

	subject := replySubject(parsed.Payload.Subject)
	if err := h.replier.SendReply(ctx, parsed.Meta.FromAddr, subject, in.SmartReply); err != nil {
		slog.Error("reply send failed",
			"recipient", parsed.Meta.FromAddr,
			"error", err,
		)
	}
}

func replySubject(subject string) string {
	if subject == "" {
		return "Re: your message"
	}
	return "Re: " + subject
}

// decodeObjectKey reverses the URL encoding storage events apply to
// object keys, where spaces arrive as '+'.
func decodeObjectKey(key string) (string, error) {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		return "", fmt.Errorf("unescape key %q: %w", key, err)
	}
	return decoded, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

// Serve starts the pipeline HTTP server on the given port. It binds the
// port immediately and signals readiness via the returned channel before
// starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()

	mux.HandleFunc("/events", handler.ServeEvent)
	mux.HandleFunc("/invoke", handler.ServeInvoke)
	mux.HandleFunc("/health", handler.ServeHealth)

	server := &http.Server{
		Handler: mux,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind pipeline port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("pipeline server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("pipeline server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("pipeline server error", "error", err)
		}
	}()

	return ready, nil
}
