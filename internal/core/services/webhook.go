package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-sync/internal/core/ports/driving"
	"github.com/custodia-labs/sercha-sync/internal/logger"
)

// Ensure WebhookNormalizer implements the interface.
var _ driving.WebhookNormalizer = (*WebhookNormalizer)(nil)

// Header carrying the provider event name.
var eventHeaders = map[domain.ProviderType]string{
	domain.ProviderGitHub:    "X-GitHub-Event",
	domain.ProviderGitLab:    "X-Gitlab-Event",
	domain.ProviderBitbucket: "X-Event-Key",
	domain.ProviderGDrive:    "X-Goog-Resource-State",
}

// Header carrying the provider delivery id.
var deliveryHeaders = map[domain.ProviderType]string{
	domain.ProviderGitHub:    "X-GitHub-Delivery",
	domain.ProviderGitLab:    "X-Gitlab-Event-UUID",
	domain.ProviderBitbucket: "X-Request-UUID",
	domain.ProviderGDrive:    "X-Goog-Message-Number",
}

// Events that carry no changes: GitHub hook pings and the Drive channel
// handshake.
var handshakeEvents = map[string]bool{
	"ping": true,
	"sync": true,
}

// arrivals numbers changes as they are logged, for every service in the
// process.
var arrivals domain.OrdinalClock

const (
	// replayGrace leaves recent events to the request that logged them.
	replayGrace = time.Minute

	// replayWindow bounds how far back replay looks.
	replayWindow = 24 * time.Hour

	replayBatch = 500
)

// WebhookNormalizer logs provider notifications and turns them into
// incremental jobs.
type WebhookNormalizer struct {
	sources driven.SourceStore
	events  driven.WebhookEventStore
	queue   driven.JobQueue
	factory driven.ConnectorFactory
	now     func() time.Time
}

// NewWebhookNormalizer creates a webhook normalizer.
func NewWebhookNormalizer(
	sources driven.SourceStore,
	events driven.WebhookEventStore,
	queue driven.JobQueue,
	factory driven.ConnectorFactory,
) *WebhookNormalizer {
	return &WebhookNormalizer{
		sources: sources,
		events:  events,
		queue:   queue,
		factory: factory,
		now:     time.Now,
	}
}

// Handle identifies the source, verifies the request, logs the event and
// enqueues the parsed changes. An error means nothing was logged and the
// provider should redeliver.
func (n *WebhookNormalizer) Handle(ctx context.Context, req *domain.WebhookRequest) (*driving.WebhookResult, error) {
	ctx = logger.WithField(ctx, logger.FieldProvider, string(req.Provider))
	eventType := req.Header(eventHeaders[req.Provider])
	delivery, digest := deliveryID(req)

	var sources []domain.Source
	if externalID, ok := n.factory.Identify(req.Provider, req); ok {
		found, err := n.sources.FindByExternalID(ctx, req.Provider, externalID)
		if err != nil {
			return nil, fmt.Errorf("find source: %w", err)
		}
		sources = found
	}

	if len(sources) == 0 {
		event := n.newEvent(req, "", eventType, delivery)
		if err := n.events.Save(ctx, event); err != nil {
			return nil, fmt.Errorf("save orphan event: %w", err)
		}
		logger.CtxWarn(ctx, "webhook %s matched no source", event.ID)
		return &driving.WebhookResult{
			StatusCode: http.StatusOK,
			Outcome:    driving.WebhookUnmatched,
			EventIDs:   []string{event.ID},
		}, nil
	}

	result := &driving.WebhookResult{StatusCode: http.StatusUnauthorized, Outcome: driving.WebhookRejected}
	for i := range sources {
		src := &sources[i]
		eventID, jobID, outcome, err := n.handleSource(ctx, src, req, eventType, delivery, digest)
		if err != nil {
			return nil, err
		}
		result.EventIDs = append(result.EventIDs, eventID)
		if jobID != "" {
			result.JobIDs = append(result.JobIDs, jobID)
		}
		if outcome != driving.WebhookRejected && result.Outcome == driving.WebhookRejected {
			result.StatusCode = http.StatusOK
			result.Outcome = outcome
		}
	}
	return result, nil
}

func (n *WebhookNormalizer) handleSource(
	ctx context.Context,
	src *domain.Source,
	req *domain.WebhookRequest,
	eventType, delivery string,
	digest bool,
) (eventID, jobID string, outcome driving.WebhookOutcome, err error) {
	ctx = logger.WithField(ctx, logger.FieldSourceID, src.ID)

	conn, err := n.factory.Create(ctx, *src)
	if err != nil {
		return "", "", "", fmt.Errorf("create connector: %w", err)
	}
	defer conn.Close()

	// One delivery can fan out to several sources on the same repository.
	event := n.newEvent(req, src.ID, eventType, src.ID+"/"+delivery)

	if !conn.ValidateWebhook(req) {
		if err := n.events.Save(ctx, event); err != nil {
			return "", "", "", fmt.Errorf("save rejected event: %w", err)
		}
		logger.CtxWarn(ctx, "webhook %s failed signature verification", event.ID)
		return event.ID, "", driving.WebhookRejected, nil
	}
	event.SignatureValid = true

	first, err := n.events.FindByDelivery(ctx, req.Provider, event.DeliveryID)
	if err == nil && digest && !n.awaiting(ctx, first) {
		// Identical bodies are distinct notifications once the earlier
		// one's work has started.
		err = domain.ErrNotFound
	}
	switch {
	case err == nil:
		event.DuplicateOf = first.ID
		if err := n.events.Save(ctx, event); err != nil {
			return "", "", "", fmt.Errorf("save duplicate event: %w", err)
		}
		logger.CtxInfo(ctx, "webhook %s duplicates %s", event.ID, first.ID)
		return event.ID, first.JobID, driving.WebhookDuplicate, nil
	case !errors.Is(err, domain.ErrNotFound):
		return "", "", "", fmt.Errorf("find delivery: %w", err)
	}

	if err := n.events.Save(ctx, event); err != nil {
		return "", "", "", fmt.Errorf("save event: %w", err)
	}

	if handshakeEvents[eventType] {
		n.markProcessed(ctx, event.ID, "")
		return event.ID, "", driving.WebhookIgnored, nil
	}

	ordinal := func(count int) int64 { return arrivals.Reserve(event.ReceivedAt, count) }
	jobID, outcome, ok := n.enqueue(ctx, conn, src.ID, req, ordinal)
	if !ok {
		// Logged but not enqueued. Replay picks it up.
		return event.ID, "", driving.WebhookLoggedOnly, nil
	}
	n.markProcessed(ctx, event.ID, jobID)
	return event.ID, jobID, outcome, nil
}

// enqueue parses the request and coalesces it into an incremental job.
// ordinal returns the first arrival ordinal for the parsed changes. ok is
// false when the enqueue failed.
func (n *WebhookNormalizer) enqueue(
	ctx context.Context,
	conn driven.Connector,
	sourceID string,
	req *domain.WebhookRequest,
	ordinal func(count int) int64,
) (jobID string, outcome driving.WebhookOutcome, ok bool) {
	changes := conn.ParseWebhook(req)
	useFeed := false
	if len(changes) == 0 {
		if !conn.Capabilities().SupportsChangeFeed {
			return "", driving.WebhookIgnored, true
		}
		useFeed = true
	} else {
		changes = domain.StampChanges(changes, ordinal(len(changes)))
	}

	job := domain.NewSyncJob(uuid.New().String(), sourceID, domain.JobKindIncremental)
	job.Changes = domain.CollapseChanges(changes)
	job.UseChangeFeed = useFeed

	id, merged, err := n.queue.EnqueueOrCoalesce(ctx, job)
	if err != nil {
		logger.CtxError(ctx, "failed to enqueue webhook changes: %v", err)
		return "", driving.WebhookLoggedOnly, false
	}
	if merged {
		logger.CtxDebug(ctx, "merged %d changes into job %s", len(changes), id)
		return id, driving.WebhookCoalesced, true
	}
	logger.CtxInfo(ctx, "enqueued job %s with %d changes", id, len(changes))
	return id, driving.WebhookEnqueued, true
}

// awaiting reports whether the work an event asked for has not started,
// so an identical notification adds nothing to it.
func (n *WebhookNormalizer) awaiting(ctx context.Context, event *domain.WebhookEvent) bool {
	if !event.Processed {
		return true
	}
	if event.JobID == "" {
		return false
	}
	job, err := n.queue.Get(ctx, event.JobID)
	if err != nil {
		return false
	}
	return job.Coalescable()
}

func (n *WebhookNormalizer) markProcessed(ctx context.Context, eventID, jobID string) {
	if err := n.events.MarkProcessed(ctx, eventID, jobID, n.now()); err != nil {
		logger.CtxWarn(ctx, "failed to mark event %s processed: %v", eventID, err)
	}
}

// Replay enqueues valid logged events that never became jobs.
func (n *WebhookNormalizer) Replay(ctx context.Context) (int, error) {
	now := n.now()
	events, err := n.events.List(ctx, domain.WebhookEventFilter{
		OnlyPending:   true,
		ReceivedAfter: now.Add(-replayWindow),
		Limit:         replayBatch,
	})
	if err != nil {
		return 0, fmt.Errorf("list pending events: %w", err)
	}

	replayed := 0
	for i := range events {
		event := &events[i]
		if event.IsOrphan() || !event.SignatureValid || event.DuplicateOf != "" {
			continue
		}
		if event.ReceivedAt.After(now.Add(-replayGrace)) {
			continue
		}
		ok, err := n.replayEvent(ctx, event)
		if err != nil {
			return replayed, err
		}
		if ok {
			replayed++
		}
	}
	return replayed, nil
}

func (n *WebhookNormalizer) replayEvent(ctx context.Context, event *domain.WebhookEvent) (bool, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldSourceID: event.SourceID,
		logger.FieldProvider: string(event.Provider),
	})

	src, err := n.sources.Get(ctx, event.SourceID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && src.IsDeleted()) {
		n.markProcessed(ctx, event.ID, "")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get source: %w", err)
	}

	conn, err := n.factory.Create(ctx, *src)
	if err != nil {
		logger.CtxWarn(ctx, "replay of %s skipped: %v", event.ID, err)
		return false, nil
	}
	defer conn.Close()

	// A replayed event keeps its place behind events logged after it.
	ordinal := func(int) int64 { return event.ReceivedAt.UnixNano() }
	jobID, _, ok := n.enqueue(ctx, conn, src.ID, eventRequest(event), ordinal)
	if !ok {
		return false, nil
	}
	n.markProcessed(ctx, event.ID, jobID)
	logger.CtxInfo(ctx, "replayed webhook %s into job %s", event.ID, jobID)
	return true, nil
}

func (n *WebhookNormalizer) newEvent(req *domain.WebhookRequest, sourceID, eventType, delivery string) domain.WebhookEvent {
	return domain.WebhookEvent{
		ID:         uuid.New().String(),
		SourceID:   sourceID,
		Provider:   req.Provider,
		EventType:  eventType,
		DeliveryID: delivery,
		Payload:    req.Body,
		ReceivedAt: n.now(),
	}
}

// deliveryID returns the provider delivery id, or a digest of the body for
// providers that send none. digest is true in the latter case.
func deliveryID(req *domain.WebhookRequest) (id string, digest bool) {
	if h, ok := deliveryHeaders[req.Provider]; ok {
		if v := req.Header(h); v != "" {
			return v, false
		}
	}
	sum := sha256.Sum256(req.Body)
	return "sha256:" + hex.EncodeToString(sum[:]), true
}

// eventRequest rebuilds the parts of a request that parsing reads.
func eventRequest(event *domain.WebhookEvent) *domain.WebhookRequest {
	req := &domain.WebhookRequest{
		Provider: event.Provider,
		Headers:  http.Header{},
		Body:     event.Payload,
	}
	if h, ok := eventHeaders[event.Provider]; ok && event.EventType != "" {
		req.Headers.Set(h, event.EventType)
	}
	return req
}
