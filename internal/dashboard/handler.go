package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/docgraph/internal/daemon"
	"github.com/mschirtzinger/docgraph/internal/engine"
	"github.com/mschirtzinger/docgraph/internal/types"
)

// StatsSource supplies the numbers behind a stats message.
type StatsSource interface {
	GetDocumentCount(ctx context.Context) (int, error)
	GetRelationshipCount(ctx context.Context) (int, error)
	ListNeedingReview(ctx context.Context, since time.Time) ([]*types.Document, error)
}

// Handler turns engine events and daemon sync reports into dashboard
// messages. Register it with Engine.Subscribe and daemon.Config.OnSync.
type Handler struct {
	server *Server
	source StatsSource
	logger *zap.SugaredLogger
}

var _ engine.Observer = (*Handler)(nil)

// NewHandler creates a handler for server. source may be nil, in which case
// no stats are sent.
func NewHandler(server *Server, source StatsSource, logger *zap.SugaredLogger) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	h := &Handler{server: server, source: source, logger: logger.Named("dashboard")}
	if source != nil {
		server.stats = h.Stats
	}
	return h
}

// Notify forwards an engine event to every client.
func (h *Handler) Notify(ev engine.Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		h.logger.Warnw("failed to marshal event data", "type", ev.Type, "error", err)
		return
	}
	h.server.Broadcast(Message{
		Type:       MessageType(ev.Type),
		DocumentID: ev.DocumentID,
		Timestamp:  ev.Timestamp,
		Data:       data,
	})
}

// OnSync broadcasts a sync report followed by fresh stats.
func (h *Handler) OnSync(report daemon.SyncReport) {
	data, err := json.Marshal(report)
	if err != nil {
		h.logger.Warnw("failed to marshal sync report", "error", err)
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeSyncComplete, Data: data})
	h.broadcastStats()
}

// Stats computes the current graph statistics.
func (h *Handler) Stats(ctx context.Context) (*StatsData, error) {
	if h.source == nil {
		return &StatsData{}, nil
	}
	docs, err := h.source.GetDocumentCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	rels, err := h.source.GetRelationshipCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count relationships: %w", err)
	}
	review, err := h.source.ListNeedingReview(ctx, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("failed to list documents needing review: %w", err)
	}
	return &StatsData{Documents: docs, Relationships: rels, NeedsReview: len(review)}, nil
}

func (h *Handler) broadcastStats() {
	if h.source == nil {
		return
	}
	stats, err := h.Stats(context.Background())
	if err != nil {
		h.logger.Warnw("failed to compute stats", "error", err)
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	h.server.Broadcast(Message{Type: MessageTypeStats, Data: data})
}
