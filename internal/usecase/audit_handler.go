package usecase

import (
	"context"
	"fmt"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	drepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/bus"
	"github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

// AuditHandler records every pipeline outcome in the audit store.
type AuditHandler struct {
	store   drepo.AuditStore
	metrics drepo.Metrics
	log     *logger.Logger
}

// NewAuditHandler creates the audit loop.
func NewAuditHandler(store drepo.AuditStore, metrics drepo.Metrics, log *logger.Logger) *AuditHandler {
	if log == nil {
		log = logger.Nop()
	}
	return &AuditHandler{store: store, metrics: metrics, log: log.With(logger.String("component", "audit"))}
}

// Handlers returns the handlers of the audit consumer group.
func (h *AuditHandler) Handlers() []bus.Handler {
	return []bus.Handler{
		auditOf(h, models.TopicIntent, h.store.SaveIntent),
		auditOf(h, models.TopicRiskVerdict, h.store.SaveVerdict),
		auditOf(h, models.TopicExecRejected, h.store.SaveRejection),
		auditOf(h, models.TopicOrderCommand, h.store.SaveCommand),
	}
}

func auditOf[T any](h *AuditHandler, topic string, save func(context.Context, T) error) bus.Handler {
	return bus.HandlerFunc{Name: topic, Fn: func(ctx context.Context, b []byte) error {
		v, err := decodeEvent[T](b)
		if err != nil {
			return dropInvalid(ctx, h.log, h.metrics, topic, err)
		}
		if err := save(ctx, v); err != nil {
			h.metrics.RecordError(string(models.KindInfrastructure))
			return fmt.Errorf("audit %s: %w", topic, err)
		}
		return nil
	}}
}
