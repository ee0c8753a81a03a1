package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	domrepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
	applogger "github.com/RichedYu/glm-crypto-trading-platform/pkg/logger"
)

const (
	auditTable   = "pipeline_audit"
	auditColumns = "(ts, record_type, intent_id, strategy_id, symbol, outcome, reason, payload)"
	auditRow     = "(?, ?, ?, ?, ?, ?, ?, ?)"
)

// AuditSchema is the DDL of the audit table in database db.
func AuditSchema(db string) []string {
	return []string{fmt.Sprintf(`
        CREATE TABLE IF NOT EXISTS %s.%s (
            ts          DateTime64(3, 'UTC'),
            record_type LowCardinality(String),
            intent_id   String,
            strategy_id LowCardinality(String),
            symbol      String,
            outcome     LowCardinality(String),
            reason      String,
            payload     String
        ) ENGINE = MergeTree
        PARTITION BY toYYYYMMDD(ts)
        ORDER BY (strategy_id, intent_id, ts)
    `, db, auditTable)}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type auditRecord struct {
	ts         time.Time
	recordType string
	intentID   string
	strategyID string
	symbol     string
	outcome    string
	reason     string
	payload    string
}

// ClickHouseAuditStore buffers audit records and inserts them in batches.
// A batch is written when it reaches batchSize or when Flush is called.
type ClickHouseAuditStore struct {
	db        execer
	table     string
	schema    []string
	batchSize int
	l         *applogger.Logger

	mu  sync.Mutex
	buf []auditRecord
}

var _ domrepo.AuditStore = (*ClickHouseAuditStore)(nil)

// NewClickHouseAuditStore creates a store writing to <database>.pipeline_audit.
func NewClickHouseAuditStore(db *sql.DB, database string, batchSize int, l *applogger.Logger) *ClickHouseAuditStore {
	return newAuditStore(db, database, batchSize, l)
}

func newAuditStore(db execer, database string, batchSize int, l *applogger.Logger) *ClickHouseAuditStore {
	if batchSize <= 0 {
		batchSize = 200
	}
	if l == nil {
		l = applogger.Nop()
	}
	return &ClickHouseAuditStore{
		db:        db,
		table:     database + "." + auditTable,
		schema:    AuditSchema(database),
		batchSize: batchSize,
		l:         l.With(applogger.String("component", "audit_store")),
	}
}

func (s *ClickHouseAuditStore) Init(ctx context.Context) error {
	for _, stmt := range s.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init audit schema: %w", err)
		}
	}
	return nil
}

func (s *ClickHouseAuditStore) SaveIntent(ctx context.Context, e models.StrategyIntentEvent) error {
	return s.add(ctx, auditRecord{
		ts:         e.Timestamp,
		recordType: "intent",
		intentID:   e.IntentID,
		strategyID: e.StrategyID,
		symbol:     e.Symbol,
		outcome:    string(e.IntentType),
		reason:     string(e.Reason),
	}, e)
}

func (s *ClickHouseAuditStore) SaveVerdict(ctx context.Context, e models.RiskVerdictEvent) error {
	outcome := "vetoed"
	if e.Result.Approved {
		outcome = "approved"
	}
	return s.add(ctx, auditRecord{
		ts:         e.Timestamp,
		recordType: "verdict",
		intentID:   e.IntentID,
		strategyID: e.StrategyID,
		symbol:     e.Symbol,
		outcome:    outcome,
		reason:     string(e.Result.Reason),
	}, e)
}

func (s *ClickHouseAuditStore) SaveRejection(ctx context.Context, e models.ExecutionRejectedEvent) error {
	return s.add(ctx, auditRecord{
		ts:         e.Timestamp,
		recordType: "rejection",
		intentID:   e.IntentID,
		strategyID: e.StrategyID,
		symbol:     e.Symbol,
		outcome:    string(e.Kind),
		reason:     e.Reason,
	}, e)
}

func (s *ClickHouseAuditStore) SaveCommand(ctx context.Context, c models.ExecutionCommand) error {
	return s.add(ctx, auditRecord{
		ts:         c.CreatedAt,
		recordType: "command",
		intentID:   c.IntentID,
		strategyID: c.StrategyID,
		symbol:     c.Symbol,
		outcome:    string(c.Side),
		reason:     string(c.Leg),
	}, c)
}

func (s *ClickHouseAuditStore) add(ctx context.Context, r auditRecord, payload interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode audit payload: %w", err)
	}
	r.payload = string(b)
	if r.ts.IsZero() {
		r.ts = time.Now().UTC()
	}

	s.mu.Lock()
	s.buf = append(s.buf, r)
	full := len(s.buf) >= s.batchSize
	s.mu.Unlock()
	if full {
		// records stay buffered for the next flush
		_ = s.Flush(ctx)
	}
	return nil
}

// Pending returns the number of buffered records.
func (s *ClickHouseAuditStore) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buf)
}

// Flush writes every buffered record. On failure the records stay buffered.
func (s *ClickHouseAuditStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil
	}
	start := time.Now()
	values := make([]string, 0, len(s.buf))
	args := make([]interface{}, 0, len(s.buf)*8)
	for _, r := range s.buf {
		values = append(values, auditRow)
		args = append(args, r.ts, r.recordType, r.intentID, r.strategyID, r.symbol, r.outcome, r.reason, r.payload)
	}
	q := fmt.Sprintf("INSERT INTO %s %s VALUES %s", s.table, auditColumns, strings.Join(values, ","))
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		s.l.Error("clickhouse audit insert error", applogger.Int("rows", len(s.buf)), applogger.Error(err))
		return fmt.Errorf("insert audit batch: %w", err)
	}
	s.l.Debug("clickhouse audit insert ok",
		applogger.Int("rows", len(s.buf)),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	s.buf = s.buf[:0]
	return nil
}

// Close flushes what is left. The connection is owned by pkg/clickhouse.
func (s *ClickHouseAuditStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Flush(ctx)
}
