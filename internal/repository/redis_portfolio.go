package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/RichedYu/glm-crypto-trading-platform/internal/domain/models"
	domrepo "github.com/RichedYu/glm-crypto-trading-platform/internal/domain/repository"
)

const fillTxRetries = 5

// RedisPortfolioStore keeps the portfolio in Redis under
// <prefix>:portfolio:{balance,peak,positions,pnl_history,snapshot_seq}. Amounts are
// stored as decimal strings.
type RedisPortfolioStore struct {
	client  redis.UniversalClient
	prefix  string
	initial decimal.Decimal
	maxPnL  int64
}

var _ domrepo.PortfolioStore = (*RedisPortfolioStore)(nil)

// NewRedisPortfolioStore creates a store. initial is used for the balance
// and the peak until Init or SetBalance writes them.
func NewRedisPortfolioStore(client redis.UniversalClient, prefix string, initial decimal.Decimal, maxPnL int) *RedisPortfolioStore {
	if prefix == "" {
		prefix = "glm"
	}
	return &RedisPortfolioStore{client: client, prefix: prefix + ":portfolio", initial: initial, maxPnL: int64(maxPnL)}
}

func (s *RedisPortfolioStore) key(name string) string { return s.prefix + ":" + name }

// Init seeds balance and peak if they do not exist yet.
func (s *RedisPortfolioStore) Init(ctx context.Context) error {
	if err := s.client.SetNX(ctx, s.key("balance"), s.initial.String(), 0).Err(); err != nil {
		return fmt.Errorf("seed balance: %w", err)
	}
	if err := s.client.SetNX(ctx, s.key("peak"), s.initial.String(), 0).Err(); err != nil {
		return fmt.Errorf("seed peak: %w", err)
	}
	return nil
}

func (s *RedisPortfolioStore) getDecimal(ctx context.Context, c redis.Cmdable, name string) (decimal.Decimal, error) {
	raw, err := c.Get(ctx, s.key(name)).Result()
	if errors.Is(err, redis.Nil) {
		return s.initial, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get %s: %w", name, err)
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

func (s *RedisPortfolioStore) Balance(ctx context.Context) (decimal.Decimal, error) {
	return s.getDecimal(ctx, s.client, "balance")
}

func (s *RedisPortfolioStore) SetBalance(ctx context.Context, v decimal.Decimal) error {
	return s.client.Set(ctx, s.key("balance"), v.String(), 0).Err()
}

func (s *RedisPortfolioStore) Peak(ctx context.Context) (decimal.Decimal, error) {
	return s.getDecimal(ctx, s.client, "peak")
}

func (s *RedisPortfolioStore) SetPeak(ctx context.Context, v decimal.Decimal) error {
	return s.client.Set(ctx, s.key("peak"), v.String(), 0).Err()
}

func (s *RedisPortfolioStore) Positions(ctx context.Context) (map[string]models.Position, error) {
	raw, err := s.client.HGetAll(ctx, s.key("positions")).Result()
	if err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	out := make(map[string]models.Position, len(raw))
	for sym, v := range raw {
		var p models.Position
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("decode position %s: %w", sym, err)
		}
		out[sym] = p
	}
	return out, nil
}

func (s *RedisPortfolioStore) position(ctx context.Context, c redis.Cmdable, symbol string) (models.Position, bool, error) {
	raw, err := c.HGet(ctx, s.key("positions"), symbol).Result()
	if errors.Is(err, redis.Nil) {
		return models.Position{Symbol: symbol}, false, nil
	}
	if err != nil {
		return models.Position{}, false, fmt.Errorf("get position %s: %w", symbol, err)
	}
	var p models.Position
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return models.Position{}, false, fmt.Errorf("decode position %s: %w", symbol, err)
	}
	return p, true, nil
}

func (s *RedisPortfolioStore) Position(ctx context.Context, symbol string) (models.Position, bool, error) {
	return s.position(ctx, s.client, symbol)
}

// ApplyFill updates position and balance in one optimistic transaction.
func (s *RedisPortfolioStore) ApplyFill(ctx context.Context, fill models.OrderFillEvent) (models.Position, error) {
	var out models.Position
	txf := func(tx *redis.Tx) error {
		pos, _, err := s.position(ctx, tx, fill.Symbol)
		if err != nil {
			return err
		}
		balance, err := s.getDecimal(ctx, tx, "balance")
		if err != nil {
			return err
		}
		next, nextBalance := ApplyFill(pos, balance, fill)
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("encode position: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, s.key("positions"), fill.Symbol, data)
			p.Set(ctx, s.key("balance"), nextBalance.String(), 0)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	}

	for i := 0; i < fillTxRetries; i++ {
		err := s.client.Watch(ctx, txf, s.key("positions"), s.key("balance"))
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return models.Position{}, fmt.Errorf("apply fill %s: %w", fill.OrderID, err)
		}
	}
	return models.Position{}, fmt.Errorf("apply fill %s: %w", fill.OrderID, redis.TxFailedErr)
}

func (s *RedisPortfolioStore) RecordPnL(ctx context.Context, p models.PnLPoint) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pnl point: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, s.key("pnl_history"), data)
		if s.maxPnL > 0 {
			pipe.LTrim(ctx, s.key("pnl_history"), -s.maxPnL, -1)
		}
		return nil
	})
	return err
}

func (s *RedisPortfolioStore) RecentPnL(ctx context.Context, limit int) ([]models.PnLPoint, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}
	raw, err := s.client.LRange(ctx, s.key("pnl_history"), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get pnl history: %w", err)
	}
	out := make([]models.PnLPoint, 0, len(raw))
	for _, v := range raw {
		var p models.PnLPoint
		if err := json.Unmarshal([]byte(v), &p); err != nil {
			return nil, fmt.Errorf("decode pnl point: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// NextSequence increments snapshot_seq. The counter outlives the process.
func (s *RedisPortfolioStore) NextSequence(ctx context.Context) (uint64, error) {
	n, err := s.client.Incr(ctx, s.key("snapshot_seq")).Result()
	if err != nil {
		return 0, fmt.Errorf("next snapshot sequence: %w", err)
	}
	return uint64(n), nil
}

// Close leaves the shared client open.
func (s *RedisPortfolioStore) Close() error { return nil }
