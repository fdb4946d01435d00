package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/newspulse-ai/newspulse/pkg/models"
)

const (
	valkeyRetries   = 3
	valkeyKeyTTL    = 7 * 24 * 3600 // seconds
	valkeyRecentCap = 200
)

// ValkeyBackend mirrors query records into a Valkey instance so they
// survive restarts and can be shared across replicas.
type ValkeyBackend struct {
	client valkey.Client
}

// NewValkeyBackend connects to addr and verifies the connection.
func NewValkeyBackend(addr string) (*ValkeyBackend, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress:      []string{addr},
		ConnWriteTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping valkey: %w", err)
	}

	slog.Info("connected to valkey", "addr", addr)
	return &ValkeyBackend{client: client}, nil
}

// Close releases the connection.
func (v *ValkeyBackend) Close() {
	v.client.Close()
}

func recentKey(c models.Company) string   { return "query:recent:" + c.Slug() }
func trendingKey(c models.Company) string { return "query:trending:" + c.Slug() }

func (v *ValkeyBackend) Record(ctx context.Context, company models.Company, rec models.QueryRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal query record: %w", err)
	}

	rk, tk := recentKey(company), trendingKey(company)
	cmds := []valkey.Completed{
		v.client.B().Lpush().Key(rk).Element(string(data)).Build(),
		v.client.B().Ltrim().Key(rk).Start(0).Stop(valkeyRecentCap - 1).Build(),
		v.client.B().Expire().Key(rk).Seconds(valkeyKeyTTL).Build(),
		v.client.B().Zincrby().Key(tk).Increment(1).Member(normalizeQuestion(rec.Question)).Build(),
		v.client.B().Expire().Key(tk).Seconds(valkeyKeyTTL).Build(),
	}

	for _, res := range v.doMultiWithRetry(ctx, cmds) {
		if err := res.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (v *ValkeyBackend) Recent(ctx context.Context, company models.Company, n int) ([]models.QueryRecord, error) {
	if n <= 0 {
		n = valkeyRecentCap
	}
	res := v.doWithRetry(ctx, v.client.B().Lrange().Key(recentKey(company)).Start(0).Stop(int64(n-1)).Build())
	if err := res.Error(); err != nil {
		return nil, err
	}
	raw, err := res.AsStrSlice()
	if err != nil {
		return nil, err
	}

	out := make([]models.QueryRecord, 0, len(raw))
	for _, item := range raw {
		var rec models.QueryRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func (v *ValkeyBackend) Trending(ctx context.Context, company models.Company, n int) ([]TrendingQuestion, error) {
	if n <= 0 {
		n = 20
	}
	res := v.doWithRetry(ctx, v.client.B().Zrevrange().Key(trendingKey(company)).Start(0).Stop(int64(n-1)).Withscores().Build())
	if err := res.Error(); err != nil {
		return nil, err
	}
	scores, err := res.AsZScores()
	if err != nil {
		return nil, err
	}

	out := make([]TrendingQuestion, 0, len(scores))
	for _, zs := range scores {
		out = append(out, TrendingQuestion{Question: zs.Member, Count: int(zs.Score)})
	}
	return out, nil
}

func (v *ValkeyBackend) doWithRetry(ctx context.Context, cmd valkey.Completed) valkey.ValkeyResult {
	var result valkey.ValkeyResult
	for i := 0; i < valkeyRetries; i++ {
		result = v.client.Do(ctx, cmd)
		if result.Error() == nil || !isConnectionError(result.Error()) {
			break
		}
		slog.Warn("valkey command failed", "attempt", i+1, "error", result.Error())
		time.Sleep(250 * time.Millisecond)
	}
	return result
}

func (v *ValkeyBackend) doMultiWithRetry(ctx context.Context, cmds []valkey.Completed) []valkey.ValkeyResult {
	var results []valkey.ValkeyResult
	for i := 0; i < valkeyRetries; i++ {
		results = v.client.DoMulti(ctx, cmds...)
		retry := false
		for _, r := range results {
			if r.Error() != nil && isConnectionError(r.Error()) {
				retry = true
				slog.Warn("valkey batch failed", "attempt", i+1, "error", r.Error())
				break
			}
		}
		if !retry {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
	return results
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "EOF") ||
		strings.Contains(msg, "i/o timeout")
}
