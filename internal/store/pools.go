package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"tritex/internal/dex"
)

// SavePool upserts the full pool state, serializing the holder map and the
// price ring as JSON documents.
func (s *Store) SavePool(ctx context.Context, p *dex.Pool) error {
	holders, err := json.Marshal(p.LpHolders)
	if err != nil {
		return fmt.Errorf("encode lp holders: %w", err)
	}
	history, err := json.Marshal(p.PriceHistory)
	if err != nil {
		return fmt.Errorf("encode price history: %w", err)
	}
	query := `INSERT INTO pools (id, token_a, token_b, reserve_a, reserve_b, fee_bps, k,
			total_lp_shares, lp_holders, volume_24h, fees_collected, swap_count, price_history, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			reserve_a = excluded.reserve_a,
			reserve_b = excluded.reserve_b,
			k = excluded.k,
			total_lp_shares = excluded.total_lp_shares,
			lp_holders = excluded.lp_holders,
			volume_24h = excluded.volume_24h,
			fees_collected = excluded.fees_collected,
			swap_count = excluded.swap_count,
			price_history = excluded.price_history,
			updated_at = excluded.updated_at`
	_, err = s.ext.ExecContext(ctx, query,
		p.ID, p.TokenA, p.TokenB, p.ReserveA, p.ReserveB, p.FeeBps, p.K,
		p.TotalLpShares, string(holders), p.Volume24h, p.FeesCollected, p.SwapCount,
		string(history), time.Now().UTC())
	return err
}

// LoadPools returns every persisted pool, decoded for engine restore.
func (s *Store) LoadPools(ctx context.Context) ([]*dex.Pool, error) {
	var rows []PoolRow
	if err := sqlx.SelectContext(ctx, s.ext, &rows, `SELECT * FROM pools ORDER BY id`); err != nil {
		return nil, err
	}
	out := make([]*dex.Pool, 0, len(rows))
	for _, r := range rows {
		p := &dex.Pool{
			ID:            r.ID,
			TokenA:        r.TokenA,
			TokenB:        r.TokenB,
			ReserveA:      r.ReserveA,
			ReserveB:      r.ReserveB,
			FeeBps:        r.FeeBps,
			K:             r.K,
			TotalLpShares: r.TotalLpShares,
			Volume24h:     r.Volume24h,
			FeesCollected: r.FeesCollected,
			SwapCount:     r.SwapCount,
		}
		if err := json.Unmarshal([]byte(r.LpHolders), &p.LpHolders); err != nil {
			return nil, fmt.Errorf("decode lp holders for %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(r.PriceHistory), &p.PriceHistory); err != nil {
			return nil, fmt.Errorf("decode price history for %s: %w", r.ID, err)
		}
		out = append(out, p)
	}
	return out, nil
}
