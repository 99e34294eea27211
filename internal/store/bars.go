package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketsync/internal/market"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const mergeBatchSize = 500

// LatestTimestamp 返回 (asset, symbol, timeframe) 已入库的最新 K 线时间；ok=false 表示无数据。
func (s *Store) LatestTimestamp(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe) (time.Time, bool, error) {
	table, tfID, err := s.barScope(ctx, asset, tf)
	if err != nil {
		return time.Time{}, false, err
	}
	var latest sql.NullInt64
	row := s.db.WithContext(ctx).Table(table).
		Select("MAX(timestamp)").
		Where("symbol = ? AND timeframe_id = ?", symbol, tfID).
		Row()
	if err := row.Scan(&latest); err != nil {
		return time.Time{}, false, fmt.Errorf("store: latest %s %s: %w", symbol, tf.Name, err)
	}
	if !latest.Valid {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(latest.Int64).UTC(), true, nil
}

// PurgeBefore 在独立事务里删除 timestamp < cutoff 的行，返回删除条数。
func (s *Store) PurgeBefore(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe, cutoff time.Time) (int64, error) {
	table, tfID, err := s.barScope(ctx, asset, tf)
	if err != nil {
		return 0, err
	}
	var deleted int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Table(table).
			Where("symbol = ? AND timeframe_id = ? AND timestamp < ?", symbol, tfID, cutoff.UTC().UnixMilli()).
			Delete(&BarModel{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("store: purge %s %s: %w", symbol, tf.Name, err)
	}
	return deleted, nil
}

// MergeBars 在单个事务内按 (symbol, timestamp, timeframe) 插入或覆盖 OHLCV。
// 任一行失败则整批回滚。
func (s *Store) MergeBars(ctx context.Context, asset market.AssetType, tf market.Timeframe, bars []market.Bar) (int, error) {
	if len(bars) == 0 {
		return 0, nil
	}
	table, tfID, err := s.barScope(ctx, asset, tf)
	if err != nil {
		return 0, err
	}
	rows := make([]BarModel, 0, len(bars))
	for _, b := range bars {
		rows = append(rows, BarModel{
			Symbol:      b.Symbol,
			Timestamp:   b.Timestamp.UTC().UnixMilli(),
			Open:        b.Open,
			High:        b.High,
			Low:         b.Low,
			Close:       b.Close,
			Volume:      b.Volume,
			TimeframeID: tfID,
		})
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Table(table).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "symbol"}, {Name: "timestamp"}, {Name: "timeframe_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
			}).
			CreateInBatches(&rows, mergeBatchSize).Error
	})
	if err != nil {
		return 0, fmt.Errorf("store: merge %d bars into %s (%s): %w", len(rows), table, tf.Name, err)
	}
	return len(rows), nil
}

// RangeBars 返回 [start, end] 内的 K 线，按时间升序。
func (s *Store) RangeBars(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe, start, end time.Time) ([]market.Bar, error) {
	table, tfID, err := s.barScope(ctx, asset, tf)
	if err != nil {
		return nil, err
	}
	var rows []BarModel
	err = s.db.WithContext(ctx).Table(table).
		Where("symbol = ? AND timeframe_id = ? AND timestamp >= ? AND timestamp <= ?",
			symbol, tfID, start.UTC().UnixMilli(), end.UTC().UnixMilli()).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: range %s %s: %w", symbol, tf.Name, err)
	}
	return toBars(rows), nil
}

// LatestBars returns the most recent limit bars in ascending order.
func (s *Store) LatestBars(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe, limit int) ([]market.Bar, error) {
	table, tfID, err := s.barScope(ctx, asset, tf)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []BarModel
	err = s.db.WithContext(ctx).Table(table).
		Where("symbol = ? AND timeframe_id = ?", symbol, tfID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("store: latest bars %s %s: %w", symbol, tf.Name, err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return toBars(rows), nil
}

func (s *Store) CountBars(ctx context.Context, asset market.AssetType, symbol string, tf market.Timeframe) (int64, error) {
	table, tfID, err := s.barScope(ctx, asset, tf)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.db.WithContext(ctx).Table(table).
		Where("symbol = ? AND timeframe_id = ?", symbol, tfID).
		Count(&n).Error
	return n, err
}

func toBars(rows []BarModel) []market.Bar {
	out := make([]market.Bar, 0, len(rows))
	for _, r := range rows {
		out = append(out, market.Bar{
			Symbol:    r.Symbol,
			Timestamp: time.UnixMilli(r.Timestamp).UTC(),
			Open:      r.Open,
			High:      r.High,
			Low:       r.Low,
			Close:     r.Close,
			Volume:    r.Volume,
		})
	}
	return out
}
