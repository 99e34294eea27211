package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"marketsync/internal/market"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RegimeRecord 是 regime 表对外的视图，目录 id 已解析为名称。
type RegimeRecord struct {
	Symbol          string           `json:"symbol"`
	Asset           market.AssetType `json:"asset_type"`
	Timeframe       string           `json:"timeframe"`
	Support         *float64         `json:"support"`
	Resistance      *float64         `json:"resistance"`
	LiquidityStatus string           `json:"liquidity_status"`
	LastPrice       float64          `json:"last_price"`
	ChangePercent   float64          `json:"change_percent"`
	Bars            int              `json:"bars"`
	Snapshot        json.RawMessage  `json:"snapshot,omitempty"`
	ComputedAt      time.Time        `json:"computed_at"`
}

// RegimeFilter narrows ListRegimes; zero values match everything.
type RegimeFilter struct {
	Asset     market.AssetType
	Timeframe string
	Symbol    string
}

// UpsertRegime 整行覆盖写入 (symbol, asset, timeframe) 的 regime 记录。
func (s *Store) UpsertRegime(ctx context.Context, rec RegimeRecord) error {
	assetID, err := s.AssetTypeID(ctx, rec.Asset)
	if err != nil {
		return err
	}
	tfID, err := s.TimeframeID(ctx, market.Timeframe{Name: rec.Timeframe})
	if err != nil {
		return err
	}
	computed := rec.ComputedAt
	if computed.IsZero() {
		computed = time.Now()
	}
	model := RegimeModel{
		Symbol:          rec.Symbol,
		AssetTypeID:     assetID,
		TimeframeID:     tfID,
		Support:         rec.Support,
		Resistance:      rec.Resistance,
		LiquidityStatus: rec.LiquidityStatus,
		LastPrice:       rec.LastPrice,
		ChangePercent:   rec.ChangePercent,
		Bars:            rec.Bars,
		Snapshot:        datatypes.JSON(rec.Snapshot),
		ComputedAt:      computed.UTC().UnixMilli(),
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "symbol"}, {Name: "asset_type_id"}, {Name: "timeframe_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"support", "resistance", "liquidity_status", "last_price",
			"change_percent", "bars", "snapshot", "computed_at",
		}),
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("store: upsert regime %s/%s/%s: %w", rec.Asset, rec.Symbol, rec.Timeframe, err)
	}
	return nil
}

func (s *Store) GetRegime(ctx context.Context, asset market.AssetType, symbol, timeframe string) (RegimeRecord, bool, error) {
	assetID, err := s.AssetTypeID(ctx, asset)
	if err != nil {
		return RegimeRecord{}, false, err
	}
	tfID, err := s.TimeframeID(ctx, market.Timeframe{Name: timeframe})
	if err != nil {
		return RegimeRecord{}, false, err
	}
	var m RegimeModel
	err = s.db.WithContext(ctx).
		Where("symbol = ? AND asset_type_id = ? AND timeframe_id = ?", symbol, assetID, tfID).
		Take(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RegimeRecord{}, false, nil
	}
	if err != nil {
		return RegimeRecord{}, false, err
	}
	return s.toRecord(m), true, nil
}

func (s *Store) ListRegimes(ctx context.Context, f RegimeFilter) ([]RegimeRecord, error) {
	q := s.db.WithContext(ctx).Model(&RegimeModel{})
	if f.Asset != "" {
		id, err := s.AssetTypeID(ctx, f.Asset)
		if err != nil {
			return nil, err
		}
		q = q.Where("asset_type_id = ?", id)
	}
	if f.Timeframe != "" {
		id, err := s.TimeframeID(ctx, market.Timeframe{Name: f.Timeframe})
		if err != nil {
			return nil, err
		}
		q = q.Where("timeframe_id = ?", id)
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	var rows []RegimeModel
	if err := q.Order("symbol ASC, timeframe_id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: list regimes: %w", err)
	}
	out := make([]RegimeRecord, 0, len(rows))
	for _, m := range rows {
		out = append(out, s.toRecord(m))
	}
	return out, nil
}

func (s *Store) toRecord(m RegimeModel) RegimeRecord {
	s.mu.RLock()
	asset := s.assetNames[m.AssetTypeID]
	tf := s.tfNames[m.TimeframeID]
	s.mu.RUnlock()
	return RegimeRecord{
		Symbol:          m.Symbol,
		Asset:           asset,
		Timeframe:       tf,
		Support:         m.Support,
		Resistance:      m.Resistance,
		LiquidityStatus: m.LiquidityStatus,
		LastPrice:       m.LastPrice,
		ChangePercent:   m.ChangePercent,
		Bars:            m.Bars,
		Snapshot:        json.RawMessage(m.Snapshot),
		ComputedAt:      time.UnixMilli(m.ComputedAt).UTC(),
	}
}
