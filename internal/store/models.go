package store

import "gorm.io/datatypes"

// TimeframeTypeModel 周期目录，name 唯一。
type TimeframeTypeModel struct {
	ID   int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name string `gorm:"column:name;not null;uniqueIndex:ux_timeframe_type_name"`
}

func (TimeframeTypeModel) TableName() string { return "timeframe_type" }

// AssetTypeModel 资产类别目录，name 唯一。
type AssetTypeModel struct {
	ID   int64  `gorm:"column:id;primaryKey;autoIncrement"`
	Name string `gorm:"column:name;not null;uniqueIndex:ux_market_asset_type_name"`
}

func (AssetTypeModel) TableName() string { return "market_asset_type" }

// BarModel 对应 <asset>_mtf_bar 表中的一行；表名按资产类别动态指定。
type BarModel struct {
	ID          int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol      string  `gorm:"column:symbol"`
	Timestamp   int64   `gorm:"column:timestamp"`
	Open        float64 `gorm:"column:open"`
	High        float64 `gorm:"column:high"`
	Low         float64 `gorm:"column:low"`
	Close       float64 `gorm:"column:close"`
	Volume      float64 `gorm:"column:volume"`
	TimeframeID int64   `gorm:"column:timeframe_id"`
}

// RegimeModel stores the latest derived regime per (symbol, asset type, timeframe).
type RegimeModel struct {
	ID              int64          `gorm:"column:id;primaryKey;autoIncrement"`
	Symbol          string         `gorm:"column:symbol;not null;uniqueIndex:ux_regime_key,priority:1"`
	AssetTypeID     int64          `gorm:"column:asset_type_id;not null;uniqueIndex:ux_regime_key,priority:2"`
	TimeframeID     int64          `gorm:"column:timeframe_id;not null;uniqueIndex:ux_regime_key,priority:3"`
	Support         *float64       `gorm:"column:support"`
	Resistance      *float64       `gorm:"column:resistance"`
	LiquidityStatus string         `gorm:"column:liquidity_status"`
	LastPrice       float64        `gorm:"column:last_price"`
	ChangePercent   float64        `gorm:"column:change_percent"`
	Bars            int            `gorm:"column:bars"`
	Snapshot        datatypes.JSON `gorm:"column:snapshot"`
	ComputedAt      int64          `gorm:"column:computed_at"`
}

func (RegimeModel) TableName() string { return "regime" }
