package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"marketsync/internal/market"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

var (
	ErrUnknownAssetType = market.ErrUnknownAssetType
	ErrUnknownTimeframe = market.ErrUnknownTimeframe
)

const defaultMaxOpenConns = 2

// Options tunes the underlying connection pool.
type Options struct {
	MaxOpenConns int
}

// Store 是 K 线与 regime 记录的唯一持久化入口（gorm + SQLite）。
type Store struct {
	db *gorm.DB

	mu         sync.RWMutex
	tfIDs      map[string]int64
	tfNames    map[int64]string
	assetIDs   map[market.AssetType]int64
	assetNames map[int64]market.AssetType
	tables     map[market.AssetType]bool
}

// Open 打开（必要时创建）SQLite 数据库并迁移目录表与 regime 表。
func Open(path string, opts Options) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("store: path cannot be empty")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&TimeframeTypeModel{}, &AssetTypeModel{}, &RegimeModel{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	maxOpen := opts.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = defaultMaxOpenConns
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	return &Store{
		db:         db,
		tfIDs:      make(map[string]int64),
		tfNames:    make(map[int64]string),
		assetIDs:   make(map[market.AssetType]int64),
		assetNames: make(map[int64]market.AssetType),
		tables:     make(map[market.AssetType]bool),
	}, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// SeedCatalog 幂等写入周期与资产类别目录，并为每个资产类别建 K 线表。
func (s *Store) SeedCatalog(ctx context.Context, assets []market.AssetType, timeframes []market.Timeframe) error {
	db := s.db.WithContext(ctx)
	if len(timeframes) > 0 {
		rows := make([]TimeframeTypeModel, 0, len(timeframes))
		for _, tf := range timeframes {
			rows = append(rows, TimeframeTypeModel{Name: tf.Name})
		}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&rows).Error; err != nil {
			return fmt.Errorf("store: seed timeframe_type: %w", err)
		}
	}
	if len(assets) > 0 {
		rows := make([]AssetTypeModel, 0, len(assets))
		for _, a := range assets {
			rows = append(rows, AssetTypeModel{Name: string(a)})
		}
		if err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoNothing: true,
		}).Create(&rows).Error; err != nil {
			return fmt.Errorf("store: seed market_asset_type: %w", err)
		}
	}
	if err := s.loadCatalog(ctx); err != nil {
		return err
	}
	for _, a := range assets {
		if err := s.ensureBarTable(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) loadCatalog(ctx context.Context) error {
	var tfs []TimeframeTypeModel
	if err := s.db.WithContext(ctx).Find(&tfs).Error; err != nil {
		return fmt.Errorf("store: load timeframe_type: %w", err)
	}
	var assets []AssetTypeModel
	if err := s.db.WithContext(ctx).Find(&assets).Error; err != nil {
		return fmt.Errorf("store: load market_asset_type: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tf := range tfs {
		s.tfIDs[tf.Name] = tf.ID
		s.tfNames[tf.ID] = tf.Name
	}
	for _, a := range assets {
		at := market.AssetType(a.Name)
		s.assetIDs[at] = a.ID
		s.assetNames[a.ID] = at
	}
	return nil
}

// TimeframeID 返回已登记周期的 id；未登记视为配置错误。
func (s *Store) TimeframeID(ctx context.Context, tf market.Timeframe) (int64, error) {
	s.mu.RLock()
	id, ok := s.tfIDs[tf.Name]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}
	if err := s.loadCatalog(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	id, ok = s.tfIDs[tf.Name]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %q not in catalog", ErrUnknownTimeframe, tf.Name)
	}
	return id, nil
}

func (s *Store) AssetTypeID(ctx context.Context, asset market.AssetType) (int64, error) {
	s.mu.RLock()
	id, ok := s.assetIDs[asset]
	s.mu.RUnlock()
	if ok {
		return id, nil
	}
	if err := s.loadCatalog(ctx); err != nil {
		return 0, err
	}
	s.mu.RLock()
	id, ok = s.assetIDs[asset]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %q not in catalog", ErrUnknownAssetType, asset)
	}
	return id, nil
}

// ensureBarTable 用原生 DDL 建表：唯一索引名需带表名前缀，AutoMigrate 做不到按表动态命名。
func (s *Store) ensureBarTable(ctx context.Context, asset market.AssetType) error {
	s.mu.RLock()
	done := s.tables[asset]
	s.mu.RUnlock()
	if done {
		return nil
	}
	table := asset.BarTable()
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	symbol TEXT NOT NULL,
	timestamp INTEGER NOT NULL,
	open REAL NOT NULL DEFAULT 0,
	high REAL NOT NULL DEFAULT 0,
	low REAL NOT NULL DEFAULT 0,
	close REAL NOT NULL DEFAULT 0,
	volume REAL NOT NULL DEFAULT 0,
	timeframe_id INTEGER NOT NULL
)`, table),
		fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS ux_%s_key ON %s(symbol, timestamp, timeframe_id)`, table, table),
	}
	for _, stmt := range stmts {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("store: ensure %s: %w", table, err)
		}
	}
	s.mu.Lock()
	s.tables[asset] = true
	s.mu.Unlock()
	return nil
}

// barScope resolves ids and makes sure the bar table exists.
func (s *Store) barScope(ctx context.Context, asset market.AssetType, tf market.Timeframe) (string, int64, error) {
	if _, err := s.AssetTypeID(ctx, asset); err != nil {
		return "", 0, err
	}
	tfID, err := s.TimeframeID(ctx, tf)
	if err != nil {
		return "", 0, err
	}
	if err := s.ensureBarTable(ctx, asset); err != nil {
		return "", 0, err
	}
	return asset.BarTable(), tfID, nil
}
