package svc

import (
	"context"
	"fmt"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"mdrelay/internal/application/port"
	"mdrelay/internal/application/service"
	"mdrelay/internal/domain/market"
	"mdrelay/internal/domain/model"
	"mdrelay/internal/infrastructure/config"
	"mdrelay/internal/infrastructure/exchange/binance"
	"mdrelay/internal/infrastructure/scheduler"
	"mdrelay/internal/infrastructure/storage/composite"
	"mdrelay/internal/infrastructure/storage/memory"
	pgrepo "mdrelay/internal/infrastructure/storage/postgres"
	redisrepo "mdrelay/internal/infrastructure/storage/redis"
	sqliterepo "mdrelay/internal/infrastructure/storage/sqlite"
	"mdrelay/internal/interfaces/httpapi"
	"mdrelay/internal/interfaces/ws"
)

type ServiceContext struct {
	Ctx    context.Context
	Config *config.Config

	// 基础设施层（第一层初始化）
	Cache     *market.Cache
	Scheduler *scheduler.Scheduler
	rest      *binance.RESTClient

	redisClient  *redisclient.Client
	redisRepo    *redisrepo.Repo
	sqliteRepo   *sqliterepo.Repo
	postgresRepo *pgrepo.Repo
	memoryRepo   *memory.Repo

	// 端口
	History  port.AlertHistory
	Wallets  port.WalletDirectory
	Recorder port.AlertRecorder
	Mirror   port.MarketMirror

	// 应用组件（依赖基础设施）
	Alerts *service.WhaleAlertSource
	Hub    *ws.Hub
	Feed   *binance.Feed
	Router *httpapi.Router

	// 资源管理
	closerChain []func() error
}

// New 创建并初始化 ServiceContext
// 这是应用启动的唯一入口点，所有依赖初始化都在这里完成
func New(ctx context.Context, cfg *config.Config) (*ServiceContext, error) {
	if len(cfg.Instruments) == 0 {
		return nil, ErrNoInstruments
	}

	sc := &ServiceContext{
		Ctx:         ctx,
		Config:      cfg,
		Cache:       market.NewCache(cfg.Instruments),
		Scheduler:   scheduler.New(),
		closerChain: make([]func() error, 0),
	}
	sc.closerChain = append(sc.closerChain, func() error {
		sc.Scheduler.Stop()
		return nil
	})

	if err := sc.initializeComponents(); err != nil {
		// 清理已初始化的资源
		_ = sc.Close()
		return nil, err
	}
	return sc, nil
}

// initializeComponents 按依赖顺序初始化: 存储 -> alert source -> hub -> feed -> router
func (sc *ServiceContext) initializeComponents() error {
	if err := sc.initializeStorage(); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageInitFailed, err)
	}

	sc.Alerts = service.NewWhaleAlertSource(sc.Cache, sc.Recorder)

	sc.Hub = ws.NewHub(ws.Config{
		WhaleInterval: sc.Config.Hub.WhaleInterval,
		SendBuffer:    sc.Config.Hub.SendBuffer,
		WriteTimeout:  sc.Config.Hub.WriteTimeout,
	}, sc.Cache, sc.Alerts, sc.Scheduler)
	sc.closerChain = append(sc.closerChain, func() error {
		sc.Hub.Close()
		return nil
	})

	sc.rest = binance.NewRESTClient(binance.RESTOptions{
		BaseURL:     sc.Config.Binance.RestURL,
		Timeout:     sc.Config.Binance.RestTimeout,
		MaxAttempts: sc.Config.Binance.RestMaxAttempts,
		RPS:         sc.Config.Binance.RestRPS,
	})
	sc.Feed = binance.NewFeed(binance.FeedConfig{
		WSURL:           sc.Config.Binance.WsURL,
		DepthStream:     sc.Config.Binance.DepthStream,
		RefreshInterval: sc.Config.Binance.RefreshInterval,
	}, binance.FeedDeps{
		Cache:    sc.Cache,
		REST:     sc.rest,
		Timers:   sc.Scheduler,
		Mirror:   sc.Mirror,
		OnUpdate: sc.Hub.BroadcastMarket,
	})
	sc.closerChain = append(sc.closerChain, func() error {
		sc.Feed.Stop()
		return nil
	})

	sc.Router = httpapi.NewRouter(httpapi.Deps{
		Hub:       sc.Hub,
		Feed:      sc.Feed,
		Summaries: sc.Cache,
		Alerts:    sc.History,
		Wallets:   sc.Wallets,
	})

	log.Info().
		Int("instruments", len(sc.Config.Instruments)).
		Bool("redis", sc.redisRepo != nil).
		Bool("sqlite", sc.sqliteRepo != nil).
		Bool("postgres", sc.postgresRepo != nil).
		Msg("✓ All components initialized")
	return nil
}

// initializeStorage 初始化存储层
// 目录/历史优先级: postgres > sqlite > memory；alert 同时写入所有启用的存储
func (sc *ServiceContext) initializeStorage() error {
	now := time.Now().UnixMilli()
	wallets := model.SeedWallets(now)
	history := model.SeedWhaleAlerts(now)

	if sc.Config.Redis.Enabled {
		if err := sc.initRedis(); err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
	}
	if sc.Config.SQLite.Enabled {
		if err := sc.initSQLite(wallets, history); err != nil {
			return fmt.Errorf("sqlite initialization failed: %w", err)
		}
	}
	if sc.Config.Postgres.Enabled {
		if err := sc.initPostgres(wallets, history); err != nil {
			return fmt.Errorf("postgres initialization failed: %w", err)
		}
	}

	var recorders []port.AlertRecorder
	switch {
	case sc.postgresRepo != nil:
		sc.History, sc.Wallets = sc.postgresRepo, sc.postgresRepo
	case sc.sqliteRepo != nil:
		sc.History, sc.Wallets = sc.sqliteRepo, sc.sqliteRepo
	default:
		sc.memoryRepo = memory.New(wallets, history, 0)
		sc.History, sc.Wallets = sc.memoryRepo, sc.memoryRepo
		recorders = append(recorders, sc.memoryRepo)
	}
	if sc.postgresRepo != nil {
		recorders = append(recorders, sc.postgresRepo)
	}
	if sc.sqliteRepo != nil {
		recorders = append(recorders, sc.sqliteRepo)
	}
	if sc.redisRepo != nil {
		recorders = append(recorders, sc.redisRepo)
		sc.Mirror = composite.NewMirror(sc.redisRepo)
	}
	sc.Recorder = composite.NewRecorder(recorders...)
	return nil
}

// initRedis 初始化 Redis 连接
func (sc *ServiceContext) initRedis() error {
	rdb := redisclient.NewClient(&redisclient.Options{
		Addr:     sc.Config.Redis.Addr,
		Password: sc.Config.Redis.Password,
		DB:       sc.Config.Redis.DB,
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(sc.Ctx, 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	sc.redisClient = rdb
	ttl := time.Duration(sc.Config.Redis.TTLSeconds) * time.Second
	sc.redisRepo = redisrepo.New(
		rdb,
		sc.Config.Redis.Prefix,
		ttl,
		sc.Config.Redis.AlertStream,
		sc.Config.Redis.AlertChannel,
	)

	// 注册关闭回调
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing redis connection")
		return rdb.Close()
	})

	log.Info().
		Str("addr", sc.Config.Redis.Addr).
		Int("db", sc.Config.Redis.DB).
		Msg("✓ Redis initialized")
	return nil
}

// initSQLite 初始化 SQLite 数据库
func (sc *ServiceContext) initSQLite(wallets []model.WalletProfile, history []model.WhaleAlert) error {
	repo, err := sqliterepo.New(sc.Config.SQLite.Path)
	if err != nil {
		return fmt.Errorf("sqlite repo creation failed: %w", err)
	}
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing sqlite connection")
		return repo.Close()
	})
	if err := repo.Seed(sc.Ctx, wallets, history); err != nil {
		return err
	}
	sc.sqliteRepo = repo

	log.Info().
		Str("path", sc.Config.SQLite.Path).
		Msg("✓ SQLite initialized")
	return nil
}

// initPostgres 初始化 Postgres 数据库
func (sc *ServiceContext) initPostgres(wallets []model.WalletProfile, history []model.WhaleAlert) error {
	repo, err := pgrepo.New(sc.Config.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("postgres repo creation failed: %w", err)
	}
	sc.closerChain = append(sc.closerChain, func() error {
		log.Info().Msg("closing postgres connection")
		return repo.Close()
	})
	if err := repo.Seed(sc.Ctx, wallets, history); err != nil {
		return err
	}
	sc.postgresRepo = repo

	log.Info().Msg("✓ Postgres initialized")
	return nil
}

// Close 按照相反的顺序关闭所有资源，可重复调用
func (sc *ServiceContext) Close() error {
	chain := sc.closerChain
	sc.closerChain = nil
	for i := len(chain) - 1; i >= 0; i-- {
		if err := chain[i](); err != nil {
			log.Error().Err(err).Msg("error closing resource")
		}
	}
	return nil
}
