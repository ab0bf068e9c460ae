package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"quote-engine-go/config"
	"quote-engine-go/exec"
	"quote-engine-go/gateway"
	"quote-engine-go/infrastructure/logger"
	"quote-engine-go/internal/engine"
	"quote-engine-go/inventory"
	"quote-engine-go/market"
	"quote-engine-go/monitor"
	"quote-engine-go/nonce"
	"quote-engine-go/order"
	"quote-engine-go/strategy"
	"quote-engine-go/timings"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	restURL := flag.String("restURL", "", "REST 基址（默认从 ws 地址推导）")
	watchConfig := flag.Bool("watchConfig", true, "监听配置文件变更")
	flag.Parse()

	// .env 不存在不算错误
	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer appLogger.Close()
	zl := appLogger.Logger

	keys, err := parsePrivateKeys(os.Getenv("QE_API_PRIVATE_KEYS"))
	if err != nil {
		zl.Fatal("解析 QE_API_PRIVATE_KEYS 失败", zap.Error(err))
	}

	baseURL := *restURL
	if baseURL == "" {
		baseURL = deriveRESTURL(cfg.Gateway.WSURL)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rest := &gateway.RESTClient{
		BaseURL:      baseURL,
		AuthToken:    cfg.Gateway.AuthToken,
		AccountIndex: cfg.Gateway.AccountIndex,
		HTTPClient:   gateway.NewDefaultHTTPClient(),
	}
	sequencer, err := nonce.NewSequencer(ctx, rest, cfg.Gateway.APIKeyStart, cfg.Gateway.APIKeyEnd)
	if err != nil {
		zl.Fatal("初始化 nonce 序列失败", zap.Error(err))
	}

	ws := gateway.NewWSClient(cfg.Gateway.WSURL, cfg.Gateway.AuthToken, cfg.Market.MarketID, zl)
	if err := ws.Connect(ctx); err != nil {
		zl.Fatal("连接交易所失败", zap.Error(err))
	}
	defer ws.Close()

	signer := &gateway.HMACSigner{
		AccountIndex: cfg.Gateway.AccountIndex,
		Keys:         keys,
	}

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		mon = monitor.New(monitor.DefaultConfig())
		go serveMetrics(cfg.Monitor.ListenAddr, mon, zl)
	}

	recorder := timings.NewRecorder(cfg.Engine.LatencyWindowSamples)
	pipeline := exec.NewPipeline(signer, ws, sequencer, recorder, mon, zl,
		time.Duration(cfg.Engine.AckTimeoutMs)*time.Millisecond)

	strat, err := strategy.New(cfg.Strategy.Variant, cfg.Strategy.Params)
	if err != nil {
		zl.Fatal("初始化策略失败", zap.Error(err))
	}

	eng, err := engine.New(engine.Config{
		MarketID:             cfg.Market.MarketID,
		TickSize:             cfg.Market.TickSize,
		BaseQty:              cfg.Market.BaseQty,
		MaxExposureQty:       cfg.Market.MaxExposureQty,
		HalfSpreadFloorPct:   cfg.Engine.HalfSpreadFloorPct,
		MinHopTicks:          cfg.Engine.MinHopTicks,
		GuardTicks:           cfg.Engine.GuardTicks,
		MinRequoteInterval:   time.Duration(cfg.Engine.MinRequoteMs) * time.Millisecond,
		ForceRefreshInterval: time.Duration(cfg.Engine.ForceRefreshMs) * time.Millisecond,
		MaxBookStale:         time.Duration(cfg.Engine.MaxBookStaleSec) * time.Second,
	}, engine.Components{
		Strategy:   strat,
		Quotes:     order.NewBook(),
		MarketBook: market.NewBook(cfg.Market.TickSize),
		Pipeline:   pipeline,
		Inventory:  &inventory.Tracker{},
		Recorder:   recorder,
		OpenOrders: rest,
		Monitor:    mon,
		Logger: appLogger.WithFields(map[string]interface{}{
			"market_id": cfg.Market.MarketID,
		}),
		Events: ws.Events(),
	})
	if err != nil {
		zl.Fatal("初始化引擎失败", zap.Error(err))
	}

	if err := eng.Start(ctx); err != nil {
		zl.Fatal("启动引擎失败", zap.Error(err))
	}

	if *watchConfig {
		go watchConfigFile(ctx, *cfgPath, eng, zl)
	}

	// systemd 之外运行时 SdNotify 返回 false, nil，无需特判
	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		zl.Warn("sd_notify READY 失败", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	zl.Info("收到退出信号", zap.String("signal", sig.String()))

	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		zl.Warn("sd_notify STOPPING 失败", zap.Error(err))
	}

	if err := eng.Stop(); err != nil {
		zl.Error("停止引擎失败", zap.Error(err))
	}
	cancel()
}

func serveMetrics(addr string, mon *monitor.Monitor, zl *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mon.Handler())
	zl.Info("Metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		zl.Error("Metrics server failed", zap.Error(err))
	}
}

// watchConfigFile 监听配置变更并热切换策略参数。其余字段（网关、市场、
// 引擎节奏）不支持热切换，改了需要重启。
func watchConfigFile(ctx context.Context, path string, eng *engine.Engine, zl *zap.Logger) {
	w := config.Watcher{Path: path, Cooldown: 2 * time.Second}
	err := w.Start(ctx, func(next config.AppConfig) {
		strat, err := strategy.New(next.Strategy.Variant, next.Strategy.Params)
		if err != nil {
			zl.Warn("配置变更后策略参数非法，维持现有策略", zap.Error(err))
			return
		}
		eng.SetStrategy(strat)
		zl.Info("策略已热更新",
			zap.String("variant", next.Strategy.Variant),
			zap.Float64("half_spread_pct", next.Strategy.Params.HalfSpreadPct))
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		zl.Error("配置监听退出", zap.Error(err))
	}
}

// parsePrivateKeys 解析 "1:key1,2:key2" 形式的私钥表。
func parsePrivateKeys(raw string) (map[int]string, error) {
	keys := make(map[int]string)
	if raw == "" {
		return keys, fmt.Errorf("QE_API_PRIVATE_KEYS is required")
	}
	for _, pair := range strings.Split(raw, ",") {
		idx, key, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return nil, fmt.Errorf("malformed key entry %q", pair)
		}
		i, err := strconv.Atoi(idx)
		if err != nil {
			return nil, fmt.Errorf("malformed key index %q: %w", idx, err)
		}
		keys[i] = key
	}
	return keys, nil
}

// deriveRESTURL 把 wss://host/stream 映射到 https://host。
func deriveRESTURL(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String()
}
