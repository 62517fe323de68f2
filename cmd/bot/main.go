package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/snipebot/internal/domain"
	"github.com/betbot/snipebot/internal/engine"
	"github.com/betbot/snipebot/internal/exchange"
	"github.com/betbot/snipebot/internal/feed"
	"github.com/betbot/snipebot/internal/ledger"
	"github.com/betbot/snipebot/internal/market"
	"github.com/betbot/snipebot/internal/metrics"
	"github.com/betbot/snipebot/internal/onchain"
	"github.com/betbot/snipebot/internal/risk"
	"github.com/betbot/snipebot/internal/settle"
	"github.com/betbot/snipebot/pkg/config"
	"github.com/betbot/snipebot/pkg/logger"
	"github.com/betbot/snipebot/pkg/persistence"
	"github.com/betbot/snipebot/pkg/secretstore"
	"github.com/betbot/snipebot/pkg/shutdown"
)

// spotView 把行情簿与波动率组合成引擎需要的视图
type spotView struct {
	book *feed.PriceBook
	vols *feed.EffectiveVol
}

func (s *spotView) Price(symbol string) (float64, time.Time, bool) { return s.book.Price(symbol) }
func (s *spotView) Age(symbol string, now time.Time) time.Duration { return s.book.Age(symbol, now) }
func (s *spotView) EffectiveVol(symbol string, now time.Time) float64 {
	return s.vols.EffectiveVol(symbol, now)
}

// chainRedeemer 把链上客户端适配成结算循环的赎回接口
type chainRedeemer struct {
	client *onchain.Client
	log    *logrus.Entry
}

func (r *chainRedeemer) Redeem(ctx context.Context, conditionID string) error {
	txHash, err := r.client.RedeemPositions(ctx, conditionID)
	if err != nil {
		return err
	}
	r.log.Infof("赎回交易已提交: condition=%s tx=%s", conditionID, txHash.Hex())
	return nil
}

// paperBalance 纸面模式的虚拟资金源
type paperBalance struct {
	bankroll float64
}

func (p *paperBalance) USDCBalance(ctx context.Context) (float64, error) {
	return p.bankroll, nil
}

func main() {
	configPath := flag.String("config", "", "配置文件路径（.yaml/.yml）")
	dryRun := flag.Bool("dry-run", false, "强制纸面模式（覆盖配置文件）")
	logLevel := flag.String("log-level", "", "日志级别覆盖（debug/info/warn/error）")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}
	if *dryRun {
		cfg.DryRun = true
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		OutputFile:  cfg.Log.File,
		MaxSize:     100,
		MaxBackups:  10,
		MaxAge:      30,
		Compress:    true,
		LogByWindow: cfg.Log.LogByWindow,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		logrus.Errorf("启动失败: %v", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 品种注册表
	instruments := make([]*domain.Instrument, 0, len(cfg.Instruments))
	for _, ic := range cfg.Instruments {
		instruments = append(instruments, &domain.Instrument{
			Symbol:      ic.Symbol,
			FeedSymbol:  ic.FeedSymbol,
			Duration:    time.Duration(ic.DurationMin) * time.Minute,
			DurationTag: ic.DurationTag,
		})
	}
	registry, err := domain.NewRegistry(instruments)
	if err != nil {
		return err
	}

	// 行情：现货价 + 已实现波动率 + 可选的 DVOL 隐含波动率
	book := feed.NewPriceBook()
	volTracker := feed.NewVolTracker()
	binance := feed.NewBinanceFeed(registry.FeedSymbols(), book, volTracker)

	effVol := &feed.EffectiveVol{Tracker: volTracker, FixedVol: cfg.Feed.FixedVol}
	var dvol *feed.DVOLFeed
	if cfg.Feed.EnableDVOL {
		dvol = feed.NewDVOLFeed()
		effVol.Implied = dvol
	}
	spot := &spotView{book: book, vols: effVol}

	// 交易所各客户端
	discovery := exchange.NewDiscoveryClient(cfg.Exchange.GammaURL, cfg.Exchange.ClobURL)
	oracle := exchange.NewOracleClient(cfg.Exchange.GammaURL, cfg.Exchange.SnapshotURL)

	// 钱包与链上客户端（纸面模式不触链）
	var chain *onchain.Client
	if !cfg.DryRun {
		wallet, werr := loadWallet(&cfg.Wallet)
		if werr != nil {
			return werr
		}
		chain, err = onchain.NewClient(onchain.Config{
			RPCURL:            cfg.Wallet.RPCURL,
			ChainID:           cfg.Wallet.ChainID,
			ConditionalTokens: cfg.Wallet.ConditionalTokens,
			Collateral:        cfg.Wallet.Collateral,
		}, wallet)
		if err != nil {
			return err
		}
		logrus.Infof("钱包地址: %s", wallet.Address().Hex())
	} else {
		logrus.Warn("纸面模式已启用：订单按盘口模拟撮合，不发真实交易")
	}

	// 账本：先打开已结算日志，再载入崩溃前的未决记录
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	resolvedLog, err := ledger.OpenResolvedLog(cfg.ResolvedDBPath())
	if err != nil {
		return err
	}
	defer resolvedLog.Close()

	lg, err := ledger.NewLedger(persistence.NewJSONFileService(cfg.DataDir), resolvedLog)
	if err != nil {
		return err
	}

	// 风控状态从历史日志重建，重启不清零自适应样本
	state := risk.NewState()
	if agg, aerr := resolvedLog.LoadAggregates(time.Time{}); aerr == nil {
		state.Restore(agg.Wins, agg.Losses, agg.Wagered, agg.Payout, agg.PnL)
		logrus.Infof("历史战绩: %d 胜 / %d 负, pnl=%.2f", agg.Wins, agg.Losses, agg.PnL)
	} else {
		logrus.Warnf("历史战绩加载失败: %v", aerr)
	}
	monitor := risk.NewEdgeMonitor(cfg.Risk.TargetWinRate, cfg.Risk.CusumThreshold)
	breaker := risk.NewCircuitBreaker(int64(cfg.Risk.BreakerThreshold))
	sizer := risk.NewSizer(risk.SizerConfig{
		KellyNormal:        cfg.Risk.KellyNormal,
		KellyStrong:        cfg.Risk.KellyStrong,
		StrongPrice:        cfg.Risk.StrongPrice,
		StrongEdge:         cfg.Risk.StrongEdge,
		MaxBetFraction:     cfg.Risk.MaxBetFraction,
		MinBetUSDC:         cfg.Risk.MinBetUSDC,
		MaxBetUSDC:         cfg.Risk.MaxBetUSDC,
		MinOrderTokens:     cfg.Risk.MinOrderTokens,
		Adaptive:           cfg.Risk.Adaptive,
		TargetWinRate:      cfg.Risk.TargetWinRate,
		AdaptiveMinSamples: cfg.Risk.AdaptiveMinSamples,
		AdaptiveFloor:      cfg.Risk.AdaptiveFloor,
		MinSizeMode:        cfg.Risk.MinSizeMode,
		KellyOverrides:     cfg.Risk.KellyOverrides,
	}, state, monitor)

	// 窗口管理。快照端点未配置时不挂 oracle 行权价来源。
	marketCfg := market.Config{
		PollInterval:      cfg.Market.PollInterval(),
		RolloverInterval:  cfg.Market.RolloverInterval(),
		StrikeSettleDelay: cfg.Market.StrikeSettleDelay(),
		StrikeSpotWindow:  cfg.Market.StrikeSpotWindow(),
	}
	var manager *market.Manager
	if cfg.Exchange.SnapshotURL != "" {
		manager = market.NewManager(marketCfg, registry, discovery, oracle, book, effVol)
	} else {
		manager = market.NewManager(marketCfg, registry, discovery, nil, book, effVol)
	}

	// 订单网关与资金
	var gateway exchange.OrderGateway
	var balance *engine.BalanceManager
	if cfg.DryRun {
		gateway = exchange.NewPaperGateway(paperQuote(manager))
		balance = engine.NewBalanceManager(&paperBalance{bankroll: cfg.DryRunBankroll}, 10*time.Second)
	} else {
		gateway = exchange.NewHTTPGateway(cfg.Exchange.ClobURL)
		balance = engine.NewBalanceManager(chain, 10*time.Second)
	}

	eng, err := engine.New(engine.Config{
		TickInterval:   cfg.Engine.TickInterval(),
		RejectCooldown: cfg.Engine.RejectCooldown(),
		ConfirmGap:     cfg.Engine.ConfirmGap(),
		RetryMinTokens: cfg.Engine.RetryMinTokens,
		Policy:         cfg.Engine.Policy,
		PolicyConfig:   engine.PolicyConfig{HalfSpread: cfg.Engine.HalfSpread},
		Filters:        filterConfig(&cfg.Engine.Filters),
	}, manager, spot, sizer, breaker, state, lg, gateway, balance)
	if err != nil {
		return err
	}
	manager.AddObserver(eng)

	// 结算、赎回与对账
	var redeemer settle.Redeemer
	var positions settle.PositionSource
	if !cfg.DryRun {
		redeemer = &chainRedeemer{client: chain, log: logger.WithField("component", "redeemer")}
		if cfg.Exchange.DataAPIURL != "" {
			positions = exchange.NewDataAPIClient(cfg.Exchange.DataAPIURL, chainAddress(chain))
		}
	}
	loop := settle.NewLoop(settle.Config{
		SettleInterval:    cfg.Settle.SettleInterval(),
		RedeemInterval:    cfg.Settle.RedeemInterval(),
		ReconcileInterval: cfg.Settle.ReconcileInterval(),
	}, lg, oracle, redeemer, positions, state, monitor, breaker, balance)

	if cfg.MetricsAddr != "" {
		if merr := metrics.Serve(rootCtx, cfg.MetricsAddr); merr != nil {
			logrus.Warnf("metrics/pprof 启动失败: %v", merr)
		} else {
			logrus.Infof("metrics/pprof 监听 %s (expvar:/debug/vars, pprof:/debug/pprof)", cfg.MetricsAddr)
		}
	}

	logrus.Infof("启动: %d 个品种, policy=%s, dry_run=%v", len(instruments), cfg.Engine.Policy, cfg.DryRun)

	done := make(chan struct{}, 4)
	go func() { binance.Run(rootCtx); done <- struct{}{} }()
	if dvol != nil {
		go dvol.Run(rootCtx, registry.FeedSymbols())
	}
	go func() { manager.Run(rootCtx); done <- struct{}{} }()
	go func() { loop.Run(rootCtx); done <- struct{}{} }()
	go func() { eng.Run(rootCtx); done <- struct{}{} }()

	<-rootCtx.Done()
	logrus.Info("收到退出信号，开始优雅关闭")

	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(ctx context.Context) {
		// 各 Run 都挂在 rootCtx 上，等它们退出即可
		for i := 0; i < 4; i++ {
			select {
			case <-done:
			case <-ctx.Done():
				return
			}
		}
	})
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Shutdown(shutdownCtx)

	logrus.Info("已退出")
	return nil
}

// loadWallet 按优先级解析钱包密钥：secretstore > 私钥 > 助记词
func loadWallet(wc *config.WalletConfig) (*onchain.Wallet, error) {
	if wc.SecretStorePath != "" {
		key, err := secretstore.ParseKey(os.Getenv("SECRET_STORE_KEY"))
		if err != nil {
			return nil, err
		}
		store, err := secretstore.Open(secretstore.OpenOptions{
			Path:          wc.SecretStorePath,
			EncryptionKey: key,
			ReadOnly:      true,
		})
		if err != nil {
			return nil, err
		}
		defer store.Close()

		if pk, found, err := store.PrivateKey(); err != nil {
			return nil, err
		} else if found {
			return onchain.NewWalletFromHex(pk)
		}
		if mn, found, err := store.Mnemonic(); err != nil {
			return nil, err
		} else if found {
			return onchain.NewWalletFromMnemonic(mn)
		}
		return nil, fmt.Errorf("secretstore %s 中没有钱包密钥", wc.SecretStorePath)
	}
	if wc.PrivateKey != "" {
		return onchain.NewWalletFromHex(wc.PrivateKey)
	}
	return onchain.NewWalletFromMnemonic(wc.Mnemonic)
}

func chainAddress(chain *onchain.Client) string {
	return chain.WalletAddress().Hex()
}

// paperQuote 纸面撮合的盘口来源：按 assetID 在活跃窗口里找对应一档
func paperQuote(m *market.Manager) exchange.QuoteFunc {
	return func(assetID string) (domain.BookTop, bool) {
		for _, w := range m.ActiveWindows() {
			var side domain.Side
			switch assetID {
			case w.UpAssetID:
				side = domain.SideUp
			case w.DownAssetID:
				side = domain.SideDown
			default:
				continue
			}
			q, ok := m.Quote(w.WindowID)
			if !ok {
				return domain.BookTop{}, false
			}
			return q.Top(side), true
		}
		return domain.BookTop{}, false
	}
}

// filterConfig 配置文件里的过滤器段转引擎类型
func filterConfig(f *config.FilterSet) engine.FilterConfig {
	return engine.FilterConfig{
		BlockedHoursUTC: f.BlockedHoursUTC,
		BlockWeekends:   f.BlockWeekends,
		MaxRealizedVol:  f.MaxRealizedVol,
		MinConfidence:   f.MinConfidence,
		MinMomentumDisp: f.MinMomentumDisp,
		MinElapsed:      time.Duration(f.MinElapsedSec) * time.Second,
		MaxRemaining:    time.Duration(f.MaxRemainingSec) * time.Second,
		MinPrice:        f.MinPrice,
		MaxPrice:        f.MaxPrice,
		MinEdge:         f.MinEdge,
		MaxPriceAge:     time.Duration(f.MaxPriceAgeSec) * time.Second,
	}
}
