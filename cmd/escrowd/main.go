package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/dexcore/escrowd/params"
	"github.com/dexcore/escrowd/pkg/api"
	"github.com/dexcore/escrowd/pkg/events"
	"github.com/dexcore/escrowd/pkg/exchange"
	"github.com/dexcore/escrowd/pkg/exchange/token"
	"github.com/dexcore/escrowd/pkg/storage"
	"github.com/dexcore/escrowd/pkg/util"
)

// custodian is the exchange's custody address on the in-process devnet
// tokens, the analogue of the deployed contract address.
var custodian = common.HexToAddress("0xE5C0000000000000000000000000000000000000")

func main() {
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	store, err := storage.Open(cfg.Node.DBPath)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	registry := token.NewRegistry()
	if cfg.Devnet.Seed {
		seedDevnetTokens(registry, cfg.Devnet.Faucet, logger)
	}

	hub := api.NewHub(logger)
	sink := events.Sinks{events.NewZapSink(logger), hub.Sink()}

	engine, err := exchange.New(
		exchange.Config{
			FeeCollector: cfg.Engine.FeeCollector,
			FeePercent:   cfg.Engine.FeePercent,
		},
		registry,
		exchange.WithStore(store),
		exchange.WithSink(sink),
		exchange.WithLogger(logger),
	)
	if err != nil {
		logger.Fatal("construct engine", zap.Error(err))
	}

	server := api.NewServer(engine, store, hub, logger)
	go func() {
		if err := server.Start(cfg.Node.ListenAddr); err != nil {
			logger.Fatal("api server", zap.Error(err))
		}
	}()

	logger.Info("escrowd started",
		zap.String("listen", cfg.Node.ListenAddr),
		zap.String("fee_collector", cfg.Engine.FeeCollector.Hex()),
		zap.Uint64("fee_percent", cfg.Engine.FeePercent),
	)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
}

// seedDevnetTokens mints two tokens to the faucet and pre-approves the
// custodian so a fresh node is immediately tradeable.
func seedDevnetTokens(registry *token.Registry, faucet common.Address, logger *zap.Logger) {
	supply := new(uint256.Int).Mul(
		uint256.NewInt(1_000_000),
		new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(18)),
	)

	tokens := []struct {
		addr   common.Address
		name   string
		symbol string
	}{
		{common.HexToAddress("0x0000000000000000000000000000000000000A01"), "Dev Dollar", "DVD"},
		{common.HexToAddress("0x0000000000000000000000000000000000000A02"), "Dev Gold", "DVG"},
	}

	for _, tk := range tokens {
		erc := token.NewERC20(tk.name, tk.symbol, supply, faucet)
		erc.Approve(faucet, custodian, supply)
		registry.Register(tk.addr, token.NewCustody(erc, custodian))
		logger.Info("devnet token seeded",
			zap.String("address", tk.addr.Hex()),
			zap.String("symbol", tk.symbol),
			zap.String("faucet", faucet.Hex()),
		)
	}
}
