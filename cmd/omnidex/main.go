package main

import (
	"context"
	"flag"
	"log"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/Aidin1998/omnidex/internal/admin"
	"github.com/Aidin1998/omnidex/internal/bridge"
	"github.com/Aidin1998/omnidex/internal/config"
	"github.com/Aidin1998/omnidex/internal/currency"
	"github.com/Aidin1998/omnidex/internal/exchange"
	"github.com/Aidin1998/omnidex/internal/execution"
	"github.com/Aidin1998/omnidex/internal/fund"
	"github.com/Aidin1998/omnidex/internal/ledger"
	"github.com/Aidin1998/omnidex/internal/order"
	"github.com/Aidin1998/omnidex/internal/royalty"
	"github.com/Aidin1998/omnidex/internal/transfer"
	"github.com/Aidin1998/omnidex/pkg/logger"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zapLogger, err := logger.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger = logger.NewChainLogger(zapLogger, cfg.ChainID)

	db, err := gorm.Open(sqlite.Open(cfg.Database.DSN), &gorm.Config{})
	if err != nil {
		zapLogger.Fatal("Failed to open database", zap.Error(err))
	}

	engineAddr := common.HexToAddress(cfg.EngineAddress)

	nonces, err := order.NewNonceRegistry(db)
	if err != nil {
		zapLogger.Fatal("Failed to init nonce registry", zap.Error(err))
	}
	currencies, err := currency.NewManager(db, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to init currency manager", zap.Error(err))
	}
	executions, err := execution.NewManager(db, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to init execution manager", zap.Error(err))
	}
	royalties, err := royalty.NewFeeManager(db, nil, cfg.Fees.RoyaltyLimitBps, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to init royalty manager", zap.Error(err))
	}
	bindings, err := bridge.NewBindings(db, zapLogger)
	if err != nil {
		zapLogger.Fatal("Failed to init remote bindings", zap.Error(err))
	}
	stored, err := bridge.NewStoredPayloadStore(db)
	if err != nil {
		zapLogger.Fatal("Failed to init stored payload store", zap.Error(err))
	}
	processed, err := bridge.NewProcessedLegStore(db)
	if err != nil {
		zapLogger.Fatal("Failed to init processed leg store", zap.Error(err))
	}

	endpoint := bridge.NewKafkaEndpoint(
		bridge.DefaultKafkaEndpointConfig(cfg.Kafka.Brokers),
		cfg.ChainID,
		engineAddr,
		bridge.DefaultFeeSchedule(),
		stored,
		zapLogger,
	)
	defer endpoint.Close()

	router := bridge.NewRouter(endpoint, bindings, cfg.ChainID, engineAddr, cfg.Bridge.DstGasLimit, zapLogger)

	feeBps := cfg.Fees.ProtocolFeeBps
	if err := executions.Register(execution.StandardSaleAddress, execution.NewStandardSale(feeBps)); err != nil {
		zapLogger.Fatal("Failed to register standard sale strategy", zap.Error(err))
	}
	if err := executions.Register(execution.PrivateSaleAddress, execution.NewPrivateSale(feeBps)); err != nil {
		zapLogger.Fatal("Failed to register private sale strategy", zap.Error(err))
	}
	if err := executions.Register(execution.DutchAuctionAddress, execution.NewDutchAuction(feeBps)); err != nil {
		zapLogger.Fatal("Failed to register dutch auction strategy", zap.Error(err))
	}

	ledgers := ledger.NewRegistry()
	erc721 := transfer.NewERC721Manager(engineAddr, ledgers, cfg.ChainID)
	erc1155 := transfer.NewERC1155Manager(engineAddr, ledgers, cfg.ChainID)
	selector := transfer.NewSelector(ledgers, erc721, erc1155, zapLogger)

	pool := fund.NewMemoryPool(big.NewInt(0))
	funds := fund.NewManager(engineAddr, currencies, ledgers, pool, engineAddr, router,
		new(big.Int).SetUint64(cfg.Bridge.AirdropAmount), zapLogger)

	engine := exchange.New(exchange.Config{
		LocalChainID:         cfg.ChainID,
		Address:              engineAddr,
		ProtocolFeeRecipient: common.HexToAddress(cfg.Fees.ProtocolFeeRecipient),
		Nonces:               nonces,
		Currencies:           currencies,
		Executions:           executions,
		Royalties:            royalties,
		Selector:             selector,
		Funds:                funds,
		Router:               router,
		Processed:            processed,
		Logger:               zapLogger,
	})
	endpoint.RegisterReceiver(engineAddr, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := endpoint.Run(ctx); err != nil && ctx.Err() == nil {
			zapLogger.Fatal("Packet consumer stopped", zap.Error(err))
		}
	}()

	server := admin.NewServer(engine, currencies, executions, royalties, bindings, stored, endpoint, zapLogger)
	go func() {
		if err := server.Run(cfg.Admin.ListenAddr); err != nil {
			zapLogger.Fatal("Admin server stopped", zap.Error(err))
		}
	}()

	zapLogger.Info("omnidex engine running",
		zap.Uint16("chain_id", cfg.ChainID),
		zap.String("engine", engineAddr.Hex()),
		zap.String("admin", cfg.Admin.ListenAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zapLogger.Info("shutting down")
	cancel()
}
