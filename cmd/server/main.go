package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"cardinal/internal/config"
	"cardinal/internal/oracle"
	"cardinal/internal/registry"
	"cardinal/internal/server"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}

	ctx := context.Background()

	var store registry.Store
	if cfg.Service.RegistryDSN != "" {
		pgStore, err := registry.NewPostgresStore(ctx, cfg.Service.RegistryDSN)
		if err != nil {
			log.WithError(err).Fatal("registry store error")
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		fileStore, err := registry.NewFileStore(cfg.Service.RegistryPath)
		if err != nil {
			log.WithError(err).Fatal("registry store error")
		}
		store = fileStore
	}

	fundingFloor, err := cfg.Seed.FundingFloor()
	if err != nil {
		log.WithError(err).Fatal("oracle config error")
	}
	topUp, err := cfg.Seed.TopUp()
	if err != nil {
		log.WithError(err).Fatal("oracle config error")
	}

	var funder oracle.RelayFunder = oracle.NewFakeRelayFunder()
	var rpcHealth func(context.Context) error
	if cfg.Chain.RPCURL != "" && cfg.Chain.PrivateKey != "" {
		ethFunder, err := oracle.NewEthRelayFunder(ctx, oracle.EthRelayConfig{
			RPCURL:        cfg.Chain.RPCURL,
			PrivateKeyHex: cfg.Chain.PrivateKey,
		})
		if err != nil {
			log.WithError(err).Fatal("relay funder error")
		}
		funder = ethFunder
		rpcHealth = ethFunder.Ping
	}

	bridge := oracle.NewBridge(oracle.Config{
		RequesterIndex: cfg.Seed.Oracle.RequesterIndex,
		Relay:          common.HexToAddress(cfg.Seed.Oracle.RelayAddress),
		FundingFloor:   fundingFloor,
		TopUpAmount:    topUp,
	}, funder, log)

	apiServer := server.NewServer(cfg, store, bridge, log)
	if rpcHealth != nil {
		apiServer.SetRPCHealth(rpcHealth)
	}

	records, err := store.List(ctx)
	if err != nil {
		log.WithError(err).Fatal("registry list error")
	}
	apiServer.RestoreCards(records)

	go func() {
		if err := apiServer.Start(); err != nil {
			log.WithError(err).Info("server stopped")
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shutdownCtx)
}
