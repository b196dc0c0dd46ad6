package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"simcex/internal/announcements"
	"simcex/internal/auth"
	"simcex/internal/config"
	"simcex/internal/db"
	"simcex/internal/funds"
	"simcex/internal/httpserver"
	"simcex/internal/markets"
	"simcex/internal/orders"
	"simcex/internal/portfolio"
	"simcex/internal/positions"
	"simcex/internal/promos"
	"simcex/internal/store"
	"simcex/internal/wallet"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := newLogger(cfg.Mode)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()

	marketStore := markets.NewStore(pool)
	cache := markets.NewCache()
	if err := cache.Load(ctx, marketStore); err != nil {
		logger.Fatal("load market catalog", zap.Error(err))
	}
	bus := markets.NewBus()
	candles := markets.NewCandleBook(0)
	feed := markets.NewFeed(marketStore, cache, bus, candles, cfg.FeedInterval, logger)

	st := store.NewPostgres(pool)
	fundsSvc := funds.NewService(st, cache, logger)
	authSvc := auth.NewService(pool, cfg.JWTIssuer, []byte(cfg.JWTSecret), cfg.JWTTTL)
	orderSvc := orders.NewService(st, fundsSvc, cache, authSvc, logger)
	positionSvc := positions.NewService(st, fundsSvc, cache, logger)
	portfolioSvc := portfolio.NewService(st, fundsSvc, cache, logger)
	walletSvc := wallet.NewService(wallet.NewStore(pool), fundsSvc, logger)
	promoSvc := promos.NewService(promos.NewStore(pool), fundsSvc, logger)
	annStore := announcements.NewStore(pool)

	// Positions watch the tape for liquidation and stop levels.
	feed.SetSink(positionSvc)

	marketHandler := markets.NewHandler(marketStore, cache, candles, logger)
	marketHandler.SetSink(positionSvc)

	router := httpserver.NewRouter(httpserver.RouterDeps{
		AuthHandler:         auth.NewHandler(authSvc),
		FundsHandler:        funds.NewHandler(fundsSvc),
		MarketHandler:       marketHandler,
		TickerWS:            markets.NewTickerWS(bus, cfg.WebSocketOrigin, logger),
		OrderHandler:        orders.NewHandler(orderSvc),
		PositionHandler:     positions.NewHandler(positionSvc),
		PortfolioHandler:    portfolio.NewHandler(portfolioSvc),
		WalletHandler:       wallet.NewHandler(walletSvc),
		PromoHandler:        promos.NewHandler(promoSvc),
		AnnouncementHandler: announcements.NewHandler(annStore),
		AuthService:         authSvc,
		InternalToken:       cfg.InternalToken,
	})

	feed.Start(ctx)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}
	logger.Info("server listening", zap.String("addr", cfg.HTTPAddr), zap.String("mode", cfg.Mode))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func newLogger(mode string) (*zap.Logger, error) {
	if mode == "production" {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
