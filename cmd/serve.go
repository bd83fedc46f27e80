package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nft-market-onchain/config"
	handler "nft-market-onchain/handler/market"
	"nft-market-onchain/logger"
)

// ServeCmd はHTTP APIとカタログの定期更新を起動する
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the marketplace HTTP API.",
	Long:  "connect the wallet, keep the catalog fresh and serve the marketplace HTTP API until SIGINT/SIGTERM.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		wg := &sync.WaitGroup{}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// サーバー停止・起動失敗の通知
		onServeExit := make(chan error, 1)

		a, err := newApp(ctx, cfg)
		if err != nil {
			logger.WithContext(ctx).Error("failed to start session", zap.Error(err))
			return err
		}
		defer a.Close()

		srv := newServer(cfg, a)
		startBackground(ctx, cfg, a, wg)

		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.WithContext(ctx).Info("marketplace api starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				onServeExit <- err
			}
		}()

		onSignal := make(chan os.Signal, 1)
		signal.Notify(onSignal, syscall.SIGINT, syscall.SIGTERM)

		var exitErr error
		select {
		case sig := <-onSignal:
			logger.WithContext(ctx).Info("Exit by signal", zap.String("signal", sig.String()))
		case exitErr = <-onServeExit:
			logger.WithContext(ctx).Error("Exit by error", zap.Error(exitErr))
		}
		cancel()

		shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithContext(ctx).Warn("http shutdown", zap.Error(err))
		}
		wg.Wait()
		return exitErr
	},
}

func newServer(cfg *config.Config, a *app) *http.Server {
	h := handler.NewMarketHandler(a.session, a.catalog, a.submitter, a.buyer, a.session.Marketplace,
		handler.WithMaxUpload(cfg.Api.MaxUploadMB<<20))
	router := handler.NewRouter(h)

	// --- CORSミドルウェアの設定 ---
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.Api.AllowOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
	})

	return &http.Server{
		Addr:         ":" + cfg.Api.Port,
		Handler:      c.Handler(router),
		ReadTimeout:  cfg.Api.ReadTimeout,
		WriteTimeout: cfg.Api.WriteTimeout,
	}
}

// startBackground は初回読み込み、定期リフレッシュ、イベント購読を開始する
func startBackground(ctx context.Context, cfg *config.Config, a *app, wg *sync.WaitGroup) {
	log := logger.WithContext(ctx)

	// 初回読み込みの失敗は致命的ではない。カタログは loading のまま次の周期で再試行する
	if _, err := a.catalog.Refresh(ctx); err != nil {
		log.Warn("initial catalog load failed", zap.Error(err))
	}

	if cfg.Catalog.RefreshInterval > 0 {
		done := a.catalog.StartRefresher(ctx, cfg.Catalog.RefreshInterval)
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}

	if a.ws != nil {
		done, err := a.catalog.WatchEvents(ctx)
		if err != nil {
			log.Warn("failed to start event watcher", zap.Error(err))
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}
}

func init() {
	rootCmd.AddCommand(ServeCmd)
}
