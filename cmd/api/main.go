package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/ise-evaluator/internal/config"
	"github.com/zhouzirui/ise-evaluator/internal/handler"
	evalhandler "github.com/zhouzirui/ise-evaluator/internal/handler/evaluation"
	"github.com/zhouzirui/ise-evaluator/internal/service/evaluation"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Warnf("failed to load .env file: %v", err)
		logrus.Info("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("failed to load configuration: %v", err)
	}
	config.SetupLogging(cfg.Log)

	var (
		evalSvc evalhandler.EvaluationService
		cleanup func()
	)
	if cfg.ISE.Enabled {
		svc, err := evaluation.NewService(cfg.ISE.Model())
		if err != nil {
			logrus.Fatalf("failed to initialize evaluation service: %v", err)
		}
		evalSvc = svc
		cleanup = svc.Cleanup
		logrus.Info("Evaluation service initialized successfully")
	} else {
		logrus.Warn("讯飞评测凭证未配置 (ISE_APP_ID / ISE_API_KEY / ISE_API_SECRET)，评测接口不可用")
	}

	router := handler.NewRouter(evalSvc)

	startServer(ctx, cfg.Server, router, cleanup)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, cleanup func()) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logrus.Infof("ISE evaluator listening on %s", addr)
	if err := runServer(ctx, srv, cleanup); err != nil {
		logrus.Fatalf("server error: %v", err)
	}
}

// runServer 在 ctx 结束时先执行 cleanup 中止进行中的评测会话，再关闭服务
func runServer(ctx context.Context, srv *http.Server, cleanup func()) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		if cleanup != nil {
			cleanup()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if cleanup != nil {
			cleanup()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
