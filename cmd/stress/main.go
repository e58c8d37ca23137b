package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"stressjudge/internal/common/mq"
	"stressjudge/internal/stress/controller"
	"stressjudge/internal/stress/repository"
	"stressjudge/internal/stress/sandbox/engine"
	"stressjudge/internal/stress/service"
	"stressjudge/internal/stress/workspace"
	"stressjudge/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/stress.yaml"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	mode := flag.String("mode", "", "Mode to run (required when several modes are configured)")
	tests := flag.Int("tests", 100, "Number of tests to run")
	workers := flag.Int("workers", 0, "Worker count, 0 picks one from the CPU count")
	file := flag.String("file", "", "Candidate source recorded in run history")
	serve := flag.Bool("serve", false, "Serve the HTTP API instead of running once")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return 2
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return 2
	}
	defer func() {
		_ = logger.Sync()
	}()

	modes, err := buildModes(appCfg.Modes)
	if err != nil {
		logger.Error(context.Background(), "invalid mode config", zap.Error(err))
		return 2
	}

	eng, err := engine.NewEngine(appCfg.Engine)
	if err != nil {
		logger.Error(context.Background(), "init engine failed", zap.Error(err))
		return 2
	}

	store, err := repository.NewRunStore(context.Background(), appCfg.Store)
	if err != nil {
		logger.Error(context.Background(), "init run store failed", zap.Error(err))
		return 2
	}
	defer func() {
		_ = store.Close()
	}()

	var producer mq.Producer
	if len(appCfg.Kafka.Brokers) > 0 {
		kafkaProducer, err := mq.NewKafkaProducer(appCfg.Kafka.KafkaConfig)
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return 2
		}
		defer func() {
			_ = kafkaProducer.Close()
		}()
		producer = kafkaProducer
	}

	svc, err := service.NewService(service.Config{
		Engine:      eng,
		Modes:       modes,
		Store:       store,
		Producer:    producer,
		EventTopic:  appCfg.Kafka.Topic,
		Workspace:   workspace.NewWriter(appCfg.Workspace.Root),
		TempRoot:    appCfg.Workspace.TempRoot,
		ProjectName: appCfg.ProjectName,
	})
	if err != nil {
		logger.Error(context.Background(), "init run service failed", zap.Error(err))
		return 2
	}

	if *serve {
		return serveHTTP(appCfg.Server, svc)
	}

	modeName, err := pickMode(*mode, svc.Modes())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	mc := appCfg.Modes[modeName]
	filePath := *file
	if filePath == "" {
		filePath = mc.Candidate
	}
	snapshot := append([]string(nil), mc.Sources...)
	if *file != "" {
		snapshot = append(snapshot, *file)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := svc.Run(ctx, service.StartRequest{
		Mode:          modeName,
		Tests:         *tests,
		Workers:       *workers,
		FilePath:      filePath,
		SnapshotPaths: snapshot,
		Observer:      newProgressPrinter(os.Stdout),
	})
	if err != nil {
		logger.Error(context.Background(), "run failed", zap.Error(err))
		return 2
	}
	printSummary(os.Stdout, report)
	if !report.AllPassed {
		return 1
	}
	return 0
}

func pickMode(requested string, configured []string) (string, error) {
	if requested != "" {
		return requested, nil
	}
	if len(configured) == 1 {
		return configured[0], nil
	}
	return "", fmt.Errorf("-mode is required, configured modes: %v", configured)
}

func allowedOrigins(cfg ServerConfig) []string {
	return append(controller.OriginHosts(cfg.Addr), cfg.AllowedOrigins...)
}

func serveHTTP(cfg ServerConfig, svc *service.Service) int {
	gin.SetMode(gin.ReleaseMode)
	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      controller.NewRouter(controller.NewRunController(svc, allowedOrigins(cfg)...)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	listener, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return 2
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "stress http server started", zap.String("addr", cfg.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := 0
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
			code = 1
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(ctx); err != nil {
		logger.Warn(context.Background(), "active runs did not finish in time", zap.Error(err))
	}
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}
	return code
}
