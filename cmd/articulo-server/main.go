package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/android2133/articulo492/internal/api"
	"github.com/android2133/articulo492/internal/broadcast"
	"github.com/android2133/articulo492/internal/invoker"
	"github.com/android2133/articulo492/internal/mq"
	"github.com/android2133/articulo492/internal/orchestrator"
	"github.com/android2133/articulo492/internal/recovery"
	"github.com/android2133/articulo492/internal/repo"
	"github.com/android2133/articulo492/internal/telemetry"
)

var (
	startTime = time.Now()
	reqTotal  = promauto.NewCounter(prometheus.CounterOpts{
		Name: "articulo_http_requests_total",
		Help: "Total HTTP requests handled by articulo-server",
	})
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting articulo-server")

	// Подключаемся к базе данных
	pool, err := repo.NewPool(context.Background())
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("connected to database")

	// Создаём репозитории
	workflowRepo := repo.NewWorkflowRepo(pool)
	executionRepo := repo.NewExecutionRepo(pool)
	stepExecRepo := repo.NewStepExecutionRepo(pool)

	// Внутрипроцессный брокер событий прогресса
	hub := broadcast.NewHub(logger)

	// HTTP-вызов обработчиков шагов
	registry := invoker.NewRegistry("")
	httpInvoker := invoker.NewHTTPInvoker(registry)

	// Оркестратор
	orch := orchestrator.New(orchestrator.Config{
		Workflows: workflowRepo,
		Execs:     executionRepo,
		StepExecs: stepExecRepo,
		Invoker:   httpInvoker,
		Hub:       hub,
		Logger:    logger,
	})

	// Опциональная ретрансляция событий в RabbitMQ
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	if url := os.Getenv("RABBITMQ_URL"); url != "" {
		conn, err := mq.NewConnection(url, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		if err := mq.SetupTopology(context.Background(), conn); err != nil {
			logger.Error("failed to setup mq topology", "error", err)
			os.Exit(1)
		}

		publisher := mq.NewPublisher(conn, logger)
		publisher.RelayAll(relayCtx, hub)
		logger.Info("event relay to rabbitmq enabled")
	}

	// Восстанавливаем executions, оставшиеся RUNNING после рестарта
	recovered, err := orch.Recover(context.Background())
	if err != nil {
		logger.Error("startup recovery failed", "error", err)
	} else if recovered > 0 {
		logger.Info("startup recovery completed", "recovered", recovered)
	}

	// Фоновый свипер восстановления
	sweeper := recovery.New(recovery.Config{
		Orchestrator: orch,
		Logger:       logger,
	})
	if err := sweeper.Start(); err != nil {
		logger.Error("failed to start recovery sweeper", "error", err)
		os.Exit(1)
	}

	// API handler
	handler := api.NewHandler(api.Config{
		Workflows:    workflowRepo,
		Executions:   executionRepo,
		Orchestrator: orch,
		Hub:          hub,
		Logger:       logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		reqTotal.Inc()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	// HTTP сервер с graceful shutdown
	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Ожидаем сигнал завершения
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	logger.Info("shutting down")

	// Сначала перестаём принимать запросы, потом гасим оркестратор:
	// активные драйверы дописывают текущий шаг и выходят.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	sweeper.Stop()
	orch.Stop()

	logger.Info("stopped")
}
