// Hive Scheduler — запускает SCHEDULE и CONDITION триггеры.
//
// Scheduler:
//   - Раз в минуту проверяет cron-выражения активных SCHEDULE триггеров
//   - Опрашивает источники метрик для CONDITION триггеров
//   - Лидер выбирается через pg advisory lock: тикает только одна реплика,
//     дедупликацию страхует уникальный fire_key в базе
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Hive/internal/orchestrator"
	"github.com/shaiso/Hive/internal/repo"
	"github.com/shaiso/Hive/internal/telemetry"
	"github.com/shaiso/Hive/internal/trigger"
)

const schedLockKey int64 = 777001

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting hive-scheduler")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	definitionRepo := repo.NewDefinitionRepo(pool)
	instanceRepo := repo.NewInstanceRepo(pool)
	stepRepo := repo.NewStepRepo(pool)
	taskRepo := repo.NewTaskRepo(pool)
	triggerRepo := repo.NewTriggerRepo(pool)
	auditRepo := repo.NewAuditRepo(pool)

	// Scheduler создаёт instances напрямую через orchestrator: уведомление
	// подберёт orchestrator-бинарь через MQ или поллинг.
	orch := orchestrator.New(orchestrator.Config{
		Definitions: definitionRepo,
		Instances:   instanceRepo,
		Steps:       stepRepo,
		Tasks:       taskRepo,
		Audit:       auditRepo,
		Logger:      logger,
	})

	evaluator := trigger.New(trigger.Config{
		Triggers:     triggerRepo,
		Audit:        auditRepo,
		Orchestrator: orch,
		Logger:       logger,
	})

	scheduler := trigger.NewScheduler(evaluator, logger)
	monitor := trigger.NewMonitor(evaluator, httpSource, 0, logger)

	// scheduler loop
	go func() {
		tk := time.NewTicker(15 * time.Second)
		defer tk.Stop()

		var hasLock bool
		defer func() {
			if hasLock {
				_, _ = pool.Exec(context.Background(), "select pg_advisory_unlock($1)", schedLockKey)
			}
		}()

		for {
			select {
			case t := <-tk.C:
				// пытаемся стать лидером (или подтвердить лидерство)
				if !hasLock {
					var ok bool
					if err := pool.QueryRow(ctx, "select pg_try_advisory_lock($1)", schedLockKey).Scan(&ok); err != nil {
						logger.Error("advisory lock failed", "error", err)
						continue
					}
					hasLock = ok
				}

				if !hasLock {
					// не лидер — пропускаем тик
					continue
				}

				// лидер выполняет логику тика; повторный тик в ту же
				// минуту дедуплицируется по fire_key
				if err := scheduler.Tick(ctx, t); err != nil {
					logger.Error("schedule tick failed", "error", err)
				}
				if err := monitor.Check(ctx); err != nil {
					logger.Error("condition check failed", "error", err)
				}

			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8081"
	if v := os.Getenv("SCHED_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("hive-scheduler stopped")
}

// httpSource читает метрику CONDITION триггера по HTTP.
// Принимает либо голое число, либо JSON вида {"value": 42.5}.
func httpSource(ctx context.Context, source string) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return 0, fmt.Errorf("bad source url %q: %w", source, err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("source %q returned HTTP %d", source, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return 0, err
	}

	text := strings.TrimSpace(string(body))
	if v, err := strconv.ParseFloat(text, 64); err == nil {
		return v, nil
	}

	var payload struct {
		Value float64 `json:"value"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0, fmt.Errorf("source %q returned unparsable body", source)
	}
	return payload.Value, nil
}
