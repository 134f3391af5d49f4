// Command jobstress drives a jobsched pool with nested job groups and
// reports throughput, inline fallbacks and delayed promotions.
package main

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	js "github.com/azargarov/jobsched"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "jobstress",
		Short:        "Stress the jobsched pool",
		Long:         "jobstress submits nested job groups from several producers and prints scheduler statistics.",
		SilenceUsage: true,
		RunE:         run,
	}
	rootCmd.Flags().Int("workers", 0, "worker threads (0 = GOMAXPROCS)")
	rootCmd.Flags().Int("queue-capacity", js.DefaultQueueCapacity, "per-priority queue capacity")
	rootCmd.Flags().Int("groups", 64, "groups per producer")
	rootCmd.Flags().Int("jobs", 256, "jobs per group")
	rootCmd.Flags().Int("producers", 4, "concurrent producers")
	rootCmd.Flags().Int("nested", 4, "jobs in the nested group each job awaits (0 disables nesting)")
	rootCmd.Flags().Int("work", 64, "sha256 rounds per job")
	rootCmd.Flags().String("priority", "normal", "priority of producer groups (low|normal|high|critical)")
	rootCmd.Flags().Bool("pin", false, "pin workers to logical cores")
	rootCmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type config struct {
	workers, capacity    int
	groups, jobs, nested int
	producers, work      int
	prio                 js.Priority
	pin                  bool
	metricsAddr          string
}

func readConfig(cmd *cobra.Command) (config, error) {
	var c config
	c.workers, _ = cmd.Flags().GetInt("workers")
	c.capacity, _ = cmd.Flags().GetInt("queue-capacity")
	c.groups, _ = cmd.Flags().GetInt("groups")
	c.jobs, _ = cmd.Flags().GetInt("jobs")
	c.producers, _ = cmd.Flags().GetInt("producers")
	c.nested, _ = cmd.Flags().GetInt("nested")
	c.work, _ = cmd.Flags().GetInt("work")
	c.pin, _ = cmd.Flags().GetBool("pin")
	c.metricsAddr, _ = cmd.Flags().GetString("metrics-addr")
	prio, _ := cmd.Flags().GetString("priority")

	var err error
	if c.prio, err = js.ParsePriority(prio); err != nil {
		return c, err
	}
	if c.capacity <= 0 || c.capacity&(c.capacity-1) != 0 {
		return c, fmt.Errorf("--queue-capacity must be a positive power of two, got %d", c.capacity)
	}
	if c.groups <= 0 || c.jobs <= 0 || c.producers <= 0 {
		return c, errors.New("--groups, --jobs and --producers must be positive")
	}
	if c.nested < 0 || c.work < 0 {
		return c, errors.New("--nested and --work must not be negative")
	}
	return c, nil
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := readConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := lg.FromContext(ctx)

	stats := &js.AtomicMetrics{}
	metrics := js.TeeMetrics{stats}

	var srv *http.Server
	if cfg.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		metrics = append(metrics, js.NewPromMetrics(reg, "jobstress"))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", lg.Any("error", err))
			}
		}()
		logger.Info("serving metrics", lg.String("addr", cfg.metricsAddr))
	}

	pool, err := js.NewPool(js.Options{
		Workers:       cfg.workers,
		QueueCapacity: cfg.capacity,
		PinWorkers:    cfg.pin,
		Ctx:           ctx,
		Metrics:       metrics,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	runErr := drive(ctx, pool, cfg)
	elapsed := time.Since(start)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := pool.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if srv != nil {
		_ = srv.Shutdown(shutdownCtx)
	}

	executed := stats.Executed()
	fmt.Printf("workers=%d elapsed=%s executed=%d jobs/s=%.0f inline=%d delayed=%d promoted=%d failures=%d\n",
		pool.Workers(), elapsed.Round(time.Millisecond), executed,
		float64(executed)/elapsed.Seconds(), stats.Inline(),
		stats.Delayed(), stats.Promoted(), stats.WorkerFailures())
	for p := js.Low; p <= js.Critical; p++ {
		fmt.Printf("  %-8s submitted=%d\n", p, stats.Submitted(p))
	}
	return runErr
}

// drive runs on the coordinator. A delayed group gated on producer
// completion exercises promotion while the producers hammer the queues.
func drive(ctx context.Context, pool *js.Pool, cfg config) error {
	var producersDone atomic.Bool
	var reports atomic.Int64

	dg := js.NewDelayedJobGroup(pool, js.High)
	for i := 0; i < cfg.producers; i++ {
		if err := dg.AddJob(func() { reports.Add(1) }, producersDone.Load); err != nil {
			return err
		}
	}
	if err := dg.Submit(); err != nil {
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.producers; i++ {
		eg.Go(func() error {
			return produce(egCtx, pool, cfg)
		})
	}
	err := eg.Wait()
	producersDone.Store(true)

	dg.Wait()
	if got := reports.Load(); got != int64(cfg.producers) {
		return fmt.Errorf("delayed group ran %d of %d jobs", got, cfg.producers)
	}
	return err
}

func produce(ctx context.Context, pool *js.Pool, cfg config) error {
	for i := 0; i < cfg.groups; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		g := js.NewJobGroup(pool, cfg.prio)
		for j := 0; j < cfg.jobs; j++ {
			seed := byte(i ^ j)
			if err := g.AddJob(func() { job(pool, cfg, seed) }); err != nil {
				return err
			}
		}
		g.Await()
	}
	return nil
}

func job(pool *js.Pool, cfg config, seed byte) {
	spin(cfg.work, seed)
	if cfg.nested == 0 {
		return
	}
	g := js.NewJobGroup(pool, js.Critical)
	for k := 0; k < cfg.nested; k++ {
		s := seed + byte(k)
		_ = g.AddJob(func() { spin(cfg.work, s) })
	}
	g.Await()
}

var sink atomic.Uint32

func spin(rounds int, seed byte) {
	buf := [32]byte{seed}
	for i := 0; i < rounds; i++ {
		buf = sha256.Sum256(buf[:])
	}
	sink.Add(uint32(buf[0]))
}
