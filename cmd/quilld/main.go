// Package main provides the entry point for the quilld heap daemon.
// It assembles the heap manager, activity tracker, evaluation task and
// management surfaces, then runs a synthetic allocation workload so the
// time-based sizing behavior can be observed live.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/quillmem/quill/internal/heap"
)

type serveOptions struct {
	regionSize string
	minHeap    string
	maxHeap    string
	highWater  float64

	configPath  string
	metricsAddr string
	debugAddr   string

	workload      bool
	workloadBurst time.Duration
	workloadIdle  time.Duration
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "quilld",
		Short: "Quill heap daemon - region-based heap with time-based uncommit",
		Long: `Quilld hosts a region-based heap whose committed size tracks demand:
regions that stay idle past the configured uncommit delay are returned
to the operating system by a periodic evaluation task.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "quilld %s\n", version)
		},
	}
}

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the heap daemon",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.regionSize, "region-size", "1MiB", "size of each heap region")
	cmd.Flags().StringVar(&opts.minHeap, "min-heap", "8MiB", "committed size floor")
	cmd.Flags().StringVar(&opts.maxHeap, "max-heap", "256MiB", "reserved address range ceiling")
	cmd.Flags().Float64Var(&opts.highWater, "high-water", heap.DefaultHighWater, "occupancy fraction that triggers expansion")
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "sizing config file (YAML), watched for changes")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "127.0.0.1:9464", "prometheus metrics listen address")
	cmd.Flags().StringVar(&opts.debugAddr, "debug-addr", "127.0.0.1:8700", "debug/management HTTP listen address")
	cmd.Flags().BoolVar(&opts.workload, "workload", true, "run the synthetic allocation workload")
	cmd.Flags().DurationVar(&opts.workloadBurst, "workload-burst", 20*time.Second, "duration of each allocation burst")
	cmd.Flags().DurationVar(&opts.workloadIdle, "workload-idle", 3*time.Minute, "idle pause between bursts")

	return cmd
}

func runServe(opts *serveOptions) error {
	logger := log.New(os.Stderr, "quilld ", log.LstdFlags|log.Lmicroseconds)

	geom, err := parseGeometry(opts)
	if err != nil {
		return err
	}

	cfg := heap.DefaultSizingConfig()
	if opts.configPath != "" {
		cfg, err = heap.LoadSizingConfig(opts.configPath)
		if err != nil {
			return fmt.Errorf("load config %s: %w", opts.configPath, err)
		}
	}
	store, err := heap.NewConfigStore(cfg)
	if err != nil {
		return err
	}

	hm, err := heap.NewHeapManager(geom, store, nil)
	if err != nil {
		return fmt.Errorf("create heap: %w", err)
	}
	hm.SetLogger(logger)
	hm.AddObserver(heap.NewLogObserver(logger))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	hm.AddObserver(heap.NewHeapMetrics(reg, hm))

	logger.Printf("heap ready: region=%s floor=%s max=%s high-water=%.2f",
		humanize.IBytes(geom.RegionSize), humanize.IBytes(geom.MinHeapBytes),
		humanize.IBytes(geom.MaxHeapBytes), geom.HighWater)

	metricsSrv, err := serveMetrics(reg, opts.metricsAddr, logger)
	if err != nil {
		return err
	}

	debugAddr, stopDebug, err := heap.StartDebugHTTP(hm, store, opts.debugAddr)
	if err != nil {
		return fmt.Errorf("debug server: %w", err)
	}
	logger.Printf("debug endpoint on http://%s (/heap, /config)", debugAddr)

	var watcher *heap.ConfigWatcher
	if opts.configPath != "" {
		watcher, err = heap.NewConfigWatcher(opts.configPath, store, logger)
		if err != nil {
			return fmt.Errorf("config watcher: %w", err)
		}
	}

	worker := heap.NewServiceWorker()
	task := heap.NewHeapEvaluationTask(hm, hm, store, worker)
	task.SetLogger(logger)
	task.Start()
	logger.Printf("evaluation task scheduled every %v (uncommit delay %v)",
		cfg.EvaluationInterval, cfg.UncommitDelay)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if opts.workload {
		go runWorkload(ctx, hm, geom, opts.workloadBurst, opts.workloadIdle, logger)
	}

	<-ctx.Done()
	logger.Printf("shutting down")

	worker.Stop()
	if watcher != nil {
		_ = watcher.Close()
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = stopDebug(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	return nil
}

func parseGeometry(opts *serveOptions) (heap.Geometry, error) {
	regionSize, err := humanize.ParseBytes(opts.regionSize)
	if err != nil {
		return heap.Geometry{}, fmt.Errorf("region-size: %w", err)
	}
	minHeap, err := humanize.ParseBytes(opts.minHeap)
	if err != nil {
		return heap.Geometry{}, fmt.Errorf("min-heap: %w", err)
	}
	maxHeap, err := humanize.ParseBytes(opts.maxHeap)
	if err != nil {
		return heap.Geometry{}, fmt.Errorf("max-heap: %w", err)
	}
	geom := heap.Geometry{
		RegionSize:   regionSize,
		MinHeapBytes: minHeap,
		MaxHeapBytes: maxHeap,
		HighWater:    opts.highWater,
	}
	return geom, geom.Validate()
}

func serveMetrics(reg *prometheus.Registry, addr string, logger *log.Logger) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 3 * time.Second}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics server: %w", err)
	}
	logger.Printf("metrics on http://%s/metrics", ln.Addr())
	go func() {
		if serr := srv.Serve(ln); serr != nil && serr != http.ErrServerClosed {
			logger.Printf("metrics server stopped: %v", serr)
		}
	}()
	return srv, nil
}

// runWorkload alternates allocation bursts with idle pauses. During a
// burst it allocates until occupancy forces expansion; during the pause
// the touched regions go idle, cross the uncommit delay and get
// returned to the OS, which is the whole point of the demo.
func runWorkload(ctx context.Context, hm *heap.HeapManager, geom heap.Geometry, burst, idle time.Duration, logger *log.Logger) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	var live []heap.RegionID

	for {
		burstEnd := time.Now().Add(burst)
		for time.Now().Before(burstEnd) {
			size := geom.RegionSize/16 + uint64(rng.Int63n(int64(geom.RegionSize/4)))
			id, _, err := hm.Allocate(size)
			if err != nil {
				logger.Printf("workload allocation stopped: %v", err)
				break
			}
			live = append(live, id)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Duration(rng.Int63n(int64(200 * time.Millisecond)))):
			}
		}

		// Drop most of what the burst touched so those regions can be
		// reclaimed while the workload sleeps.
		for _, id := range live {
			if rng.Float64() < 0.8 {
				_ = hm.ReclaimRegion(id)
			}
		}
		live = live[:0]
		logger.Printf("workload idle for %v (heap %s committed, %s used)",
			idle, humanize.IBytes(hm.CommittedBytes()), humanize.IBytes(hm.UsedBytes()))

		select {
		case <-ctx.Done():
			return
		case <-time.After(idle):
		}
	}
}
