// Command mudis-server runs a standalone mudis cache behind the optional
// IPC wire protocol, with pprof and Prometheus endpoints available via
// flags.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kiebor81/mudis"
	pmet "github.com/kiebor81/mudis/ipcserver"
	"github.com/kiebor81/mudis/metrics/prom"
)

func main() {
	var (
		maxBytes     = flag.Int64("max-bytes", 1<<30, "soft memory cap in bytes")
		hardLimit    = flag.Bool("hard-memory-limit", false, "reject writes exceeding max-bytes instead of evicting")
		shards       = flag.Int("shards", 0, "shard count (0 = default/MUDIS_BUCKETS)")
		compress     = flag.Bool("compress", false, "deflate payloads")
		serializer   = flag.String("serializer", "json", "json | binary | fast-json")
		sweep        = flag.Duration("sweep-interval", 30*time.Second, "TTL sweep period (0 disables)")
		persist      = flag.Bool("persist", false, "enable snapshot persistence")
		persistPath  = flag.String("persist-path", "mudis_data", "snapshot file path")
		unixSocket   = flag.String("unix-socket", "", "UNIX socket path (empty = platform default)")
		tcpAddr      = flag.String("tcp-addr", "", "TCP listen address (empty = platform default)")
		pprofAddr    = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr  = flag.String("http", "", "serve Prometheus metrics at addr (e.g. :8080); empty = disabled")
	)
	flag.Parse()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if *pprofAddr != "" {
		go func() {
			logger.Info("pprof listening", zap.String("addr", *pprofAddr))
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	cfg := mudis.DefaultConfig()
	cfg.MaxBytes = *maxBytes
	cfg.HardMemoryLimit = *hardLimit
	cfg.Compress = *compress
	cfg.Serializer = mudis.Serializer(*serializer)
	cfg.SweepInterval = sweep
	cfg.PersistenceEnabled = *persist
	cfg.PersistencePath = *persistPath
	cfg.Logger = logger
	if *shards > 0 {
		cfg.ShardCount = *shards
	}

	if *metricsAddr != "" {
		adapter := prom.New(nil, "mudis", "", nil)
		cfg.MetricsSink = adapter
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info("prometheus metrics listening", zap.String("addr", *metricsAddr))
			log.Println(http.ListenAndServe(*metricsAddr, nil))
		}()
	}

	cache, err := mudis.New(cfg)
	if err != nil {
		logger.Fatal("mudis: invalid configuration", zap.Error(err))
	}
	defer cache.Close()

	var opts []pmet.Option
	if *unixSocket != "" {
		opts = append(opts, pmet.WithUnixSocket(*unixSocket))
	}
	if *tcpAddr != "" {
		opts = append(opts, pmet.WithTCPAddr(*tcpAddr))
	}
	opts = append(opts, pmet.WithLogger(logger))

	srv := pmet.New(cache, opts...)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("mudis-server starting")
	if err := srv.ListenAndServe(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal("ipcserver exited", zap.Error(err))
	}
	logger.Info("mudis-server stopped")
}
