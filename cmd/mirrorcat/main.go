// Command mirrorcat copies stdin to stdout through a mirrored ring buffer.
//
//	mirrorcat -size 65536 -backend devshm -admin :20000 < in > out
//
// With -admin set it serves /metrics, /live and /ready on that address.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/shm-mirror/internal/logging"
	"github.com/srediag/shm-mirror/pkg/health"
	"github.com/srediag/shm-mirror/pkg/shm"
	"github.com/srediag/shm-mirror/pkg/transport"
)

var logger = logging.New("mirrorcat", os.Stderr)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "mirrorcat:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		size    = flag.Int("size", 1<<20, "mirror capacity in bytes, a power of two of at least one page")
		backend = flag.String("backend", "auto", "shared memory backend: auto, memfd or devshm")
		admin   = flag.String("admin", "", "admin listen address for metrics and health; empty disables")
	)
	flag.Parse()

	b, err := shm.ParseBackend(*backend)
	if err != nil {
		return err
	}
	cfg := shm.DefaultConfig()
	cfg.Size = *size
	cfg.Backend = b
	if err := shm.VerifyConfig(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := shm.NewPool(shm.PoolConfig{Mirror: cfg, MaxIdle: 1, Workers: 1})
	if err != nil {
		return err
	}
	defer pool.Close()

	if *admin != "" {
		srv, err := serveAdmin(*admin, pool)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	m, err := pool.Get(ctx)
	if err != nil {
		return err
	}
	defer pool.Put(m)

	p := &transport.Pump{Src: os.Stdin, Dst: os.Stdout, Mirror: m}
	n, err := p.Run(ctx)
	logger.Infof("copied %d bytes through %d byte %s mirror", n, m.Cap(), m.Backend())
	return err
}

func serveAdmin(addr string, pool *shm.Pool) (*http.Server, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := shm.RegisterMetrics(reg); err != nil {
		return nil, err
	}
	hc := health.NewHandler(health.NamedPool{Name: "mirrorcat", Pool: pool})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/live", hc.LiveEndpoint)
	mux.HandleFunc("/ready", hc.ReadyEndpoint)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("admin server: %v", err)
		}
	}()
	logger.Infof("admin listening on %s", addr)
	return srv, nil
}
