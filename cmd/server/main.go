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

	"github.com/docopt/docopt-go"
	"github.com/golang/glog"
	"github.com/kevinxiao27/egdoc/internal/config"
	"github.com/kevinxiao27/egdoc/internal/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const ServerVersion = "0.1.0"

func main() {
	usage := `Document relay server.

Settings not given as options come from EGDOC_ADDR, EGDOC_STORE_PATH,
EGDOC_STORE_IN_MEMORY, EGDOC_SYNC_WRITES and EGDOC_ACTOR.

Usage:
    server [--addr=<addr>] [--store=<path>] [--memory] [--v=<level>]
    server -h | --help
    server --version

Options:
    -h --help         Show this screen.
    --version         Show version.
    --addr=<addr>     Listen address.
    --store=<path>    Change store directory.
    --memory          Keep changes in memory only.
    --v=<level>       Log verbosity [default: 0].`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], ServerVersion)
	if err != nil {
		panic(err)
	}

	level, _ := opts.String("--v")
	flag.Set("logtostderr", "true")
	flag.Set("v", level)
	flag.CommandLine.Parse(nil)
	defer glog.Flush()

	cfg, err := config.Load()
	if err != nil {
		glog.Exitf("config: %v", err)
	}
	if addr, _ := opts.String("--addr"); addr != "" {
		cfg.Addr = addr
	}
	if path, _ := opts.String("--store"); path != "" {
		cfg.StorePath = path
	}
	if memory, _ := opts.Bool("--memory"); memory {
		cfg.StoreInMemory = true
	}

	if err := run(cfg); err != nil {
		glog.Exitf("%v", err)
	}
}

func run(cfg config.Config) error {
	actor, err := cfg.ActorId()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Store())
	if err != nil {
		return err
	}
	defer st.Close()

	server := NewServer(st, actor)
	r := server.Router()
	r.Handle("/metrics", promhttp.Handler())
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		glog.Infof("[server]listening on %s as %s", cfg.Addr, actor)
		fmt.Printf("WebSocket API: ws://%s/ws?doc=<id>\n", cfg.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		glog.Infof("[server]shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
