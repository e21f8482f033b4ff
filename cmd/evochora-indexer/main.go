// Command evochora-indexer runs one indexer pipeline against a consumer
// group on the topic broker, flushing decoded rows into an embedded query
// store, and serves /healthz plus Prometheus metrics over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/evochora/evochora-sub010/config"
	"github.com/evochora/evochora-sub010/indexer"
	"github.com/evochora/evochora-sub010/querystore"
	"github.com/evochora/evochora-sub010/storage"
	"github.com/evochora/evochora-sub010/topic"
	"github.com/evochora/evochora-sub010/wire"
)

func main() {
	runID := flag.String("run-id", "", "simulation run id to index")
	consumerGroup := flag.String("consumer-group", "indexer", "topic consumer group name")
	flavor := flag.String("flavor", "environment", "indexer flavor: environment or organism")
	queryStorePath := flag.String("query-store", "", "buntdb path (':memory:' for non-persistent)")
	httpAddr := flag.String("http-addr", ":9090", "address for /healthz (/metrics is served on :9091)")
	flag.Parse()

	if *runID == "" {
		glog.Exit("-run-id is required")
	}
	if *queryStorePath == "" {
		glog.Exit("-query-store is required")
	}

	cfg, err := config.Load()
	if err != nil {
		glog.Exitf("config: %v", err)
	}
	config.Set(cfg)

	res := storage.NewFSBackend(cfg.StorageRoot)
	broker := topic.NewMemory(cfg.Topic.ClaimTimeout)
	defer broker.Close()

	store, err := querystore.Open(*queryStorePath)
	if err != nil {
		glog.Exitf("query store: %v", err)
	}
	defer store.Close()

	filter := wire.Filter{SkipOrganisms: true}
	if *flavor == "organism" {
		filter = wire.Filter{SkipCells: true}
	}

	svc := indexer.NewService(indexer.Config{
		RunID:         *runID,
		ConsumerGroup: *consumerGroup,
		Storage:       res,
		Broker:        broker,
		Store:         store,
		Filter:        filter,
		Metadata: func(ctx context.Context) (storage.RunMetadata, bool, error) {
			meta, err := storage.ReadRunMetadata(ctx, res, *runID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					return storage.RunMetadata{}, false, nil
				}
				return storage.RunMetadata{}, false, err
			}
			return meta, true, nil
		},
	})

	health := indexer.NewHealthServer(svc.Metrics(), svc)
	go func() {
		if err := health.ListenAndServe(*httpAddr); err != nil {
			glog.Errorf("health server: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(svc.Metrics().Registry(), promhttp.HandlerOpts{}))
	metricsAddr := ":9091"
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			glog.Errorf("metrics server: %v", err)
		}
	}()

	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go func() {
		<-sigCtx.Done()
		svc.Stop()
	}()

	// Run is driven by Stop()'s own drain, not by context cancellation, so
	// a signal always gets the graceful flush-and-ack path rather than
	// racing the select in Run between stopCh and ctx.Done().
	if err := svc.Run(context.Background()); err != nil {
		glog.Exitf("indexer: %v", err)
	}
}
