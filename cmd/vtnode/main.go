// Command vtnode runs a single rank of a vtrt job as its own OS process,
// communicating with its peers over transport/rpc.
//
// Configuration (internal/config, all environment variables):
//
//	VT_NODE_ID       this process's rank, 0-based (default 0)
//	VT_NUM_NODES     fixed job size N (default 1)
//	VT_LISTEN_ADDR   address this node's transport server binds (default ":9100")
//	VT_PEERS         "node=addr" pairs, comma separated, one per peer
//	VT_HOP_CAP       location-forward hop cap override (0 = computed default)
//	VT_METRICS_ADDR  if set, serves Prometheus metrics on this address
//	VT_DEBUG_*       per-subsystem trace flags, see internal/config
//
// Example:
//
//	VT_NODE_ID=0 VT_NUM_NODES=3 VT_LISTEN_ADDR=:9100 \
//	  VT_PEERS="0=127.0.0.1:9100,1=127.0.0.1:9101,2=127.0.0.1:9102" \
//	  ./vtnode
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dreamware/vtrt/internal/config"
	"github.com/dreamware/vtrt/internal/rt"
	"github.com/dreamware/vtrt/internal/rtlog"
	"github.com/dreamware/vtrt/internal/runtime"
	"github.com/dreamware/vtrt/internal/telemetry"
	"github.com/dreamware/vtrt/internal/transport/rpc"
)

// parsePeers decodes VT_PEERS's "node=addr,node=addr" form into the map
// transport/rpc.New wants.
func parsePeers(raw string) map[rt.NodeType]string {
	addrs := make(map[rt.NodeType]string)
	if raw == "" {
		return addrs
	}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(k))
		if err != nil {
			continue
		}
		addrs[rt.NodeType(n)] = strings.TrimSpace(v)
	}
	return addrs
}

func main() {
	cfg := config.MustLoad()
	config.Seed(cfg)

	this := rt.NodeType(cfg.NodeID)
	log := rtlog.For(this, "vtnode")

	if cfg.MetricsAddr != "" {
		telemetry.Enable()
	}
	metrics := telemetry.New()

	tr, err := rpc.New(this, cfg.NumNodes, cfg.ListenAddr, parsePeers(cfg.Peers))
	if err != nil {
		log.Fatalf("transport: %v", err)
	}

	node := runtime.New(this, cfg.NumNodes, cfg.HopCap, tr, metrics)
	log.Infof("vtnode listening on %s (%d peers)", cfg.ListenAddr, cfg.NumNodes-1)

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			log.Infof("metrics listening on %s", cfg.MetricsAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("metrics server: %v", err)
			}
		}()
	}

	// Drive this node's scheduler in the background until Stop is called:
	// every action the rest of the process runs (member handlers, RDMA
	// callbacks, epoch advancement) happens on this goroutine.
	done := make(chan struct{})
	go func() {
		node.Scheduler.RunUntil(node.Scheduler.Done)
		close(done)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Info("vtnode shutting down")
	node.Scheduler.Stop()
	<-done

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(ctx); err != nil {
			log.Errorf("metrics server shutdown: %v", err)
		}
	}
	if err := tr.Close(); err != nil {
		log.Errorf("transport close: %v", err)
	}
	log.Info("vtnode stopped")
}
