package indexer

import (
	"fmt"

	"github.com/valyala/fasthttp"
)

// HealthServer is the indexer's status surface: is_healthy is an exposed
// metric, which implies something reads it.
type HealthServer struct {
	metrics *Metrics
	service *Service
}

// NewHealthServer builds a status server reporting metrics and service's
// current state.
func NewHealthServer(metrics *Metrics, service *Service) *HealthServer {
	return &HealthServer{metrics: metrics, service: service}
}

func (h *HealthServer) handler(ctx *fasthttp.RequestCtx) {
	if string(ctx.Path()) != "/healthz" {
		ctx.SetStatusCode(fasthttp.StatusNotFound)
		return
	}
	batches, ticks, healthy := h.metrics.Snapshot()
	ctx.SetContentType("text/plain; charset=utf-8")
	if !healthy {
		ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
	} else {
		ctx.SetStatusCode(fasthttp.StatusOK)
	}
	fmt.Fprintf(ctx, "state=%s healthy=%t batches_processed=%d ticks_processed=%d\n",
		h.service.State(), healthy, batches, ticks)
}

// ListenAndServe blocks serving the status endpoint at addr.
func (h *HealthServer) ListenAndServe(addr string) error {
	return fasthttp.ListenAndServe(addr, h.handler)
}
