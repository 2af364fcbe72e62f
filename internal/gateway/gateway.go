// Package gateway is the single entry point for platform operations: it rate
// limits per principal, dispatches to the owning component, runs multi-step
// flows transactionally, and wraps every result in the protocol header.
package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tritex/config"
	"tritex/internal/ai"
	"tritex/internal/apperr"
	"tritex/internal/dex"
	"tritex/internal/events"
	"tritex/internal/executor"
	"tritex/internal/keyvault"
	"tritex/internal/store"
	"tritex/internal/venue"
)

// Version is the protocol version stamped onto every response header.
const Version = "1.0"

// Header is the CTP-T envelope every gateway response carries.
type Header struct {
	Protocol string `json:"protocol"`
	Version  string `json:"version"`
	Trit     string `json:"trit"`
	Engine   string `json:"engine"`
}

// Response wraps a gateway result with its protocol header.
type Response struct {
	CTP    Header      `json:"ctp"`
	Result interface{} `json:"result"`
}

func wrap(result interface{}) *Response {
	return &Response{
		CTP: Header{
			Protocol: "CTP-T",
			Version:  Version,
			Trit:     "△○▽",
			Engine:   "tritex",
		},
		Result: result,
	}
}

// Gateway owns the process-wide trading state: the DEX engine, the event
// ring, the rate buckets, the scheduler, and the wiring between them.
type Gateway struct {
	cfg      *config.Config
	store    *store.Store
	engine   *dex.Engine
	ai       *ai.Engine
	executor *executor.Executor
	vault    *keyvault.Vault
	bus      *events.Bus
	logger   zerolog.Logger
	started  time.Time

	// public market-data clients, no credentials attached
	market map[venue.Name]venue.Client

	scheduler *Scheduler

	limitMu  sync.RWMutex
	limiters map[string]*rate.Limiter

	poolMu    sync.Mutex
	poolLocks map[string]*sync.Mutex
}

// New wires the gateway and its scheduler.
func New(cfg *config.Config, st *store.Store, engine *dex.Engine, aiEngine *ai.Engine,
	ex *executor.Executor, vault *keyvault.Vault, bus *events.Bus,
	market map[venue.Name]venue.Client, logger zerolog.Logger) *Gateway {

	g := &Gateway{
		cfg:       cfg,
		store:     st,
		engine:    engine,
		ai:        aiEngine,
		executor:  ex,
		vault:     vault,
		bus:       bus,
		logger:    logger.With().Str("component", "gateway").Logger(),
		started:   time.Now(),
		market:    market,
		limiters:  make(map[string]*rate.Limiter),
		poolLocks: make(map[string]*sync.Mutex),
	}
	g.scheduler = newScheduler(g, logger)
	return g
}

// lockPool serializes mutations on one pool so a failing operation's
// rollback cannot erase a concurrently committed one. The returned func
// releases the lock.
func (g *Gateway) lockPool(poolID string) func() {
	g.poolMu.Lock()
	l, ok := g.poolLocks[poolID]
	if !ok {
		l = &sync.Mutex{}
		g.poolLocks[poolID] = l
	}
	g.poolMu.Unlock()
	l.Lock()
	return l.Unlock
}

// Bus exposes the event bus for the transport layer.
func (g *Gateway) Bus() *events.Bus { return g.bus }

// Engine exposes the DEX engine for the transport layer's read paths.
func (g *Gateway) Engine() *dex.Engine { return g.engine }

// Scheduler exposes the auto-trade scheduler for boot and shutdown wiring.
func (g *Gateway) Scheduler() *Scheduler { return g.scheduler }

// Params carries an operation's arguments. Values arrive from decoded JSON,
// so numbers are float64.
type Params map[string]interface{}

func (p Params) str(key string) string {
	v, _ := p[key].(string)
	return v
}

func (p Params) num(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return 0
	}
}

func (p Params) count(key string, fallback int) int {
	if n := int(p.num(key)); n > 0 {
		return n
	}
	return fallback
}

// Route is the single operation entry: rate limit, dispatch, wrap.
func (g *Gateway) Route(ctx context.Context, principal, service, action string, params Params) (*Response, error) {
	if !g.allow(principal) {
		return nil, apperr.New(apperr.KindRateLimited, "rate limit exceeded, retry later")
	}

	var (
		result interface{}
		err    error
	)
	switch service {
	case "dex":
		result, err = g.routeDex(ctx, principal, action, params)
	case "ai":
		result, err = g.routeAI(ctx, principal, action, params)
	case "exchange":
		result, err = g.routeExchange(ctx, principal, action, params)
	case "auto":
		result, err = g.routeAuto(ctx, principal, action, params)
	default:
		return nil, apperr.New(apperr.KindBadInput, "unknown service %q", service)
	}
	if err != nil {
		return nil, err
	}
	return wrap(result), nil
}

// allow consumes one token from the principal's bucket. Anonymous callers
// share one bucket.
func (g *Gateway) allow(principal string) bool {
	g.limitMu.RLock()
	limiter, ok := g.limiters[principal]
	g.limitMu.RUnlock()
	if !ok {
		g.limitMu.Lock()
		limiter, ok = g.limiters[principal]
		if !ok {
			every := g.cfg.RateLimit.Window / time.Duration(g.cfg.RateLimit.Requests)
			limiter = rate.NewLimiter(rate.Every(every), g.cfg.RateLimit.Requests)
			g.limiters[principal] = limiter
		}
		g.limitMu.Unlock()
	}
	return limiter.Allow()
}

// Status summarizes the gateway for the public health endpoint.
type Status struct {
	Uptime       string `json:"uptime"`
	Pools        int    `json:"pools"`
	OpenOrders   int    `json:"openOrders"`
	AutoTraders  int    `json:"autoTraders"`
	EventLogSize int    `json:"eventLogSize"`
	StoreHealthy bool   `json:"storeHealthy"`
}

// Status reports a summary of the running gateway.
func (g *Gateway) Status(ctx context.Context) *Status {
	open := 0
	for _, p := range g.engine.Pools() {
		open += len(g.engine.OpenOrders(p.ID))
	}
	healthy := true
	if _, err := g.store.ListEnabledAutoConfigs(ctx); err != nil {
		healthy = false
	}
	return &Status{
		Uptime:       time.Since(g.started).Round(time.Second).String(),
		Pools:        len(g.engine.Pools()),
		OpenOrders:   open,
		AutoTraders:  g.scheduler.Count(),
		EventLogSize: g.bus.Size(),
		StoreHealthy: healthy,
	}
}

// FlushPools persists every pool; called on graceful shutdown and after DEX
// mutations.
func (g *Gateway) FlushPools(ctx context.Context) error {
	for _, p := range g.engine.Pools() {
		if err := g.store.SavePool(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
