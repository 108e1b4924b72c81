// Package health implements the /health, /health/scanner, and /metrics
// surface (spec.md §4.8), gated to loopback access the same way the
// dashboard is. Grounded on the teacher's
// internal/adapter/inbound/http/{health.go,metrics.go}.
package health

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ewmaAlpha weights the most recent scan latency sample against the
// running average (spec.md §4.8's "EWMA latency").
const ewmaAlpha = 0.2

// auditDepthGauge is the narrow slice of *service.AuditService this
// package needs for queue_depth reporting, avoiding an import cycle on the
// concrete audit store implementation.
type auditDepthGauge interface {
	ChannelDepth() int
	ChannelCapacity() int
}

// Checker tracks proxy readiness and scan-latency metrics for the health
// endpoints. It is safe for concurrent use: Observe is called from every
// request's hot path.
type Checker struct {
	ready          atomic.Bool
	scannerMode    string
	deploymentMode string
	connectionPool int
	syncThreshold  atomic.Int64
	avgScanMsBits  atomic.Uint64
	audit          auditDepthGauge
	metrics        *Metrics
	registry       *prometheus.Registry
	startedAt      time.Time
}

// NewChecker creates a Checker with its own Prometheus registry. scannerMode
// is "full" or "lite" (config.ScannerConfig.Mode); connectionPool is the
// upstream pool size from dispatch.go's newUpstreamClient.
func NewChecker(scannerMode, deploymentMode string, connectionPool int, audit auditDepthGauge) *Checker {
	reg := prometheus.NewRegistry()
	return &Checker{
		scannerMode:    scannerMode,
		deploymentMode: deploymentMode,
		connectionPool: connectionPool,
		audit:          audit,
		metrics:        NewMetrics(reg),
		registry:       reg,
		startedAt:      time.Now(),
	}
}

// Metrics exposes the Prometheus metric set so the proxy handler can record
// per-request counters outside the health package.
func (c *Checker) Metrics() *Metrics {
	return c.metrics
}

// SetReady marks the proxy ready to serve traffic: regex compiled, NLP
// loaded if full mode, calibration complete (spec.md §4.8).
func (c *Checker) SetReady(syncThreshold int) {
	c.syncThreshold.Store(int64(syncThreshold))
	c.ready.Store(true)
}

// Observe records one scan's wall-clock duration into the EWMA average and
// into the Prometheus histogram.
func (c *Checker) Observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	c.metrics.ScanDuration.Observe(ms / 1000)

	for {
		old := c.avgScanMsBits.Load()
		oldMs := math.Float64frombits(old)
		var next float64
		if oldMs == 0 {
			next = ms
		} else {
			next = ewmaAlpha*ms + (1-ewmaAlpha)*oldMs
		}
		if c.avgScanMsBits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

func (c *Checker) avgScanMs() float64 {
	return math.Float64frombits(c.avgScanMsBits.Load())
}

// healthResponse is the JSON shape of GET /health (spec.md §4.8).
type healthResponse struct {
	Status             string  `json:"status"`
	Proxy              string  `json:"proxy"`
	Scanner            string  `json:"scanner"`
	ScannerMode        string  `json:"scanner_mode"`
	ConnectionPoolSize int     `json:"connection_pool_size"`
	AvgScanMs          float64 `json:"avg_scan_ms"`
	QueueDepth         int     `json:"queue_depth"`
	DeploymentMode     string  `json:"deployment_mode"`
}

// scannerHealthResponse is the JSON shape of GET /health/scanner.
type scannerHealthResponse struct {
	EntitySet     []string `json:"entity_set"`
	SyncThreshold int64    `json:"sync_threshold"`
	AvgScanMs     float64  `json:"avg_scan_ms"`
	ScannerMode   string   `json:"scanner_mode"`
	UptimeSeconds float64  `json:"uptime_seconds"`
}

// entitySet lists the NLP entity classes the scanner recognizes (spec.md
// §4.3), reported regardless of scanner_mode so operators can see what
// Lite mode has disabled.
var entitySet = []string{"credit_card", "national_id", "email", "phone", "crypto_wallet"}

func (c *Checker) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if !c.ready.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(healthResponse{Status: "starting"})
		return
	}

	queueDepth := 0
	if c.audit != nil {
		queueDepth = c.audit.ChannelDepth()
	}

	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:             "ok",
		Proxy:              "ok",
		Scanner:            "ok",
		ScannerMode:        c.scannerMode,
		ConnectionPoolSize: c.connectionPool,
		AvgScanMs:          c.avgScanMs(),
		QueueDepth:         queueDepth,
		DeploymentMode:     c.deploymentMode,
	})
}

func (c *Checker) handleScannerHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(scannerHealthResponse{
		EntitySet:     entitySet,
		SyncThreshold: c.syncThreshold.Load(),
		AvgScanMs:     c.avgScanMs(),
		ScannerMode:   c.scannerMode,
		UptimeSeconds: time.Since(c.startedAt).Seconds(),
	})
}

// isLocalhost mirrors the admin package's loopback check: X-Forwarded-For
// is intentionally not trusted.
func isLocalhost(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return host == "127.0.0.1" || host == "::1" || host == "localhost"
}

func loopbackOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !isLocalhost(r) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// Routes returns the health/metrics mux. /health is deliberately NOT
// loopback-gated: platform orchestrators and load balancers outside the
// host must be able to poll it. /health/scanner and /metrics disclose
// internal detail and are loopback-only, matching the dashboard's policy.
func (c *Checker) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", c.handleHealth)
	mux.HandleFunc("GET /health/scanner", loopbackOnly(c.handleScannerHealth))
	mux.HandleFunc("GET /metrics", loopbackOnly(promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}).ServeHTTP))
	return mux
}
