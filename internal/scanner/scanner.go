// Package scanner drives the connector's own /proxy endpoint to discover
// Axis cameras across a CIDR range, classify them, and stream progress.
package scanner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/anava/connector/internal/classifier"
)

// Intensity is the caller-supplied concurrency hint.
type Intensity string

const (
	IntensityConservative Intensity = "conservative"
	IntensityBalanced     Intensity = "balanced"
	IntensityAggressive   Intensity = "aggressive"
)

const (
	minWorkers     = 1
	maxWorkers     = 30
	defaultWorkers = 20
)

// workerCount maps an intensity hint onto a worker bound, clamped to
// [minWorkers, maxWorkers].
func workerCount(intensity Intensity) int {
	switch intensity {
	case IntensityConservative:
		return 10
	case IntensityAggressive:
		return maxWorkers
	case IntensityBalanced, "":
		return defaultWorkers
	default:
		return defaultWorkers
	}
}

// probeProperties is the fixed VAPIX propertyList the scanner requests,
// including Version for firmware-floor classification.
var probeProperties = []string{"Brand", "ProdType", "ProdNbr", "ProdFullName", "SerialNumber", "Version"}

// Device is a discovered, classified camera.
type Device struct {
	IP string
	classifier.Device
}

// Progress is one emitted update for a running session.
type Progress struct {
	SessionID  string  `json:"sessionId"`
	ScannedIPs int     `json:"scannedIPs"`
	TotalIPs   int     `json:"totalIPs"`
	FoundCount int     `json:"foundCount"`
	LastIP     string  `json:"lastIp,omitempty"`
	State      string  `json:"state"`
	Device     *Device `json:"device,omitempty"`
}

const (
	stateScanning  = "scanning"
	stateComplete  = "complete"
	stateCancelled = "cancelled"
)

// progressEmitInterval is how often a probe-count triggers a progress event
// absent a state change (camera found).
const progressEmitInterval = 10

// Config configures one scan session.
type Config struct {
	CIDR      string
	Username  string
	Password  string
	Intensity Intensity
}

// Session is one running (or completed) scan.
type Session struct {
	ID         string
	ips        []string
	username   string
	password   string
	workers    int
	classifier *classifier.Classifier
	caller     ProxyCaller

	scanned   atomic.Int64
	found     atomic.Int64
	cancelled atomic.Bool

	mu      sync.Mutex
	devices []Device

	Progress chan Progress
}

// NewSession expands cfg.CIDR and builds a session ready to Run. The
// progress channel is buffered generously so a slow websocket consumer
// never blocks probe workers.
func NewSession(cfg Config, cls *classifier.Classifier, caller ProxyCaller) (*Session, error) {
	ips, err := ExpandCIDR(cfg.CIDR)
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:         uuid.NewString(),
		ips:        ips,
		username:   cfg.Username,
		password:   cfg.Password,
		workers:    workerCount(cfg.Intensity),
		classifier: cls,
		caller:     caller,
		Progress:   make(chan Progress, len(ips)+1),
	}, nil
}

// TotalIPs returns the number of scannable addresses in this session's CIDR.
func (s *Session) TotalIPs() int { return len(s.ips) }

// Cancel sets the cooperative cancel flag. In-flight probes are not
// aborted; the flag is only observed between probes.
func (s *Session) Cancel() { s.cancelled.Store(true) }

// probeResult is one worker's outcome, handed off to the single aggregator
// goroutine that owns the counters and the Progress channel.
type probeResult struct {
	ip    string
	props classifier.Properties
	ok    bool
}

// Run probes every IP with up to s.workers concurrent /proxy calls, bounded
// by a weighted semaphore, and closes Progress when done. Workers are
// launched in ascending IP order but complete in arbitrary order: callers
// MUST NOT assume result order matches IP order. Workers only probe and
// classify; a single aggregator goroutine is the sole writer of the
// scanned/found counters and the sole sender on Progress, so emitted counts
// are always monotonic even though up to s.workers probes run concurrently.
func (s *Session) Run(ctx context.Context) {
	defer close(s.Progress)

	if len(s.ips) == 0 {
		s.emit(Progress{SessionID: s.ID, TotalIPs: 0, State: stateComplete})
		return
	}

	results := make(chan probeResult, len(s.ips))
	aggregatorDone := make(chan struct{})
	go func() {
		defer close(aggregatorDone)
		s.aggregate(results)
	}()

	sem := semaphore.NewWeighted(int64(s.workers))
	var wg sync.WaitGroup

	for _, ip := range s.ips {
		if s.cancelled.Load() {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(ip string) {
			defer wg.Done()
			defer sem.Release(1)
			props, ok := Probe(ctx, s.caller, ip, s.username, s.password)
			results <- probeResult{ip: ip, props: props, ok: ok}
		}(ip)
	}

	wg.Wait()
	close(results)
	<-aggregatorDone

	if s.cancelled.Load() {
		s.emit(Progress{
			SessionID:  s.ID,
			ScannedIPs: int(s.scanned.Load()),
			TotalIPs:   len(s.ips),
			FoundCount: int(s.found.Load()),
			State:      stateCancelled,
		})
		return
	}

	s.emit(Progress{
		SessionID:  s.ID,
		ScannedIPs: len(s.ips),
		TotalIPs:   len(s.ips),
		FoundCount: int(s.found.Load()),
		State:      stateComplete,
	})
}

// aggregate is the single consumer of worker results: it classifies each
// probe, updates the scanned/found counters, and emits progress — all
// serialized on this one goroutine, so ScannedIPs and FoundCount are
// strictly non-decreasing across emitted events regardless of which worker
// finishes first.
func (s *Session) aggregate(results <-chan probeResult) {
	for r := range results {
		scanned := s.scanned.Add(1)
		var dev *Device
		stateChanged := false

		if r.ok {
			classified := s.classifier.Classify(r.props)
			if classified.Kind == classifier.KindCamera {
				d := Device{IP: r.ip, Device: classified}
				s.mu.Lock()
				s.devices = append(s.devices, d)
				s.mu.Unlock()
				s.found.Add(1)
				dev = &d
				stateChanged = true
			}
		}

		if stateChanged || scanned%progressEmitInterval == 0 {
			s.emit(Progress{
				SessionID:  s.ID,
				ScannedIPs: int(scanned),
				TotalIPs:   len(s.ips),
				FoundCount: int(s.found.Load()),
				LastIP:     r.ip,
				State:      stateScanning,
				Device:     dev,
			})
		}
	}
}

// Devices returns the cameras discovered so far (safe to call while Run is
// still in progress).
func (s *Session) Devices() []Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out
}

func (s *Session) emit(p Progress) {
	select {
	case s.Progress <- p:
	case <-time.After(5 * time.Second):
		// a stalled consumer must not wedge the worker pool forever
	}
}
