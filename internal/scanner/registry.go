package scanner

import (
	"fmt"
	"sync"
	"time"

	"github.com/dmitriimaksimovdevelop/hostaudit/internal/model"
	"github.com/dmitriimaksimovdevelop/hostaudit/internal/scanctx"
)

// Registry holds the ordered set of registered scanners and runs them
// against a ScanContext, either sequentially or over a bounded worker
// pool (§4.G, §9).
type Registry struct {
	scanners []Scanner
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends a scanner, preserving registration order. The same
// order governs Report.Results() and the sequential run path. A scanner
// whose name duplicates an already-registered one is rejected (§4.G).
func (r *Registry) Register(s Scanner) error {
	for _, existing := range r.scanners {
		if existing.Name() == s.Name() {
			return fmt.Errorf("scanner %q already registered", s.Name())
		}
	}
	r.scanners = append(r.scanners, s)
	return nil
}

// Names returns every registered scanner's name, in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.scanners))
	for i, s := range r.scanners {
		out[i] = s.Name()
	}
	return out
}

// active filters the registry's scanners by cfg's enable/disable lists,
// preserving registration order.
func (r *Registry) active(sc *scanctx.ScanContext) []Scanner {
	out := make([]Scanner, 0, len(r.scanners))
	for _, s := range r.scanners {
		if sc.Config.ScannerEnabled(s.Name()) {
			out = append(out, s)
		}
	}
	return out
}

// Run executes every enabled scanner against sc, sequentially or over a
// bounded worker pool per cfg.Parallel/cfg.ParallelMaxThreads. Every
// registered-and-enabled scanner reaches exactly one terminal state:
// its own findings, or a single operational_error Finding if it panics
// or returns an error (§4.G, §7, §9).
func (r *Registry) Run(sc *scanctx.ScanContext) {
	active := r.active(sc)
	for _, s := range active {
		sc.Report.RegisterScanner(s.Name())
	}

	if !sc.Config.Parallel || len(active) <= 1 {
		for _, s := range active {
			runOne(sc, s)
		}
		return
	}

	maxThreads := sc.Config.ParallelMaxThreads
	if maxThreads <= 0 {
		maxThreads = 4
	}
	if maxThreads > len(active) {
		maxThreads = len(active)
	}

	sem := make(chan struct{}, maxThreads)
	var wg sync.WaitGroup
	for _, s := range active {
		wg.Add(1)
		sem <- struct{}{}
		go func(s Scanner) {
			defer wg.Done()
			defer func() { <-sem }()
			runOne(sc, s)
		}(s)
	}
	wg.Wait()
}

// runOne invokes a single scanner, converting a panic or a returned
// error into the registry's one mandated operational_error Finding
// (§4.G, §7). It never lets a scanner failure propagate to the caller.
func runOne(sc *scanctx.ScanContext, s Scanner) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			sc.Report.AddFinding(s.Name(), model.OperationalErrorFinding(s.Name(), fmt.Errorf("panic: %v", rec)))
		}
		if sc.Config.Timings {
			sc.Report.SetScanDuration(s.Name(), start, time.Now())
		}
	}()

	if err := s.Scan(sc); err != nil {
		sc.Report.AddFinding(s.Name(), model.OperationalErrorFinding(s.Name(), err))
	}
}
