//go:build linux
// +build linux

package firewall

import (
	"bytes"
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cdaein/netfence/internal/clock"
	"github.com/cdaein/netfence/internal/logging"
	"github.com/cdaein/netfence/internal/metrics"
)

// Resolver is the lookup dependency of the synchronizer. The concrete
// implementation lives in internal/resolver; tests substitute a fake.
type Resolver interface {
	Lookup(ctx context.Context, domain string) ([]net.IP, error)
}

// DomainFailure records one domain that could not be resolved during a
// cycle.
type DomainFailure struct {
	Domain string `json:"domain"`
	Error  string `json:"error"`
}

// Report summarizes one synchronization cycle.
type Report struct {
	RunID     string          `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
	Domains   int             `json:"domains"`
	Resolved  int             `json:"resolved"`
	Failures  []DomainFailure `json:"failures,omitempty"`
	Addresses int             `json:"addresses"`
	Result    ApplyResult     `json:"-"`
}

// Synchronizer rebuilds the allow set from the registry contents.
// Resolution across domains runs on a bounded worker pool; results are
// aggregated under a mutex and applied as a single batch.
type Synchronizer struct {
	set      *AllowSet
	resolver Resolver
	workers  int
	ttl      time.Duration
	logger   *logging.Logger
}

// NewSynchronizer creates a synchronizer. workers bounds concurrent
// DNS lookups; ttl is the expiry stamped on every inserted address.
func NewSynchronizer(set *AllowSet, resolver Resolver, workers int, ttl time.Duration, logger *logging.Logger) *Synchronizer {
	if workers < 1 {
		workers = 1
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logging.New(logging.DefaultConfig())
	}
	return &Synchronizer{
		set:      set,
		resolver: resolver,
		workers:  workers,
		ttl:      ttl,
		logger:   logger,
	}
}

// Run resolves every domain and replaces the allow-set contents with
// the union of the results. A domain that fails to resolve is logged
// and skipped; only a failure to apply the batch makes the cycle fail.
func (s *Synchronizer) Run(ctx context.Context, domains []string) (*Report, error) {
	report := &Report{
		RunID:     uuid.New().String(),
		StartedAt: clock.Now(),
		Domains:   len(domains),
	}

	var (
		mu       sync.Mutex
		union    = make(map[string]net.IP)
		failures []DomainFailure
		resolved int
	)

	jobs := make(chan string)
	var wg sync.WaitGroup

	workers := s.workers
	if workers > len(domains) && len(domains) > 0 {
		workers = len(domains)
	}
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for domain := range jobs {
				ips, err := s.resolver.Lookup(ctx, domain)
				mu.Lock()
				if err != nil {
					failures = append(failures, DomainFailure{Domain: domain, Error: err.Error()})
					mu.Unlock()
					s.logger.Warn("Failed to resolve domain", "domain", domain, "error", err)
					metrics.Get().RecordDomainFailure(domain)
					continue
				}
				resolved++
				for _, ip := range ips {
					union[ip.String()] = ip
				}
				mu.Unlock()
			}
		}()
	}

	for _, d := range domains {
		jobs <- d
	}
	close(jobs)
	wg.Wait()

	// Stable ordering so repeated cycles produce identical batches.
	ips := make([]net.IP, 0, len(union))
	for _, ip := range union {
		ips = append(ips, ip)
	}
	sort.Slice(ips, func(a, b int) bool { return bytes.Compare(ips[a], ips[b]) < 0 })

	sort.Slice(failures, func(a, b int) bool { return failures[a].Domain < failures[b].Domain })
	report.Resolved = resolved
	report.Failures = failures
	report.Addresses = len(ips)

	err := s.set.Rebuild(ips, s.ttl)
	report.Duration = clock.Since(report.StartedAt)
	if err != nil {
		report.Result = ResultFailed
		metrics.Get().RecordSyncRun(ResultFailed.String(), report.Duration, report.Domains, 0)
		return report, err
	}

	report.Result = ResultApplied
	metrics.Get().RecordSyncRun(ResultApplied.String(), report.Duration, report.Domains, report.Addresses)

	s.logger.Info("Allow set synchronized",
		"run_id", report.RunID,
		"domains", report.Domains,
		"resolved", report.Resolved,
		"failed", len(report.Failures),
		"addresses", report.Addresses,
		"duration", report.Duration)
	return report, nil
}
