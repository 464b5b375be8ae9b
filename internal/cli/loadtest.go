package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/internal/config"
	"github.com/tokutei-learning/tokutei/session"
)

type loadtestOptions struct {
	snapshots   int
	concurrency int
	ops         int
	prefix      string
}

func newLoadtestCmd(e *env) *cobra.Command {
	o := loadtestOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Measure snapshot save and restore throughput against Redis",
		Long: "Seeds snapshots into Redis and then runs concurrent restore and save phases.\n" +
			"Without --redis an embedded Redis is used.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.snapshots <= 0 || o.concurrency <= 0 || o.ops <= 0 {
				return errors.New("snapshots, concurrency and ops must be > 0")
			}
			cfg := *e.cfg
			if cfg.RedisAddr == "" {
				cfg.RedisAddr = config.RedisMemory
			}
			var cl closers
			defer cl.close()
			rdb, err := openRedis(&cfg, e.logger, &cl)
			if err != nil {
				return err
			}
			p := session.NewRedisPersister(rdb, o.prefix, time.Hour, false)
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), p, o)
		},
	}
	cmd.Flags().IntVar(&o.snapshots, "snapshots", 10000, "number of client snapshots to seed")
	cmd.Flags().IntVar(&o.concurrency, "concurrency", 64, "number of concurrent workers")
	cmd.Flags().IntVar(&o.ops, "ops", 50000, "operations per phase")
	cmd.Flags().StringVar(&o.prefix, "prefix", "tokutei:loadtest", "snapshot key prefix")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, p session.Persister, o loadtestOptions) error {
	fmt.Fprintf(out, "seeding %d snapshots...\n", o.snapshots)
	start := time.Now()
	for i := 0; i < o.snapshots; i++ {
		if err := p.Save(ctx, clientFor(i), buildSnapshot(i, 0)); err != nil {
			return fmt.Errorf("seed snapshot: %w", err)
		}
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(start).Round(time.Millisecond))

	restore := runPhase(o, func(_ int, i int) error {
		snap, err := p.Load(ctx, clientFor(i))
		if err != nil {
			return err
		}
		if snap.User == nil || snap.User.ID != userFor(i) {
			return fmt.Errorf("snapshot %d: wrong user", i)
		}
		return nil
	})
	save := runPhase(o, func(op int, i int) error {
		return p.Save(ctx, clientFor(i), buildSnapshot(i, op))
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "restore", restore)
	printStats(out, "save", save)
	return nil
}

// runPhase runs o.ops calls of fn on random snapshots over o.concurrency
// workers.
func runPhase(o loadtestOptions, fn func(op, idx int) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, o.ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < o.concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				op := int(cursor.Add(1)) - 1
				if op >= o.ops {
					return
				}
				t0 := time.Now()
				err := fn(op, r.Intn(o.snapshots))
				d := time.Since(t0)
				if err != nil {
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total, failures: failures}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(w io.Writer, name string, s phaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func clientFor(i int) string { return fmt.Sprintf("client-%d", i) }
func userFor(i int) string   { return fmt.Sprintf("user-%d", i) }

func buildSnapshot(i, version int) *session.Snapshot {
	now := time.Now()
	confirmed := now.Add(-time.Hour)
	return &session.Snapshot{
		User: &backend.User{
			ID:               userFor(i),
			Email:            fmt.Sprintf("user%d@example.com", i),
			EmailConfirmedAt: &confirmed,
			CreatedAt:        confirmed,
		},
		Profile: &backend.Profile{
			ID:       userFor(i),
			Email:    fmt.Sprintf("user%d@example.com", i),
			FullName: fmt.Sprintf("学習者 %d-%d", i, version),
			Role:     backend.RoleStudent,
		},
		IsAuthenticated: true,
		AccessToken:     fmt.Sprintf("access-%d-%d", i, version),
		RefreshToken:    fmt.Sprintf("refresh-%d-%d", i, version),
		ExpiresAt:       now.Add(time.Hour),
		SavedAt:         now,
	}
}
