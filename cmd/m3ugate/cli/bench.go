package cli

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
)

func newBenchCmd() *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:     "bench",
		Aliases: []string{"benchmark"},
		Short:   "Load-test admission against a running gateway",
		Long: `Hammer /playlist.m3u with one token from many simulated devices. Each worker
cycles through --identities distinct User-Agent strings, so the run exercises
first-time registration races as well as the known-device fast path.

Expect exactly max_devices identities to be admitted and the rest denied.`,
		Example: `  m3ugate bench --url http://localhost:3001 --token 3f1c... --identities 10
  m3ugate bench --url https://tv.example.net --token ... --concurrency 50 --duration 30s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := runBench(cmd.Context(), opts)
			if err != nil {
				return err
			}
			res.print(cmd.OutOrStdout(), opts)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.baseURL, "url", "http://localhost:3001", "Gateway base URL")
	cmd.Flags().StringVar(&opts.token, "token", "", "Subscriber token (required)")
	cmd.Flags().IntVar(&opts.identities, "identities", 10, "Number of distinct client identities")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 10, "Number of concurrent workers")
	cmd.Flags().DurationVar(&opts.duration, "duration", 10*time.Second, "Test duration")
	cmd.MarkFlagRequired("token")

	return cmd
}

type benchOptions struct {
	baseURL     string
	token       string
	identities  int
	concurrency int
	duration    time.Duration
}

type benchResult struct {
	allowed   int64
	denied    int64
	other     int64
	errors    int64
	admitted  map[string]bool // identities that were ever allowed
	latencies []time.Duration
	elapsed   time.Duration
}

func benchIdentity(i int) string {
	return fmt.Sprintf("m3ugate-bench/1.0 (device %d)", i)
}

func runBench(ctx context.Context, opts benchOptions) (*benchResult, error) {
	if opts.identities < 1 || opts.concurrency < 1 {
		return nil, fmt.Errorf("--identities and --concurrency must be at least 1")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	target := strings.TrimRight(opts.baseURL, "/") + "/playlist.m3u?token=" + url.QueryEscape(opts.token)

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        opts.concurrency,
			MaxIdleConnsPerHost: opts.concurrency,
		},
	}

	var (
		allowed, denied, other, errs atomic.Int64
		next                         atomic.Int64
		mu                           sync.Mutex
		latencies                    = make([]time.Duration, 0, 100000)
		admitted                     = make(map[string]bool)
		wg                           sync.WaitGroup
	)

	ctx, cancel := context.WithTimeout(ctx, opts.duration)
	defer cancel()
	start := time.Now()

	for w := 0; w < opts.concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				identity := benchIdentity(int(next.Add(1)-1) % opts.identities)

				req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
				if err != nil {
					errs.Add(1)
					return
				}
				req.Header.Set("User-Agent", identity)

				t0 := time.Now()
				resp, err := client.Do(req)
				elapsed := time.Since(t0)
				if err != nil {
					if ctx.Err() == nil {
						errs.Add(1)
					}
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				switch resp.StatusCode {
				case http.StatusOK:
					allowed.Add(1)
				case http.StatusForbidden:
					denied.Add(1)
				default:
					other.Add(1)
				}

				mu.Lock()
				latencies = append(latencies, elapsed)
				if resp.StatusCode == http.StatusOK {
					admitted[identity] = true
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	return &benchResult{
		allowed:   allowed.Load(),
		denied:    denied.Load(),
		other:     other.Load(),
		errors:    errs.Load(),
		admitted:  admitted,
		latencies: latencies,
		elapsed:   time.Since(start),
	}, nil
}

// percentile returns the p-th percentile of sorted latencies.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func (r *benchResult) print(w io.Writer, opts benchOptions) {
	total := r.allowed + r.denied + r.other
	fmt.Fprintln(w, "m3ugate admission benchmark")
	fmt.Fprintln(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Fprintf(w, "Target: %s\n", strings.TrimRight(opts.baseURL, "/")+"/playlist.m3u")
	fmt.Fprintf(w, "Duration: %s | Concurrency: %d | Identities: %d\n", opts.duration, opts.concurrency, opts.identities)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Results")
	fmt.Fprintln(w, "-------")
	fmt.Fprintf(w, "  Requests:       %d\n", total)
	fmt.Fprintf(w, "  Allowed (200):  %d\n", r.allowed)
	fmt.Fprintf(w, "  Denied (403):   %d\n", r.denied)
	fmt.Fprintf(w, "  Other status:   %d\n", r.other)
	fmt.Fprintf(w, "  Errors:         %d\n", r.errors)
	fmt.Fprintf(w, "  Admitted identities: %d of %d\n", len(r.admitted), opts.identities)
	if r.elapsed > 0 {
		fmt.Fprintf(w, "  RPS:            %.1f\n", float64(total)/r.elapsed.Seconds())
	}

	if len(r.latencies) > 0 {
		fmt.Fprintf(w, "  Latency p50:    %s\n", percentile(r.latencies, 50))
		fmt.Fprintf(w, "  Latency p95:    %s\n", percentile(r.latencies, 95))
		fmt.Fprintf(w, "  Latency p99:    %s\n", percentile(r.latencies, 99))
		fmt.Fprintf(w, "  Latency max:    %s\n", r.latencies[len(r.latencies)-1])
	}
}
