package main

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dreamware/raidbd/internal/bdev"
	"github.com/dreamware/raidbd/internal/config"
	"github.com/dreamware/raidbd/internal/raid"
)

type benchOptions struct {
	configPath string
	array      string
	threads    int
	ops        int
	readRatio  float64
	iops       int
	blocks     uint64
	depth      int
	seed       uint64
}

type benchResult struct {
	Reads   uint64
	Writes  uint64
	Failed  uint64
	Bytes   uint64
	Elapsed time.Duration
}

func (r benchResult) ops() uint64 {
	return r.Reads + r.Writes
}

func newBenchCommand() *cobra.Command {
	var opts benchOptions

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run a mixed read/write workload against one array",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchCommand(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}
	flags := cmd.Flags()
	addConfigFlag(flags, &opts.configPath)
	flags.StringVar(&opts.array, "array", "", "Array to run against (default: the first configured)")
	flags.IntVar(&opts.threads, "threads", 2, "I/O threads")
	flags.IntVar(&opts.ops, "ops", 10000, "Operations per thread")
	flags.Float64Var(&opts.readRatio, "read-ratio", 0.7, "Fraction of operations that are reads")
	flags.IntVar(&opts.iops, "iops", 0, "Total operation rate limit (0 for unlimited)")
	flags.Uint64Var(&opts.blocks, "blocks", 8, "Blocks per operation")
	flags.IntVar(&opts.depth, "depth", 32, "Operations in flight per thread")
	flags.Uint64Var(&opts.seed, "seed", 1, "Random seed for offsets and operation mix")
	return cmd
}

func (o benchOptions) validate() error {
	var result *multierror.Error
	if o.threads < 1 {
		result = multierror.Append(result, errors.New("--threads must be at least 1"))
	}
	if o.ops < 1 {
		result = multierror.Append(result, errors.New("--ops must be at least 1"))
	}
	if o.readRatio < 0 || o.readRatio > 1 {
		result = multierror.Append(result, errors.New("--read-ratio must be between 0 and 1"))
	}
	if o.iops < 0 {
		result = multierror.Append(result, errors.New("--iops must not be negative"))
	}
	if o.blocks < 1 {
		result = multierror.Append(result, errors.New("--blocks must be at least 1"))
	}
	if o.depth < 1 {
		result = multierror.Append(result, errors.New("--depth must be at least 1"))
	}
	return result.ErrorOrNil()
}

func runBenchCommand(ctx context.Context, out io.Writer, opts benchOptions) (err error) {
	if err := opts.validate(); err != nil {
		return err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.array == "" {
		opts.array = cfg.Arrays[0].Name
	}
	if _, ok := cfg.Array(opts.array); !ok {
		return errors.Errorf("array %s is not configured", opts.array)
	}

	asm, err := assemble(cfg, opts.array)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := asm.close(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
	}()

	arr, err := asm.array(opts.array)
	if err != nil {
		return err
	}
	res, err := runBench(ctx, arr, opts)
	if err != nil {
		return err
	}
	printBench(out, arr, asm.mirrorsOf(arr.Name), opts, res)
	return nil
}

// runBench drives opts.threads Threads against arr, each keeping up to
// opts.depth operations in flight.
func runBench(ctx context.Context, arr *raid.Array, opts benchOptions) (benchResult, error) {
	if opts.blocks > arr.BlockCnt {
		return benchResult{}, errors.Errorf("--blocks %d exceeds array capacity of %d blocks", opts.blocks, arr.BlockCnt)
	}

	limit := rate.Inf
	if opts.iops > 0 {
		limit = rate.Limit(opts.iops)
	}
	limiter := rate.NewLimiter(limit, opts.depth)

	var reads, writes, failed, bytes atomic.Uint64
	start := time.Now()

	g, ctx := errgroup.WithContext(ctx)
	for w := 0; w < opts.threads; w++ {
		g.Go(func() error {
			th := bdev.NewThread(fmt.Sprintf("bench-%d", w))
			defer th.Stop()

			var ch *raid.IOChannel
			var err error
			if xerr := th.Exec(func() { ch, err = arr.GetIOChannel(th) }); xerr != nil {
				return xerr
			}
			if err != nil {
				return err
			}
			defer func() { _ = th.Exec(ch.Release) }()

			rng := rand.New(rand.NewPCG(opts.seed, uint64(w)))
			span := arr.BlockCnt - opts.blocks + 1
			size := opts.blocks * uint64(arr.BlockLen)

			slots := make(chan struct{}, opts.depth)
			var inflight sync.WaitGroup
			defer inflight.Wait()

			for i := 0; i < opts.ops; i++ {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				select {
				case slots <- struct{}{}:
				case <-ctx.Done():
					return ctx.Err()
				}

				typ := raid.IOTypeWrite
				if rng.Float64() < opts.readRatio {
					typ = raid.IOTypeRead
				}
				offset := rng.Uint64N(span)
				buf := make([]byte, size)

				inflight.Add(1)
				finish := func(ok bool) {
					switch {
					case !ok:
						failed.Add(1)
					case typ == raid.IOTypeRead:
						reads.Add(1)
						bytes.Add(size)
					default:
						writes.Add(1)
						bytes.Add(size)
					}
					<-slots
					inflight.Done()
				}
				th.Send(func() {
					if err := arr.Submit(ch, typ, [][]byte{buf}, offset, opts.blocks, finish); err != nil {
						finish(false)
					}
				})
			}
			return nil
		})
	}

	err := g.Wait()
	res := benchResult{
		Reads:   reads.Load(),
		Writes:  writes.Load(),
		Failed:  failed.Load(),
		Bytes:   bytes.Load(),
		Elapsed: time.Since(start),
	}
	return res, err
}

func printBench(out io.Writer, arr *raid.Array, mirrors []*mirror, opts benchOptions, res benchResult) {
	secs := res.Elapsed.Seconds()
	if secs <= 0 {
		secs = 1e-9
	}

	fmt.Fprintf(out, "array %s: %s, %d mirrors, %d present\n",
		arr.Name, humanize.IBytes(arr.BlockCnt*uint64(arr.BlockLen)), len(arr.BaseBdevs), arr.NumPresent())
	fmt.Fprintf(out, "%s ops in %s (%d threads, depth %d): %s ops/s, %s/s\n",
		humanize.Comma(int64(res.ops())), res.Elapsed.Round(time.Millisecond), opts.threads, opts.depth,
		humanize.CommafWithDigits(float64(res.ops())/secs, 0), humanize.IBytes(uint64(float64(res.Bytes)/secs)))
	fmt.Fprintf(out, "reads %s, writes %s, failed %s\n",
		humanize.Comma(int64(res.Reads)), humanize.Comma(int64(res.Writes)), humanize.Comma(int64(res.Failed)))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tMIRROR\tPRESENT\tREADS\tWRITES\tFAILURES\tBACKEND WRITTEN")
	for _, base := range arr.BaseBdevs {
		s := base.Stats.Snapshot()
		written := "-"
		if base.Slot < len(mirrors) && mirrors[base.Slot].Backend != nil {
			written = humanize.IBytes(mirrors[base.Slot].Backend.Stats().BytesWritten)
		}
		fmt.Fprintf(tw, "%d\t%s\t%t\t%s\t%s\t%d\t%s\n",
			base.Slot, base.Name, base.Present(), humanize.Comma(int64(s.Reads)), humanize.Comma(int64(s.Writes)), s.Failures, written)
	}
	_ = tw.Flush()
}
