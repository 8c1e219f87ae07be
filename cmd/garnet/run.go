package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/chazu/garnet/manifest"
	"github.com/chazu/garnet/tracestore"
	"github.com/chazu/garnet/vm"
	"github.com/chazu/garnet/vm/iseqfile"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [program.gbc...]",
	Short: "Run compiled programs",
	Long: `Run compiled programs on one VM. Preload programs from garnet.toml run
first. With no arguments the manifest's entry program is run.`,
	RunE: runPrograms,
}

func init() {
	runCmd.Flags().IntP("parallel", "j", 1, "run the given programs concurrently on this many threads")
	runCmd.Flags().Bool("trace", false, "record call statistics in the trace database")
	runCmd.Flags().Bool("profile", false, "print the most called methods when done")
	runCmd.Flags().Bool("print", false, "print the value of each program")
	runCmd.Flags().Bool("cache-stats", false, "print call cache statistics when done")
}

// runOptions are the run flags after merging with garnet.toml.
type runOptions struct {
	parallel   int
	trace      bool
	profile    bool
	print      bool
	cacheStats bool
}

func runPrograms(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	m, err := loadManifest(cmd)
	if err != nil {
		return err
	}
	opts, err := runFlags(cmd, m)
	if err != nil {
		return err
	}

	paths := args
	var preload []string
	if m != nil {
		preload = m.PreloadPaths()
		if len(paths) == 0 && m.EntryPath() != "" {
			paths = []string{m.EntryPath()}
		}
	}
	if len(paths) == 0 {
		return errors.New("no program given and no [source] entry in garnet.toml")
	}

	cfg := vm.DefaultConfig()
	if m != nil {
		cfg = m.VMConfig()
	}
	cfg.Stdout = cmd.OutOrStdout()
	v := vm.NewVMWithConfig(cfg)

	pre, err := loadPrograms(v, preload)
	if err != nil {
		return err
	}
	programs, err := loadPrograms(v, paths)
	if err != nil {
		return err
	}

	var prof *vm.Profiler
	if opts.profile {
		prof = vm.NewProfiler(v)
		if m != nil {
			prof.HotThreshold = uint64(m.Trace.HotThreshold)
		}
		prof.OnHot = func(e *vm.MethodEntry, p *vm.MethodProfile) {
			log.Infof("hot method %s#%s (%s)", p.Owner, p.Name, p.Kind)
		}
		if err := addHook(ctx, v, prof); err != nil {
			return err
		}
	}

	if opts.trace {
		dbPath := ".garnet/trace.db"
		if m != nil {
			dbPath = m.TraceDatabasePath()
		}
		store, err := tracestore.Open(dbPath, v)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Errorf("%s", err)
			}
		}()
		if _, err := store.BeginRun(ctx, strings.Join(paths, " ")); err != nil {
			return err
		}
		if err := addHook(ctx, v, store); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for _, p := range pre {
		if err := runOne(ctx, v, p, false, out); err != nil {
			return err
		}
	}
	if err := runAll(ctx, v, programs, opts, out); err != nil {
		return err
	}

	if prof != nil {
		printProfile(out, prof)
	}
	if opts.cacheStats {
		iseqs := make([]*vm.ISeq, 0, len(pre)+len(programs))
		for _, p := range append(pre, programs...) {
			iseqs = append(iseqs, p.iseq)
		}
		printCacheStats(out, vm.CollectCacheStats(iseqs...))
	}
	return nil
}

func runFlags(cmd *cobra.Command, m *manifest.Manifest) (runOptions, error) {
	var opts runOptions
	var err error
	flags := cmd.Flags()
	if opts.parallel, err = flags.GetInt("parallel"); err != nil {
		return opts, fmt.Errorf("failed to get parallel flag: %w", err)
	}
	if opts.parallel < 1 {
		return opts, fmt.Errorf("--parallel must be at least 1, got %d", opts.parallel)
	}
	if opts.trace, err = flags.GetBool("trace"); err != nil {
		return opts, fmt.Errorf("failed to get trace flag: %w", err)
	}
	if !flags.Changed("trace") && m != nil {
		opts.trace = m.Trace.Enabled
	}
	if opts.profile, err = flags.GetBool("profile"); err != nil {
		return opts, fmt.Errorf("failed to get profile flag: %w", err)
	}
	if opts.print, err = flags.GetBool("print"); err != nil {
		return opts, fmt.Errorf("failed to get print flag: %w", err)
	}
	if opts.cacheStats, err = flags.GetBool("cache-stats"); err != nil {
		return opts, fmt.Errorf("failed to get cache-stats flag: %w", err)
	}
	return opts, nil
}

type program struct {
	path string
	iseq *vm.ISeq
}

func loadPrograms(v *vm.VM, paths []string) ([]program, error) {
	out := make([]program, 0, len(paths))
	for _, p := range paths {
		iseq, err := iseqfile.ReadFile(v, p)
		if err != nil {
			return nil, err
		}
		if iseq.Path == "" {
			iseq.Path = p
		}
		log.Debugf("loaded %s", p)
		out = append(out, program{path: p, iseq: iseq})
	}
	return out, nil
}

// addHook installs h, taking the execution token for the duration.
func addHook(ctx context.Context, v *vm.VM, h vm.CallHook) error {
	tok, err := v.GVL().Acquire(ctx)
	if err != nil {
		return err
	}
	defer tok.Release()
	v.AddCallHook(tok, h)
	return nil
}

// runAll runs the programs in order, or on opts.parallel threads sharing
// the execution token.
func runAll(ctx context.Context, v *vm.VM, programs []program, opts runOptions, out io.Writer) error {
	if opts.parallel == 1 || len(programs) == 1 {
		for _, p := range programs {
			if err := runOne(ctx, v, p, opts.print, out); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.parallel)
	for _, p := range programs {
		g.Go(func() error {
			return runOne(gctx, v, p, opts.print, out)
		})
	}
	return g.Wait()
}

func runOne(ctx context.Context, v *vm.VM, p program, show bool, out io.Writer) error {
	log.Debugf("running %s", p.path)
	result, err := v.Run(ctx, p.iseq)
	if err != nil {
		reportProgramError(p.path, err)
		return exitError{}
	}
	if show {
		// Inspect reads VM state; it runs under the token like everything else.
		tok, err := v.GVL().Acquire(ctx)
		if err != nil {
			return err
		}
		s := v.Inspect(result)
		tok.Release()
		fmt.Fprintf(out, "%s => %s\n", p.path, s)
	}
	return nil
}

func reportProgramError(path string, err error) {
	var exc *vm.Exception
	if errors.As(err, &exc) {
		errorColor.Fprintf(os.Stderr, "%s: ", path)
		fmt.Fprintf(os.Stderr, "%s (%s)\n", exc.Message, exc.Class().Name)
		for _, line := range exc.Backtrace {
			traceColor.Fprintf(os.Stderr, "\tfrom %s\n", line)
		}
		return
	}
	errorColor.Fprintf(os.Stderr, "%s: ", path)
	fmt.Fprintln(os.Stderr, err)
}

func printProfile(out io.Writer, prof *vm.Profiler) {
	stats := prof.Stats()
	headColor.Fprintf(out, "\nprofile: %d methods, %d calls, %d misses, %d errors\n",
		stats.TotalMethods, stats.TotalInvocations, stats.CacheMisses, stats.Errors)
	for _, p := range prof.Top(10) {
		line := fmt.Sprintf("  %8d  %-10s %s#%s", p.InvocationCount, p.Kind, p.Owner, p.Name)
		if p.IsHot {
			hotColor.Fprintln(out, line+"  (hot)")
		} else {
			fmt.Fprintln(out, line)
		}
	}
}

func printCacheStats(out io.Writer, s vm.CacheStats) {
	headColor.Fprintln(out, "\ncall caches:")
	fmt.Fprintf(out, "  sites %d (empty %d, monomorphic %d, polymorphic %d)\n",
		s.CallSites, s.Empty, s.Monomorphic, s.Polymorphic)
	fmt.Fprintf(out, "  hits %d, misses %d, hit rate %.1f%%\n", s.Hits, s.Misses, s.HitRate)
	fams := make([]vm.HandlerFamily, 0, len(s.Families))
	for fam := range s.Families {
		fams = append(fams, fam)
	}
	sort.Slice(fams, func(i, j int) bool { return fams[i] < fams[j] })
	for _, fam := range fams {
		fmt.Fprintf(out, "  %-14s %d\n", fam, s.Families[fam])
	}
}
