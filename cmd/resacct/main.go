// resacct prints point-in-time resource facts for the current host or
// container: the unified limits envelope and interval CPU usage.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/resacct/resacct/pkg/accounting"
	"github.com/resacct/resacct/pkg/system/cgroup"
	"github.com/resacct/resacct/pkg/types"
)

var (
	flagJSON     bool
	flagVerbose  bool
	flagInterval time.Duration
	flagAlpha    float64
)

func main() {
	root := &cobra.Command{
		Use:   "resacct",
		Short: "resource accounting: cgroup limits, host capacity and CPU usage",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.PersistentFlags().BoolVar(&flagJSON, "json", false, "emit JSON instead of a table")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	root.PersistentFlags().Float64Var(&flagAlpha, "smoothing", 0, "EMA smoothing factor for the usage rate (0 disables)")

	limitsCmd := &cobra.Command{
		Use:   "limits",
		Short: "print the container view and the unified limits envelope",
		RunE:  runLimits,
	}

	cpuCmd := &cobra.Command{
		Use:   "cpu",
		Short: "measure CPU usage over an interval with per-core ranking",
		RunE:  runCPU,
	}
	cpuCmd.Flags().DurationVarP(&flagInterval, "interval", "i", time.Second, "measurement interval (min 100ms)")

	root.AddCommand(limitsCmd, cpuCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newAccountant() *accounting.Accountant {
	level := zerolog.WarnLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	return accounting.New(&accounting.Config{
		SmoothingAlpha: flagAlpha,
		Logger:         &logger,
	})
}

func runLimits(cmd *cobra.Command, _ []string) error {
	a := newAccountant()

	cl, err := a.ContainerLimits()
	if err != nil && !errors.Is(err, cgroup.ErrUnsupportedPlatform) {
		return err
	}
	sl, err := a.SystemLimits()
	if err != nil {
		return err
	}

	if flagJSON {
		return json.NewEncoder(os.Stdout).Encode(struct {
			Container *accounting.ContainerLimits `json:"container,omitempty"`
			System    *accounting.SystemLimits    `json:"system"`
		}{Container: cl, System: sl})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "source\t%s\n", sl.Source)
	if cl != nil {
		fmt.Fprintf(w, "cgroup\t%s\n", cl.CgroupVersion)
		fmt.Fprintf(w, "cpu quota\t%s\n", coresOrNone(cl.CPUQuotaCores))
		fmt.Fprintf(w, "cpu usage\t%s\n", coresOrNone(cl.CPUUsageCores))
		fmt.Fprintf(w, "memory limit\t%s\n", bytesOrNone(cl.MemoryLimitBytes))
		fmt.Fprintf(w, "memory usage\t%s\n", bytesOrNone(cl.MemoryUsageBytes))
		fmt.Fprintf(w, "throttled\t%s\n", countOrNone(cl.CPUThrottledCount))
		fmt.Fprintf(w, "oom kills\t%s\n", countOrNone(cl.OOMKillCount))
	}
	fmt.Fprintf(w, "envelope cpu\t%s used of %s\n", sl.CurrentCPUCores, sl.CPUCores)
	fmt.Fprintf(w, "envelope memory\t%s used of %s\n", sl.CurrentMemoryBytes.Humanized(), sl.MemoryBytes.Humanized())
	fmt.Fprintf(w, "cpu utilization\t%.1f%% (headroom %.1f%%)\n", sl.CPUUtilizationPercentage(), sl.CPUHeadroomPercentage())
	fmt.Fprintf(w, "memory utilization\t%.1f%% (headroom %.1f%%)\n", sl.MemoryUtilizationPercentage(), sl.MemoryHeadroomPercentage())
	fmt.Fprintf(w, "cpu pressure\t%v\n", sl.UnderCPUPressure(0))
	fmt.Fprintf(w, "memory pressure\t%v\n", sl.UnderMemoryPressure(0))
	return nil
}

func runCPU(cmd *cobra.Command, _ []string) error {
	a := newAccountant()

	d, err := a.MeasureCPU(flagInterval)
	if err != nil {
		return err
	}

	if flagJSON {
		busiest, busiestPct := d.BusiestCore()
		idlest, idlestPct := d.IdlestCore()
		return json.NewEncoder(os.Stdout).Encode(struct {
			Interval   time.Duration `json:"interval_ns"`
			Usage      float64       `json:"usage_percent"`
			Normalized float64       `json:"normalized_percent"`
			Busiest    int           `json:"busiest_core"`
			BusiestPct float64       `json:"busiest_percent"`
			Idlest     int           `json:"idlest_core"`
			IdlestPct  float64       `json:"idlest_percent"`
		}{d.Elapsed, d.UsagePercentage(), d.NormalizedUsagePercentage(), busiest, busiestPct, idlest, idlestPct})
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintf(w, "interval\t%s\n", d.Elapsed)
	fmt.Fprintf(w, "usage\t%.1f%%\n", d.UsagePercentage())
	fmt.Fprintf(w, "normalized\t%.1f%%\n", d.NormalizedUsagePercentage())
	for i, c := range d.PerCore {
		fmt.Fprintf(w, "core %d\t%.1f%%\n", c.Index, d.CoreUsagePercentage(i))
	}
	if idx, pct := d.BusiestCore(); idx >= 0 {
		fmt.Fprintf(w, "busiest\tcore %d (%.1f%%)\n", idx, pct)
	}
	if idx, pct := d.IdlestCore(); idx >= 0 {
		fmt.Fprintf(w, "idlest\tcore %d (%.1f%%)\n", idx, pct)
	}
	return nil
}

func coresOrNone(c *types.Cores) string {
	if c == nil {
		return "none"
	}
	return c.String()
}

func bytesOrNone(b *types.Bytes) string {
	if b == nil {
		return "none"
	}
	return b.Humanized()
}

func countOrNone(n *uint64) string {
	if n == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *n)
}
