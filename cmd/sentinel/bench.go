package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nvr-ai/sentinel/benchmark"
	"github.com/nvr-ai/sentinel/logging"
)

var (
	benchIterations int
	benchReport     string
)

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure segmentation latency at common capture resolutions",
	RunE:  runBench,
}

func init() {
	benchCmd.Flags().IntVarP(&benchIterations, "iterations", "n", 20, "measured iterations per scenario")
	benchCmd.Flags().StringVarP(&benchReport, "report", "r", "", "write a JSON report to this path")
}

func runBench(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync(logger)

	engine, err := newEngine(cfg, logger, nil)
	if err != nil {
		return err
	}
	defer engine.Dispose()

	ctx := cmd.Context()
	mode, err := engine.Initialize(ctx)
	if err != nil {
		return err
	}
	logger.Info("benchmarking", zap.String("mode", string(mode)), zap.Int("iterations", benchIterations))

	results, err := benchmark.RunAll(ctx, engine, benchmark.DefaultScenarios(benchIterations))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, r := range results {
		fmt.Fprintf(out, "%-8s %-5s encode p50 %-12s segment p50 %-12s p95 %-12s %.1f fps\n",
			r.Scenario.Name, r.Mode, r.Encode.P50, r.Segment.P50, r.Segment.P95, r.FramesPerSecond)
	}

	if benchReport != "" {
		return benchmark.WriteReport(benchReport, results)
	}
	return nil
}
