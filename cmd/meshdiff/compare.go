package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/meshdiff/pkg/backend"
	"github.com/chazu/meshdiff/pkg/compare"
	"github.com/chazu/meshdiff/pkg/scene"
	"github.com/chazu/meshdiff/pkg/workflow"
)

var (
	compareAlign     bool
	compareOverlay   bool
	compareThreshold float64
)

var compareCmd = &cobra.Command{
	Use:   "compare [a] [b]",
	Short: "Measure and match two meshes",
	Long: `Load A and B, optionally align B onto A, then print distance statistics,
match statistics and the layers a viewer would draw.`,
	Args: cobra.ExactArgs(2),
	RunE: runCompare,
}

func init() {
	rootCmd.AddCommand(compareCmd)

	compareCmd.Flags().BoolVar(&compareAlign, "align", false, "align B onto A before measuring")
	compareCmd.Flags().BoolVar(&compareOverlay, "overlay", false, "include the match overlay layers")
	compareCmd.Flags().Float64Var(&compareThreshold, "threshold", 0, "match distance threshold (default from config)")
}

// session is a headless workflow over an in-memory scene.
type session struct {
	wf    *workflow.Workflow
	scene *scene.Memory
}

func newSession() (*session, error) {
	palette, err := cfg.ToPalette()
	if err != nil {
		return nil, err
	}
	mem := scene.NewMemory()
	wf := workflow.New(compare.NewStore(), backend.NewLocal(cfg.BackendOptions(), logger), mem, workflow.Config{
		Palette: palette,
		Logger:  logger,
	})
	return &session{wf: wf, scene: mem}, nil
}

func (s *session) close() {
	if err := s.wf.Close(); err != nil {
		logger.Warn("releasing scene", "err", err)
	}
}

func (s *session) loadFile(ctx context.Context, slot compare.Slot, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return &compare.ParseError{Filename: path, Err: err}
	}
	_, err = s.wf.Load(ctx, slot, path, raw)
	return err
}

// measureAndMatch runs measure then match and prints both.
func (s *session) measureAndMatch(ctx context.Context, out io.Writer, threshold float64) error {
	ds, err := s.wf.Measure(ctx)
	if err != nil {
		return err
	}
	mr, err := s.wf.Match(ctx, threshold)
	if err != nil {
		return err
	}
	printDistance(out, ds)
	printMatch(out, mr)
	return nil
}

func threshold(flag float64) float64 {
	if flag > 0 {
		return flag
	}
	return cfg.Match.DefaultThreshold
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	s, err := newSession()
	if err != nil {
		return err
	}
	defer s.close()

	if err := s.loadFile(ctx, compare.SlotA, args[0]); err != nil {
		return err
	}
	if err := s.loadFile(ctx, compare.SlotB, args[1]); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if compareAlign {
		res, err := s.wf.Align(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Alignment: RMSE %.6f after %d iterations\n", res.RMSE, res.Iterations)
		t := res.Transform
		for r := 0; r < 4; r++ {
			fmt.Fprintf(out, "  [% .6f % .6f % .6f % .6f]\n", t[r*4], t[r*4+1], t[r*4+2], t[r*4+3])
		}
		fmt.Fprintln(out)
	}
	s.wf.SetMatchOverlay(compareOverlay)

	if err := s.measureAndMatch(ctx, out, threshold(compareThreshold)); err != nil {
		return err
	}
	printLayers(out, s.scene)
	return nil
}

func printDistance(out io.Writer, ds *compare.DistanceStats) {
	fmt.Fprintln(out, "Distance A -> B:")
	fmt.Fprintf(out, "  Min: %.6f\n", ds.Min)
	fmt.Fprintf(out, "  Max: %.6f\n", ds.Max)
	fmt.Fprintf(out, "  Mean: %.6f\n", ds.Mean)
	fmt.Fprintf(out, "  Std: %.6f\n\n", ds.Std)
}

func printMatch(out io.Writer, mr *compare.MatchResult) {
	st := mr.Stats
	fmt.Fprintf(out, "Match (threshold %g):\n", mr.Threshold)
	fmt.Fprintf(out, "  A: %d/%d (%.1f%%)\n", st.NumMatchingA, st.TotalVerticesA, st.PercentMatchingA)
	fmt.Fprintf(out, "  B: %d/%d (%.1f%%)\n\n", st.NumMatchingB, st.TotalVerticesB, st.PercentMatchingB)
}

func printLayers(out io.Writer, mem *scene.Memory) {
	fmt.Fprintln(out, "Layers:")
	for _, o := range mem.Objects() {
		d := o.Descriptor
		vis := "hidden"
		if d.Visible {
			vis = "visible"
		}
		fmt.Fprintf(out, "  %-14s %6d triangles  %s\n", d.Key, len(d.Indices)/3, vis)
	}
}
