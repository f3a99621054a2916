package cli

import (
	"fmt"

	"gis-fillers/internal/hierarchy"
	"gis-fillers/internal/metrics"
	"gis-fillers/internal/pipeline"
	"gis-fillers/internal/store"

	"github.com/spf13/cobra"
)

// AuditOptions：audit 子命令选项
type AuditOptions struct {
	*RootOptions
	ParentLevel string
	ChildLevel  string
	Tolerance   float64
}

// NewAuditCommand：检查某层级对之间每个子区域的父份额合计是否为 1；没有父边的子区域按 0 报告
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report child zones whose parent shares do not sum to one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAudit(opts, cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVar(&opts.ParentLevel, "parent-level", "", "Parent level name (required)")
	cmd.Flags().StringVar(&opts.ChildLevel, "child-level", "zaehlsprengel", "Child level name")
	cmd.Flags().Float64Var(&opts.Tolerance, "tol", 1e-6, "Allowed deviation from a share sum of one")
	_ = cmd.MarkFlagRequired("parent-level")

	return cmd
}

func runAudit(opts *AuditOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	parent, err := store.LevelID(ctx, db, opts.ParentLevel)
	if err != nil {
		return fmt.Errorf("level %s: %w", opts.ParentLevel, err)
	}
	child, err := store.LevelID(ctx, db, opts.ChildLevel)
	if err != nil {
		return fmt.Errorf("level %s: %w", opts.ChildLevel, err)
	}
	edges, err := store.LoadEdges(ctx, db, parent, child)
	if err != nil {
		return err
	}
	ids, err := store.ZoneIDs(ctx, db, child)
	if err != nil {
		return err
	}
	children := make([]hierarchy.ZoneKey, len(ids))
	for i, id := range ids {
		children[i] = hierarchy.ZoneKey{Level: child, ID: id}
	}
	bad := hierarchy.CheckCoverage(children, parent, edges, opts.Tolerance)
	out := cmd.OutOrStdout()
	for _, r := range bad {
		fmt.Fprintln(out, r.String())
	}
	metrics.ShareViolationsTotal.Add(float64(len(bad)))
	fmt.Fprintf(out, "%d edges, %d children off by more than %g\n", len(edges), len(bad), opts.Tolerance)
	return nil
}

// NewKindsCommand：列出流水线文件中可用的填充单元类型
func NewKindsCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "kinds",
		Short: "List the filler kinds a pipeline file may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range pipeline.Kinds() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
}
