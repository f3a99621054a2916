package cli

import (
	"fmt"
	"os"

	"gis-fillers/internal/database"

	"github.com/spf13/cobra"
)

// InitSchemaOptions：init-schema 子命令选项
type InitSchemaOptions struct {
	*RootOptions
	Pre      string
	Post     string
	NoExec   bool
	HashAlgo string
}

// NewInitSchemaCommand：建立基线结构；pre/post 为可选的 SQL 脚本文件
func NewInitSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitSchemaOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init-schema",
		Short: "Create the baseline schema, wrapped by optional pre and post scripts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInitSchema(opts, cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVar(&opts.Pre, "pre", "", "SQL script executed before the baseline schema")
	cmd.Flags().StringVar(&opts.Post, "post", "", "SQL script executed after the baseline schema")
	cmd.Flags().BoolVar(&opts.NoExec, "no-exec-info", false, "Do not record the invoking program in _exec_info")

	return cmd
}

func runInitSchema(opts *InitSchemaOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	pre, err := readScript(opts.Pre)
	if err != nil {
		return err
	}
	post, err := readScript(opts.Post)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	d := database.New(db, cfg.DataFolder,
		database.WithHashAlgo(cfg.HashAlgo),
		database.WithExecInfo(cfg.ExecInfo && !opts.NoExec),
	)
	if err := d.InitSchema(ctx, pre, post); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "schema ready")
	return nil
}

func readScript(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script: %w", err)
	}
	return string(b), nil
}

// ResetOptions：reset 子命令选项
type ResetOptions struct {
	*RootOptions
	PreserveGeo bool
	Keep        []string
}

// NewResetCommand：删除可变领域表；--preserve-geo 保留区域与几何
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop the mutable domain tables",
		Long: `Drop the mutable domain tables so a pipeline can be re-run from scratch.

With --preserve-geo, zones, levels, geometry and hierarchy edges are kept and
only attributes, provenance and derived tables are dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(opts, cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().BoolVar(&opts.PreserveGeo, "preserve-geo", false, "Keep zones, levels, geometry and hierarchy edges")
	cmd.Flags().StringSliceVar(&opts.Keep, "keep", nil, "Additional tables to keep")

	return cmd
}

func runReset(opts *ResetOptions, cmd *cobra.Command) error {
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

	dropped, err := database.New(db, cfg.DataFolder).ResetSchema(ctx, opts.PreserveGeo, opts.Keep)
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, t := range dropped {
		fmt.Fprintf(out, "dropped %s\n", t)
	}
	return nil
}
