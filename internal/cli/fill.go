package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gis-fillers/internal/database"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/metrics"
	"gis-fillers/internal/pipeline"
	"gis-fillers/internal/utils"

	"github.com/spf13/cobra"
)

// FillOptions：fill 子命令选项
type FillOptions struct {
	*RootOptions
	DataFolder  string
	MetricsAddr string
	InitSchema  bool
	DryRun      bool
}

// NewFillCommand：读取流水线文件并依次执行其中的填充单元
func NewFillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FillOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "fill <pipeline.yaml>",
		Short: "Run the fillers listed in a pipeline file",
		Long: `Run the fillers listed in a pipeline file, in order.

The data folder is taken from --data-folder, then from the pipeline file,
then from DATA_FOLDER. Fillers whose data is already present are skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFill(opts, args[0], cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVar(&opts.DataFolder, "data-folder", "", "Folder holding downloaded source files")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while filling")
	cmd.Flags().BoolVar(&opts.InitSchema, "init-schema", false, "Create the baseline schema before filling")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Parse and build the pipeline, print the fillers and exit")

	return cmd
}

func runFill(opts *FillOptions, path string, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	f, raw, err := pipeline.Load(path)
	if err != nil {
		return err
	}
	dataFolder := firstNonEmpty(opts.DataFolder, f.DataFolder, cfg.DataFolder)
	metricsAddr := firstNonEmpty(opts.MetricsAddr, cfg.MetricsAddr)

	if opts.DryRun {
		deps, release, err := pipeline.NewDeps(cfg, nil)
		if err != nil {
			return err
		}
		defer release()
		fl, err := pipeline.Build(f, pipeline.Builder{Deps: deps})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for i, x := range fl {
			fmt.Fprintf(out, "%d\t%s\n", i, x.Core().Name())
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
	}

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	rdb := utils.OpenRedisFromConfig(cfg)
	if rdb != nil {
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.L().Warn("redis_ping_error", "err", err)
			rdb = nil
		}
	}
	deps, release, err := pipeline.NewDeps(cfg, rdb)
	if err != nil {
		return err
	}
	defer release()

	fl, err := pipeline.Build(f, pipeline.Builder{Deps: deps})
	if err != nil {
		return err
	}

	d := database.New(db, dataFolder,
		database.WithHashAlgo(cfg.HashAlgo),
		database.WithExecInfo(cfg.ExecInfo),
		database.WithProgram(path, raw),
	)
	if opts.InitSchema {
		if err := d.InitSchema(ctx, "", ""); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	for _, x := range fl {
		if err := d.Add(ctx, x); err != nil {
			return err
		}
	}
	if err := d.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "filled %d units (run %s)\n", len(d.Fillers()), d.RunID())
	return nil
}

// serveMetrics：后台暴露 /metrics；监听失败只记录日志，不影响填充
func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           logger.AccessMiddleware(logger.L())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Error("metrics_listen_error", "err", err)
		}
	}()
	return srv
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
