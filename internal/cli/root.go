// 包 cli：gisfill 命令行；子命令共享根级选项（配置文件与日志级别）
package cli

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"gis-fillers/internal/config"
	"gis-fillers/internal/logger"
	"gis-fillers/internal/utils"

	"github.com/spf13/cobra"
)

// RootOptions：根级持久选项
type RootOptions struct {
	Verbose bool
	EnvFile string
	Format  string
}

// openDB：测试中替换为桩连接
var openDB = func(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	return utils.OpenPostgresFromConfig(ctx, cfg)
}

// NewRootCommand：构建 gisfill 根命令并挂载全部子命令
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "gisfill",
		Short: "Fill a PostGIS database with zones, hierarchies, attributes and resolved locations",
		Long: `gisfill runs an ordered list of fillers against a spatial database.

Each filler first checks whether its data is already present, downloads and
reads its sources, then writes zones, geometry, hierarchy edges or attributes.
Re-running a pipeline skips work that is already complete.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, format := os.Getenv("LOG_LEVEL"), opts.Format
			if opts.Verbose {
				level = "debug"
			}
			if env := os.Getenv("LOG_FORMAT"); env != "" && !cmd.Flags().Changed("log-format") {
				format = env
			}
			logger.SetupWith(level, format, cmd.ErrOrStderr())
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Enable debug logging")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", "", "Load configuration from this env file instead of ./.env")
	cmd.PersistentFlags().StringVar(&opts.Format, "log-format", "text", "Log format (text, json)")

	cmd.AddCommand(NewInitSchemaCommand(opts))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewFillCommand(opts))
	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewKindsCommand(opts))

	return cmd
}

// loadConfig：--env-file 指定时必须存在；否则按 .env + 环境变量读取
func loadConfig(opts *RootOptions) (config.Config, error) {
	if opts.EnvFile != "" {
		cfg, err := config.LoadFile(opts.EnvFile)
		if err != nil {
			return config.Config{}, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
		return cfg, nil
	}
	return config.Load(), nil
}
