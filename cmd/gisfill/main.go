// 程序入口：只负责初始化日志并执行命令行；子命令定义在 internal/cli
package main

import (
	"os"

	"gis-fillers/internal/cli"
	"gis-fillers/internal/logger"
)

func main() {
	l := logger.Setup()
	if err := cli.NewRootCommand().Execute(); err != nil {
		l.Error("fatal", "err", err)
		os.Exit(1)
	}
}
