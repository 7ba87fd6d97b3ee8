// Copyright 2026 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

// pslite boots one node of the parameter-server runtime. The same binary
// runs the scheduler, the workers and the servers; the scheduler assigns
// roles by join order.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/pingcap/pslite/pkg/config"
	"github.com/pingcap/pslite/pkg/customer"
)

func main() {
	if err := newCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cfg := &config.Config{}
	var (
		logLevel string
		appArg   string
	)
	cmd := &cobra.Command{
		Use:           "pslite",
		Short:         "parameter-server runtime node",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			lg, props, err := log.InitLogger(&log.Config{Level: logLevel})
			if err != nil {
				return err
			}
			log.ReplaceGlobals(lg, props)

			cfg.App = resolveAppConf(appArg)
			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.Info("starting node",
				zap.String("my_node", cfg.MyNode),
				zap.Int("my_rank", cfg.MyRank),
				zap.String("scheduler", cfg.Scheduler))
			return customer.RunSystem(ctx, cfg, nil)
		},
	}

	fs := cmd.Flags()
	addFlags(fs, cfg, &logLevel, &appArg)
	return cmd
}

func addFlags(fs *pflag.FlagSet, cfg *config.Config, logLevel, appArg *string) {
	fs.IntVar(&cfg.NumWorkers, "num_workers", 0, "number of worker nodes")
	fs.IntVar(&cfg.NumServers, "num_servers", 0, "number of server nodes")
	fs.IntVar(&cfg.NumUnused, "num_unused", 0, "number of spare nodes")
	fs.IntVar(&cfg.NumReplicas, "num_replicas", 0, "number of server replicas")
	fs.StringVar(&cfg.MyNode, "my_node", "", "this node's bootstrap string")
	fs.StringVar(&cfg.Scheduler, "scheduler", "", "the scheduler's bootstrap string")
	fs.IntVar(&cfg.MyRank, "my_rank", -1, "assemble my node from the local interface and this rank")
	fs.IntVar(&cfg.BindTo, "bind_to", 0, "binding port override")
	fs.StringVar(&cfg.Interface, "interface", "", "network interface for rank-assembled nodes")
	fs.StringVar(appArg, "app", "", "application config: a TOML file path or an inline document")
	fs.StringVar(logLevel, "log_level", "info", "log level")
}

// resolveAppConf accepts either a path to a TOML file or an inline
// document.
func resolveAppConf(arg string) string {
	if arg == "" {
		return ""
	}
	if data, err := os.ReadFile(arg); err == nil {
		return string(data)
	}
	return arg
}
