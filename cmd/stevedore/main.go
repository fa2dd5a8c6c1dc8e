// Copyright 2015 Light Code Labs, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// The stevedore command runs the event-loop HTTP server described by a
// configuration file.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/cobra"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"

	"github.com/lightcodelabs/stevedore"
	"github.com/lightcodelabs/stevedore/config"
	"github.com/lightcodelabs/stevedore/server"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "stevedore [config]",
		Short: "An event-loop HTTP/1.1 origin server",
		Long: `Stevedore is an HTTP/1.1 origin server that serves static files,
accepts uploads, deletes resources, and executes CGI scripts on behalf
of multiple virtual hosts, multiplexing every connection on a single
event-loop thread.

The optional argument names the configuration file; it defaults to
` + stevedore.DefaultConfigPath + `.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath := stevedore.DefaultConfigPath
			if len(args) == 1 {
				configPath = args[0]
			}
			return run(configPath, debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(stevedore.Version)
		},
	})

	return cmd
}

func run(configPath string, debug bool) error {
	logger, err := newLogger(debug)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// match CPU and memory limits to the container quota, if any
	undo, err := maxprocs.Set(maxprocs.Logger(logger.Sugar().Infof))
	defer undo()
	if err != nil {
		logger.Warn("failed to set GOMAXPROCS", zap.Error(err))
	}
	_, _ = memlimit.SetGoMemLimitWithOpts(
		memlimit.WithProvider(
			memlimit.ApplyFallback(
				memlimit.FromCgroup,
				memlimit.FromSystem,
			),
		),
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Error("loading configuration", zap.String("path", configPath), zap.Error(err))
		return err
	}

	srv := server.New(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Error("starting server", zap.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", zap.String("signal", sig.String()))
		srv.Stop()
	}()

	logger.Info("server started", zap.String("config", configPath))
	return srv.Run()
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
