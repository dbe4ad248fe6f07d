/*
Copyright 2025 Guild PayOps Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	payops "github.com/Khalil2008k/guild-payops"
	"github.com/Khalil2008k/guild-payops/config"
	"github.com/Khalil2008k/guild-payops/database"
	"github.com/Khalil2008k/guild-payops/internal/notification"
)

// PayopsCLI represents the CLI application, encapsulating the root Cobra command.
type PayopsCLI struct {
	cmd *cobra.Command
}

// payopsInstance holds the service instance and its configuration, shared by
// every subcommand.
type payopsInstance struct {
	payops *payops.Payops
	cnf    *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error using Logrus.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun sets up the configuration and initializes the service instance
// before running any command.
func preRun(app *payopsInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("payops.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newPayops, err := setupPayops(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.payops = newPayops
		app.cnf = cnf

		return nil
	}
}

// setupPayops creates the service from the provided configuration, connecting
// to the data source on the way.
func setupPayops(cfg *config.Configuration) (*payops.Payops, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newPayops, err := payops.NewPayops(db)
	if err != nil {
		return nil, fmt.Errorf("error creating payops: %v", err)
	}
	return newPayops, nil
}

// NewCLI creates the command-line interface for the payment operations
// service: server, workers, migrations and config inspection.
func NewCLI() *PayopsCLI {
	var configFile string
	b := &payopsInstance{}

	var rootCmd = &cobra.Command{
		Use:   "payops",
		Short: "Manual payment operations service",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./payops.json", "Configuration file for payops")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(migrateCommands(b))
	rootCmd.AddCommand(configCommands())

	return &PayopsCLI{cmd: rootCmd}
}

// executeCLI runs the root command, handling any errors that occur during execution.
func (w PayopsCLI) executeCLI() {
	if err := w.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()

	cli := NewCLI()
	cli.executeCLI()
}
