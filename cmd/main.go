/*
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

// Package main provides the courier CLI: server, workers, queue-draft and
// migration subcommands.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/surelv/courier"
	"github.com/surelv/courier/config"
	"github.com/surelv/courier/database"
)

// Courier represents the CLI application, encapsulating the root command.
type Courier struct {
	cmd *cobra.Command
}

// courierInstance holds the runtime engine and its configuration for the
// subcommands.
type courierInstance struct {
	courier *courier.Courier
	cnf     *config.Configuration
}

func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads configuration and initializes the engine before any
// subcommand executes.
func preRun(app *courierInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("courier.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newCourier, err := setupCourier(cnf)
		if err != nil {
			log.Fatal(err)
		}

		app.courier = newCourier
		app.cnf = cnf

		return nil
	}
}

func setupCourier(cfg *config.Configuration) (*courier.Courier, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newCourier, err := courier.NewCourier(db, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating courier: %v", err)
	}
	return newCourier, nil
}

// NewCLI builds the root command and wires the subcommands.
func NewCLI() *Courier {
	var configFile string
	b := &courierInstance{}

	var rootCmd = &cobra.Command{
		Use:   "courier",
		Short: "Email scheduling and delivery engine",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./courier.json", "Configuration file for courier")

	rootCmd.PersistentPreRunE = preRun(b)

	rootCmd.AddCommand(serverCommands(b))
	rootCmd.AddCommand(workerCommands(b))
	rootCmd.AddCommand(queueDraftCommands(b))
	rootCmd.AddCommand(migrateCommands(b))

	return &Courier{cmd: rootCmd}
}

func (w Courier) executeCLI() {
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
