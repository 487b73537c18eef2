// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"log"
	"os"

	"github.com/jaycherian/gencomm-video/internal/cloud"
	"github.com/jaycherian/gencomm-video/internal/core/services"
	"github.com/jaycherian/gencomm-video/internal/core/workflow"
	"github.com/jaycherian/gencomm-video/internal/ledger"
)

// StateManager holds the long-lived objects of the server.
type StateManager struct {
	config      *cloud.Config
	cloud       *cloud.ServiceClients
	ledger      *ledger.Ledger
	experiments *services.ExperimentService
	workflow    *workflow.ExperimentWorkflow
}

var state = &StateManager{}

// SetupOS selects the "local" runtime overlay unless one is already set.
func SetupOS() (err error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup os: %v\n", err)
		}
		config := cloud.NewConfig()
		cloud.LoadConfig(config)
		state.config = config
	}
	return state.config
}

// InitState creates the clients, the ledger, the services and the
// workflow, then starts the upload listeners.
func InitState(ctx context.Context) error {
	config := GetConfig()

	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	state.cloud = cloudClients

	var opts []workflow.Option
	if config.Ledger.Path != "" {
		if state.ledger, err = ledger.Open(ctx, config.Ledger.Path); err != nil {
			return err
		}
		opts = append(opts, workflow.WithRunStore(state.ledger))
	}

	state.experiments = &services.ExperimentService{
		BigqueryClient:  cloudClients.BiqQueryClient,
		StorageClient:   cloudClients.StorageClient,
		IAMClient:       cloudClients.IAMClient,
		SignerEmail:     config.Application.SignerServiceAccountEmail,
		DatasetName:     config.BigQueryDataSource.DatasetName,
		ExperimentTable: config.BigQueryDataSource.ExperimentTable,
	}
	if state.ledger != nil {
		state.experiments.Ledger = state.ledger
	}

	if state.workflow, err = workflow.NewExperimentWorkflow(config, cloudClients, opts...); err != nil {
		return err
	}

	SetupListeners(ctx, config, cloudClients, state.workflow)
	return nil
}

// Close releases the ledger and the clients.
func (s *StateManager) Close() {
	var err error
	if s.ledger != nil {
		err = errors.Join(err, s.ledger.Close())
	}
	if s.cloud != nil {
		err = errors.Join(err, s.cloud.Close())
	}
	if err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
