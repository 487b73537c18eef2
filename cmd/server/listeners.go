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
	"log/slog"

	"github.com/jaycherian/gencomm-video/internal/cloud"
	"github.com/jaycherian/gencomm-video/internal/core/workflow"
)

// UploadTopic is the topic_subscriptions key of the input bucket's
// notification subscription.
const UploadTopic = "UploadTopic"

// SetupListeners attaches the upload-triggered experiment to the upload
// subscription and starts listening.
func SetupListeners(ctx context.Context, config *cloud.Config, cloudClients *cloud.ServiceClients, experiment *workflow.ExperimentWorkflow) {
	listener, ok := cloudClients.PubSubListeners[UploadTopic]
	if !ok {
		slog.Info("no upload subscription configured; experiments start through the API only")
		return
	}
	listener.SetCommand(workflow.NewUploadTriggeredWorkflow(experiment))
	listener.Listen(ctx)
	slog.Info("listening for uploads", "subscription", config.TopicSubscriptions[UploadTopic].Name)
}
