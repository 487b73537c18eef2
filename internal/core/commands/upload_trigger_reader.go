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

package commands

import (
	"fmt"

	"github.com/jaycherian/gencomm-video/internal/cloud"
	"github.com/jaycherian/gencomm-video/internal/core/cor"
)

// UploadTriggerReader turns a Cloud Storage notification body into the
// source URI of a new experiment.
type UploadTriggerReader struct {
	cor.BaseCommand
}

// NewUploadTriggerReader turns a storage notification into a gs:// source.
func NewUploadTriggerReader(name string) *UploadTriggerReader {
	return &UploadTriggerReader{BaseCommand: *cor.NewBaseCommand(name).WithParams(cor.CtxIn, ParamSourceURI)}
}

func (c *UploadTriggerReader) Execute(context cor.Context) {
	in, ok := context.Get(c.GetInputParam()).(string)
	if !ok {
		fail(c, context, fmt.Errorf("trigger message is %T, expected a string", context.Get(c.GetInputParam())))
		return
	}
	obj, err := cloud.ParseNotification([]byte(in))
	if err != nil {
		fail(c, context, err)
		return
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(cloud.GetGCSObjectName(), obj)
	context.Add(c.GetOutputParam(), obj.URI())
}
