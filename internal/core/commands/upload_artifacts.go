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
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gencomm-video/internal/cloud"
	"github.com/jaycherian/gencomm-video/internal/core/cor"
	"github.com/jaycherian/gencomm-video/internal/core/model"
)

// UploadArtifacts copies the reconstruction and chart of a successful run to
// gs://bucket/prefix/<run id>/ and records their URIs on the run.
type UploadArtifacts struct {
	cor.BaseCommand
	client *storage.Client
	bucket string
	prefix string
}

// NewUploadArtifacts creates the artifact upload stage. It only runs for
// succeeded runs when client and bucket are both set; objects land under
// prefix/<run id>/.
func NewUploadArtifacts(name string, client *storage.Client, bucket, prefix string) *UploadArtifacts {
	return &UploadArtifacts{
		BaseCommand: *cor.NewBaseCommand(name).WithParams(ParamRun, ParamRun),
		client:      client,
		bucket:      bucket,
		prefix:      prefix,
	}
}

func (c *UploadArtifacts) IsExecutable(context cor.Context) bool {
	if c.client == nil || c.bucket == "" || !c.BaseCommand.IsExecutable(context) {
		return false
	}
	return RunOf(context).Status == model.RunSucceeded
}

// ObjectName is where a local artifact of run is stored in the bucket.
func (c *UploadArtifacts) ObjectName(run *model.ExperimentRun, local string) string {
	return path.Join(c.prefix, run.Id, filepath.Base(local))
}

func (c *UploadArtifacts) Execute(context cor.Context) {
	run := RunOf(context)
	uploads := []struct {
		local string
		uri   *string
	}{
		{run.Reconstruction, &run.ReconstructionURI},
		{run.Chart, &run.ChartURI},
	}
	for _, u := range uploads {
		if u.local == "" {
			continue
		}
		obj := &cloud.GCSObject{Bucket: c.bucket, Name: c.ObjectName(run, u.local)}
		if err := c.upload(context, u.local, obj); err != nil {
			fail(c, context, err)
			return
		}
		*u.uri = obj.URI()
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
}

func (c *UploadArtifacts) upload(context cor.Context, local string, obj *cloud.GCSObject) error {
	ctx := context.GetContext()
	in, err := os.Open(local)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", local, err)
	}
	defer in.Close()

	writer := c.client.Bucket(obj.Bucket).Object(obj.Name).NewWriter(ctx)
	written, err := io.Copy(writer, in)
	if err != nil {
		_ = writer.Close()
		return fmt.Errorf("copying %s to %s after %d bytes: %w", local, obj.URI(), written, err)
	}
	if err = writer.Close(); err != nil {
		return fmt.Errorf("finalizing %s: %w", obj.URI(), err)
	}
	slog.InfoContext(ctx, "artifact uploaded", "file", local, "uri", obj.URI(), "bytes", written)
	return nil
}
