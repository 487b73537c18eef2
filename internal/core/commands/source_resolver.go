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

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gencomm-video/internal/cloud"
	"github.com/jaycherian/gencomm-video/internal/core/cor"
	"github.com/jaycherian/gencomm-video/internal/core/model"
)

// SourceResolver makes the experiment input available as a local file.
// gs:// sources are downloaded to a temporary file that is removed when the
// workflow context is closed; local paths are checked and passed through.
type SourceResolver struct {
	cor.BaseCommand
	client         *storage.Client
	tempFilePrefix string
}

// NewSourceResolver creates the command. client may be nil when only local
// sources are used.
func NewSourceResolver(name string, client *storage.Client, tempFilePrefix string) *SourceResolver {
	return &SourceResolver{
		BaseCommand:    *cor.NewBaseCommand(name).WithParams(ParamSourceURI, ParamSourcePath),
		client:         client,
		tempFilePrefix: tempFilePrefix,
	}
}

func (c *SourceResolver) Execute(context cor.Context) {
	uri := context.Get(c.GetInputParam()).(string)
	if !cloud.IsGCSURI(uri) {
		if _, err := os.Stat(uri); err != nil {
			fail(c, context, fmt.Errorf("%w: %s: %v", model.ErrSourceNotFound, uri, err))
			return
		}
		c.GetSuccessCounter().Add(context.GetContext(), 1)
		context.Add(c.GetOutputParam(), uri)
		return
	}

	obj, err := cloud.ParseGCSURI(uri)
	if err != nil {
		fail(c, context, err)
		return
	}
	if c.client == nil {
		fail(c, context, fmt.Errorf("%w: storage client needed for %s", cloud.ErrNoCloud, uri))
		return
	}
	local, err := c.download(context, obj)
	if err != nil {
		fail(c, context, err)
		return
	}
	c.GetSuccessCounter().Add(context.GetContext(), 1)
	context.Add(c.GetOutputParam(), local)
}

func (c *SourceResolver) download(context cor.Context, obj *cloud.GCSObject) (string, error) {
	ctx := context.GetContext()
	reader, err := c.client.Bucket(obj.Bucket).Object(obj.Name).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", model.ErrSourceNotFound, obj.URI(), err)
	}
	defer func() {
		if err := reader.Close(); err != nil {
			slog.WarnContext(ctx, "failed to close storage reader", "uri", obj.URI(), "error", err)
		}
	}()

	tempFile, err := os.CreateTemp("", c.tempFilePrefix+"*"+path.Ext(obj.Name))
	if err != nil {
		return "", fmt.Errorf("could not create temp file: %w", err)
	}
	context.AddTempFile(tempFile.Name())

	written, err := io.Copy(tempFile, reader)
	closeErr := tempFile.Close()
	if err != nil {
		return "", fmt.Errorf("copying %s after %d bytes: %w", obj.URI(), written, err)
	}
	if closeErr != nil {
		return "", closeErr
	}
	slog.InfoContext(ctx, "source downloaded", "uri", obj.URI(), "file", tempFile.Name(), "bytes", written)
	return tempFile.Name(), nil
}
