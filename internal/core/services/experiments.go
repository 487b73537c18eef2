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

// Package services exposes read access to recorded experiment runs for the
// HTTP API. Runs come from the BigQuery experiment table when a BigQuery
// client is configured and from the local ledger otherwise. Reconstructed
// videos are served through short-lived signed URLs.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"github.com/jaycherian/gencomm-video/internal/cloud"
	"github.com/jaycherian/gencomm-video/internal/core/model"
	"github.com/jaycherian/gencomm-video/internal/ledger"
	"google.golang.org/api/iterator"
)

var (
	// ErrNoRunSource means neither BigQuery nor a ledger is configured.
	ErrNoRunSource = errors.New("no experiment store configured")
	// ErrNoArtifact means the run has no uploaded reconstruction.
	ErrNoArtifact = errors.New("run has no uploaded reconstruction")
)

// DefaultListLimit caps List when the caller passes a non-positive limit.
const DefaultListLimit = 50

// RunReader is the read side of the local ledger.
type RunReader interface {
	Get(ctx context.Context, id string) (*model.ExperimentRun, error)
	List(ctx context.Context, limit int) ([]*model.ExperimentRun, error)
}

// ExperimentService reads experiment runs.
type ExperimentService struct {
	BigqueryClient  *bigquery.Client
	StorageClient   *storage.Client
	IAMClient       *credentials.IamCredentialsClient
	SignerEmail     string // service account that signs video URLs
	DatasetName     string
	ExperimentTable string
	Ledger          RunReader
}

func (s *ExperimentService) useBigQuery() bool {
	return s.BigqueryClient != nil && s.DatasetName != "" && s.ExperimentTable != ""
}

// GetFQN returns the table name in the dotted form used in SQL.
func (s *ExperimentService) GetFQN() string {
	fqn := s.BigqueryClient.Dataset(s.DatasetName).Table(s.ExperimentTable).FullyQualifiedName()
	return strings.Replace(fqn, ":", ".", -1)
}

// List returns the most recent runs, newest first.
func (s *ExperimentService) List(ctx context.Context, limit int) ([]*model.ExperimentRun, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	switch {
	case s.useBigQuery():
		q := s.BigqueryClient.Query(fmt.Sprintf(QryListExperiments, s.GetFQN()))
		q.Parameters = []bigquery.QueryParameter{{Name: "limit", Value: limit}}
		return s.read(ctx, q)
	case s.Ledger != nil:
		return s.Ledger.List(ctx, limit)
	default:
		return nil, ErrNoRunSource
	}
}

// Get returns one run. Unknown ids yield an error wrapping ledger.ErrRunNotFound.
func (s *ExperimentService) Get(ctx context.Context, id string) (*model.ExperimentRun, error) {
	switch {
	case s.useBigQuery():
		q := s.BigqueryClient.Query(fmt.Sprintf(QryFindExperimentById, s.GetFQN()))
		q.Parameters = []bigquery.QueryParameter{{Name: "id", Value: id}}
		runs, err := s.read(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(runs) == 0 {
			return nil, fmt.Errorf("%w: %s", ledger.ErrRunNotFound, id)
		}
		return runs[0], nil
	case s.Ledger != nil:
		return s.Ledger.Get(ctx, id)
	default:
		return nil, ErrNoRunSource
	}
}

func (s *ExperimentService) read(ctx context.Context, q *bigquery.Query) ([]*model.ExperimentRun, error) {
	itr, err := q.Read(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.ExperimentRun, 0)
	for {
		run := &model.ExperimentRun{}
		err := itr.Next(run)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// SignedVideoURL returns a V4 signed GET URL for the run's uploaded
// reconstruction, valid for expires.
func (s *ExperimentService) SignedVideoURL(ctx context.Context, id string, expires time.Duration) (string, error) {
	run, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if run.ReconstructionURI == "" {
		return "", fmt.Errorf("%w: %s", ErrNoArtifact, id)
	}
	return s.GenerateSignedURL(ctx, run.ReconstructionURI, expires)
}

// GenerateSignedURL signs a GET URL for a gs:// object. With a signer
// email and IAM client the signature is produced by the IAM credentials
// API, so no private key is needed locally.
func (s *ExperimentService) GenerateSignedURL(ctx context.Context, gcsURI string, expires time.Duration) (string, error) {
	obj, err := cloud.ParseGCSURI(gcsURI)
	if err != nil {
		return "", err
	}
	if s.StorageClient == nil {
		return "", fmt.Errorf("%w: storage client needed to sign %s", cloud.ErrNoCloud, gcsURI)
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(expires),
	}
	if s.SignerEmail != "" && s.IAMClient != nil {
		opts.GoogleAccessID = s.SignerEmail
		opts.SignBytes = func(b []byte) ([]byte, error) {
			resp, err := s.IAMClient.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    "projects/-/serviceAccounts/" + s.SignerEmail,
				Payload: b,
			})
			if err != nil {
				return nil, err
			}
			return resp.SignedBlob, nil
		}
	}
	u, err := s.StorageClient.Bucket(obj.Bucket).SignedURL(obj.Name, opts)
	if err != nil {
		return "", fmt.Errorf("signing %s: %w", gcsURI, err)
	}
	return u, nil
}
