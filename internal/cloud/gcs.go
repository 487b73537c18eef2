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

// Package cloud contains the Google Cloud plumbing of the experiment. This
// file models Cloud Storage objects: the JSON payload of a bucket
// notification, the compact GCSObject passed between workflow commands, and
// helpers for gs:// URIs used as experiment sources and artifact locations.
package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
)

// GCSScheme prefixes every Cloud Storage URI.
const GCSScheme = "gs://"

// ErrNotGCSURI is returned by ParseGCSURI for anything that is not gs://bucket/object.
var ErrNotGCSURI = errors.New("not a gs:// object uri")

// GetGCSObjectName is the workflow context key holding the *GCSObject a
// run was triggered for.
func GetGCSObjectName() string {
	return "__GCS__OBJ__"
}

// GCSPubSubNotification is the JSON body Cloud Storage publishes to Pub/Sub
// when an object changes. Only the fields the experiment reads are mapped.
type GCSPubSubNotification struct {
	Kind        string                 `json:"kind"`
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Bucket      string                 `json:"bucket"`
	Generation  string                 `json:"generation"`
	ContentType string                 `json:"contentType"`
	TimeCreated string                 `json:"timeCreated"`
	Updated     string                 `json:"updated"`
	Size        string                 `json:"size"`
	MD5Hash     string                 `json:"md5Hash"`
	MetaData    map[string]interface{} `json:"metadata"`
}

// GCSObject identifies one object in a bucket.
type GCSObject struct {
	Bucket   string
	Name     string
	MIMEType string
}

// URI renders the object as gs://bucket/name.
func (o *GCSObject) URI() string {
	return GCSScheme + o.Bucket + "/" + o.Name
}

// BaseName is the last path element of the object name.
func (o *GCSObject) BaseName() string {
	return path.Base(o.Name)
}

// IsGCSURI reports whether s uses the gs:// scheme.
func IsGCSURI(s string) bool {
	return strings.HasPrefix(s, GCSScheme)
}

// ParseGCSURI splits gs://bucket/object into a GCSObject.
func ParseGCSURI(uri string) (*GCSObject, error) {
	if !IsGCSURI(uri) {
		return nil, fmt.Errorf("%w: %q", ErrNotGCSURI, uri)
	}
	bucket, name, ok := strings.Cut(strings.TrimPrefix(uri, GCSScheme), "/")
	if !ok || bucket == "" || name == "" {
		return nil, fmt.Errorf("%w: %q", ErrNotGCSURI, uri)
	}
	return &GCSObject{Bucket: bucket, Name: name}, nil
}

// ParseNotification decodes a bucket notification message body.
func ParseNotification(data []byte) (*GCSObject, error) {
	var n GCSPubSubNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to decode storage notification: %w", err)
	}
	if n.Bucket == "" || n.Name == "" {
		return nil, errors.New("storage notification has no bucket or object name")
	}
	return &GCSObject{Bucket: n.Bucket, Name: n.Name, MIMEType: n.ContentType}, nil
}
