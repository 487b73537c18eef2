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

package services

// BigQuery statements for the experiment table. The table name is filled in
// with Sprintf; values are always bound as query parameters.
const (
	QryListExperiments    = "SELECT * FROM `%s` ORDER BY start_date DESC LIMIT @limit"
	QryFindExperimentById = "SELECT * FROM `%s` WHERE id = @id LIMIT 1"
)
