// Copyright 2015 Light Code Labs, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stevedore carries the project's identity shared by the
// command and the server components.
package stevedore

// Version is the release version reported by the version subcommand.
const Version = "1.0.0"

// DefaultConfigPath is the configuration file used when the command
// line names none.
const DefaultConfigPath = "./conf/default.conf"
