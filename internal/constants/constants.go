/*
Copyright The Ratify Authors.
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

package constants

// EnvPrefix prefixes the environment variables of every configuration key,
// with "." replaced by "_". For example IMAGESYNC_SOURCE_REGION.
const EnvPrefix = "IMAGESYNC"

// Configuration keys.
const (
	SourceMode          = "source.mode"
	SourceRegistry      = "source.registry"
	SourceRegion        = "source.region"
	SourceAccountID     = "source.accountId"
	SourceCuratedList   = "source.curatedList"
	SourceCredentialRef = "source.credentialRef"

	DestinationRegistry      = "destination.registry"
	DestinationRegion        = "destination.region"
	DestinationAccountID     = "destination.accountId"
	DestinationPathPrefix    = "destination.pathPrefix"
	DestinationCredentialRef = "destination.credentialRef"

	CurrentAccountID   = "currentAccountId"
	ConcurrencyLimit   = "concurrencyLimit"
	EnumerationTimeout = "enumerationTimeout"
	RunTimeout         = "runTimeout"

	RetryMaxAttempts       = "retry.maxAttempts"
	RetryInitialBackoff    = "retry.initialBackoff"
	RetryBackoffMultiplier = "retry.backoffMultiplier"

	RegistryPlainHTTP = "registry.plainHTTP"
	RegistryPageSize  = "registry.pageSize"

	CredentialsDir    = "credentials.dir"
	CredentialsDocker = "credentials.docker"

	WorkerType        = "worker.type"
	WorkerCommand     = "worker.command"
	WorkerArgs        = "worker.args"
	WorkerConcurrency = "worker.concurrency"

	OutcomeStoreType       = "outcomeStore.type"
	OutcomeStoreParameters = "outcomeStore.parameters"

	AlertType       = "alert.type"
	AlertParameters = "alert.parameters"

	Schedule       = "schedule"
	MetricsAddress = "metrics.address"
)

// Copy worker types.
const (
	WorkerTypeOras = "oras"
	WorkerTypeExec = "exec"
)
