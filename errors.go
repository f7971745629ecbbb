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

package imagesync

import (
	"errors"

	ierrors "github.com/ratify-project/imagesync-go/internal/errors"
)

// Sentinels to match with [errors.Is].
var (
	// ErrEnumeration is returned when the work items of a run could not be
	// produced. The run is aborted before any item is copied.
	ErrEnumeration error = ierrors.ErrorCodeEnumerationFailure.NewError()

	// ErrItemCopy wraps copy worker failures.
	ErrItemCopy error = ierrors.ErrorCodeItemCopyFailure.NewError()

	// ErrRecording is logged when an outcome record or an alert could not be
	// delivered.
	ErrRecording error = ierrors.ErrorCodeRecordingFailure.NewError()

	// ErrConfig is returned for an unusable run configuration.
	ErrConfig error = ierrors.ErrorCodeConfigInvalid.NewError()

	// ErrCredentialNotFound is returned when the named secret does not exist.
	ErrCredentialNotFound error = ierrors.ErrorCodeCredentialNotFound.NewError()

	// ErrCredentialDecryption is returned when the named secret cannot be
	// decoded into credentials.
	ErrCredentialDecryption error = ierrors.ErrorCodeCredentialDecryptionFailure.NewError()

	// ErrCredentialInvalidRequest is returned for a malformed secret name.
	ErrCredentialInvalidRequest error = ierrors.ErrorCodeCredentialInvalidRequest.NewError()
)

var (
	errNilCopyWorker    = errors.New("copy worker must be configured")
	errNilOutcomeStore  = errors.New("outcome store must be configured")
	errNilAlert         = errors.New("alert publisher must be configured")
	errNilEnumerator    = errors.New("enumerator must be configured")
	errNilCoordinator   = errors.New("coordinator must be configured")
	errNilHandleSource  = errors.New("handle source must be configured")
	errNilClientFactory = errors.New("registry client factory must be configured")
	errNilResolver      = errors.New("credential resolver must be configured to scan a registry in another account")
	errRegistryRequired = errors.New("registry host is required")
)

func configError(detail string) error {
	return ierrors.ErrorCodeConfigInvalid.WithDetail(detail)
}

func enumerationError(err error) error {
	return ierrors.ErrorCodeEnumerationFailure.WithError(err)
}

func recordingError(err error) error {
	return ierrors.ErrorCodeRecordingFailure.WithError(err)
}
