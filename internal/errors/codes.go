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

package errors

var (
	// ErrorCodeUnknown is a generic error that can be used as a last
	// resort if there is no situation-specific error message that can be used
	ErrorCodeUnknown = Register(ErrorDescriptor{
		Value:       "UNKNOWN",
		Description: "An unknown error occurred.",
	})

	// ErrorCodeEnumerationFailure is returned when the work item list of a
	// run could not be produced. It aborts the run before fan-out.
	ErrorCodeEnumerationFailure = Register(ErrorDescriptor{
		Value:       "ENUMERATION_FAILURE",
		Description: "Failed to enumerate the images to replicate.",
	})

	// ErrorCodeItemCopyFailure is returned when the copy worker failed to
	// replicate a single image.
	ErrorCodeItemCopyFailure = Register(ErrorDescriptor{
		Value:       "ITEM_COPY_FAILURE",
		Description: "Failed to copy image.",
	})

	// ErrorCodeRecordingFailure is returned when an outcome record or an
	// alert could not be delivered. It is logged and never fails the item.
	ErrorCodeRecordingFailure = Register(ErrorDescriptor{
		Value:       "RECORDING_FAILURE",
		Description: "Failed to record the replication outcome.",
	})

	// ErrorCodeConfigInvalid is returned when the run configuration is not
	// usable.
	ErrorCodeConfigInvalid = Register(ErrorDescriptor{
		Value:       "CONFIG_INVALID",
		Description: "The replication configuration is invalid.",
	})

	ErrorCodeCredentialNotFound = Register(ErrorDescriptor{
		Value:       "CREDENTIAL_NOT_FOUND",
		Description: "The named credential does not exist.",
	})

	ErrorCodeCredentialDecryptionFailure = Register(ErrorDescriptor{
		Value:       "CREDENTIAL_DECRYPTION_FAILURE",
		Description: "The named credential could not be decoded.",
	})

	ErrorCodeCredentialInvalidRequest = Register(ErrorDescriptor{
		Value:       "CREDENTIAL_INVALID_REQUEST",
		Description: "The credential request is malformed.",
	})
)
