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

// Package imagesync replicates container images from a source registry to
// a destination registry. A run enumerates the images to copy, fans them out
// to a copy worker with bounded concurrency and retries, and records a
// terminal outcome for every image.
package imagesync

import "time"

// DefaultTag is the tag used for curated list entries without a tag.
const DefaultTag = "latest"

// WorkItem is a single image targeted for replication.
type WorkItem struct {
	// Repository is the source repository name. Required.
	Repository string

	// Tag is the source tag. Required.
	Tag string
}

// String returns the item in "repository:tag" form.
func (w WorkItem) String() string {
	return w.Repository + ":" + w.Tag
}

// OutcomeStatus is the terminal status of a work item.
type OutcomeStatus string

const (
	// OutcomeDone means the image was copied.
	OutcomeDone OutcomeStatus = "Done"

	// OutcomeError means the image could not be copied after all attempts.
	OutcomeError OutcomeStatus = "Error"
)

// OutcomeRecord is the terminal result of replicating one image in one run.
// Records are keyed by (Image, Tag); a later run overwrites the earlier
// record of the same key.
type OutcomeRecord struct {
	// Image is the source repository name.
	Image string `json:"image"`

	// Tag is the source tag.
	Tag string `json:"tag"`

	// ExecutionID identifies the run that produced the record.
	ExecutionID string `json:"execution"`

	// Status is the terminal status.
	Status OutcomeStatus `json:"status"`

	// ErrorMessage is the message of the last failed attempt. Only set when
	// Status is [OutcomeError].
	ErrorMessage string `json:"errorMessage,omitempty"`

	// RecordedAt is when the coordinator produced the record.
	RecordedAt time.Time `json:"recordedAt"`
}

// RunOutcome aggregates the terminal statuses of a run.
type RunOutcome struct {
	// Succeeded is the number of items that reached [OutcomeDone].
	Succeeded int

	// Failed is the number of items that reached [OutcomeError].
	Failed int

	// Skipped is the number of items never dispatched because the run ran
	// out of time before a slot became available.
	Skipped int
}

// Total returns the number of items the run was given.
func (o RunOutcome) Total() int {
	return o.Succeeded + o.Failed + o.Skipped
}
