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
	"context"

	"github.com/opencontainers/go-digest"
)

// RegistryClient lists the content of a source registry.
//
// Both operations are paginated: an empty token requests the first page and
// a returned empty NextToken means the listing is exhausted. Pages of one
// listing must be requested sequentially.
type RegistryClient interface {
	// ListRepositories returns one page of repository names.
	ListRepositories(ctx context.Context, token string) (RepositoryPage, error)

	// ListTaggedImages returns one page of tagged images of repository.
	ListTaggedImages(ctx context.Context, repository string, token string) (ImagePage, error)
}

// RepositoryPage is a page of repository names.
type RepositoryPage struct {
	Repositories []string
	NextToken    string
}

// ImagePage is a page of tagged images.
type ImagePage struct {
	Images    []TaggedImage
	NextToken string
}

// TaggedImage is an image manifest with the tags pointing at it. Tags are in
// the order the registry returned them.
type TaggedImage struct {
	// Digest of the image manifest. Optional.
	Digest digest.Digest

	// Tags associated with the image.
	Tags []string
}

// RegistryClientFactory creates a client for the registry at host. cred is
// nil when the registry is accessed with the ambient identity.
type RegistryClientFactory func(host string, cred *Credentials) (RegistryClient, error)
