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
	"errors"
	"fmt"
	"net/http"

	"github.com/opencontainers/go-digest"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// defaultUserAgent is the default user agent string sent to registries.
const defaultUserAgent = "imagesync-go"

// errStopPaging stops an oras listing after its first page.
var errStopPaging = errors.New("stop paging")

// RegistryClientOptions provides options for creating a new
// [OCIRegistryClient].
type RegistryClientOptions struct {
	// HTTPClient is the HTTP client to use for the registry requests.
	// If nil, [http.DefaultClient] will be used.
	HTTPClient *http.Client

	// PlainHTTP signals the transport to access the registry via HTTP
	// instead of HTTPS.
	PlainHTTP bool

	// UserAgent is the user agent string to use for the registry requests.
	// If empty, "imagesync-go" will be used.
	UserAgent string

	// Credential authenticates the requests. Optional.
	Credential *Credentials

	// PageSize is the page size hint sent to the registry. If less than or
	// equal to zero, the registry default is used.
	PageSize int

	// SkipDigestResolution lists every tag as its own image instead of
	// grouping the tags of a page by manifest digest.
	SkipDigestResolution bool
}

// OCIRegistryClient lists repositories and tags of a registry implementing
// the OCI distribution API. A continuation token is the last entry of the
// previous page, sent to the registry as the "last" parameter.
type OCIRegistryClient struct {
	host          string
	registry      *remote.Registry
	client        *auth.Client
	plainHTTP     bool
	pageSize      int
	resolveDigest bool
}

// NewOCIRegistryClient creates a new [OCIRegistryClient] for the registry
// at host.
func NewOCIRegistryClient(host string, opts RegistryClientOptions) (*OCIRegistryClient, error) {
	if host == "" {
		return nil, errRegistryRequired
	}

	client := &auth.Client{
		Client:   opts.HTTPClient,
		Cache:    auth.NewCache(),
		ClientID: defaultUserAgent,
	}
	if opts.UserAgent != "" {
		client.SetUserAgent(opts.UserAgent)
	} else {
		client.SetUserAgent(defaultUserAgent)
	}
	if opts.Credential != nil {
		client.Credential = auth.StaticCredential(host, opts.Credential.registryCredential())
	}

	reg, err := remote.NewRegistry(host)
	if err != nil {
		return nil, err
	}
	reg.Client = client
	reg.PlainHTTP = opts.PlainHTTP
	if opts.PageSize > 0 {
		reg.RepositoryListPageSize = opts.PageSize
	}

	return &OCIRegistryClient{
		host:          host,
		registry:      reg,
		client:        client,
		plainHTTP:     opts.PlainHTTP,
		pageSize:      opts.PageSize,
		resolveDigest: !opts.SkipDigestResolution,
	}, nil
}

// NewOCIRegistryClientFactory returns a [RegistryClientFactory] creating
// [OCIRegistryClient] instances with opts.
func NewOCIRegistryClientFactory(opts RegistryClientOptions) RegistryClientFactory {
	return func(host string, cred *Credentials) (RegistryClient, error) {
		opts := opts
		if cred != nil {
			opts.Credential = cred
		}
		return NewOCIRegistryClient(host, opts)
	}
}

// ListRepositories returns one page of the registry catalog.
func (c *OCIRegistryClient) ListRepositories(ctx context.Context, token string) (RepositoryPage, error) {
	repositories, err := firstPage(func(fn func([]string) error) error {
		return c.registry.Repositories(ctx, token, fn)
	})
	if err != nil {
		return RepositoryPage{}, err
	}
	return RepositoryPage{
		Repositories: repositories,
		NextToken:    nextToken(repositories),
	}, nil
}

// ListTaggedImages returns one page of tags of repository. Unless digest
// resolution is disabled, the tags of the page are grouped by the manifest
// they point at, keeping the registry order of both images and tags.
func (c *OCIRegistryClient) ListTaggedImages(ctx context.Context, repository string, token string) (ImagePage, error) {
	if repository == "" {
		return ImagePage{}, fmt.Errorf("repository is required")
	}
	repo, err := c.repository(repository)
	if err != nil {
		return ImagePage{}, err
	}
	tags, err := firstPage(func(fn func([]string) error) error {
		return repo.Tags(ctx, token, fn)
	})
	if err != nil {
		return ImagePage{}, err
	}
	next := nextToken(tags)

	if !c.resolveDigest {
		images := make([]TaggedImage, 0, len(tags))
		for _, tag := range tags {
			images = append(images, TaggedImage{Tags: []string{tag}})
		}
		return ImagePage{Images: images, NextToken: next}, nil
	}

	images, err := c.groupByDigest(ctx, repo, tags)
	if err != nil {
		return ImagePage{}, err
	}
	return ImagePage{Images: images, NextToken: next}, nil
}

// groupByDigest resolves every tag and groups tags sharing a manifest.
func (c *OCIRegistryClient) groupByDigest(ctx context.Context, repo *remote.Repository, tags []string) ([]TaggedImage, error) {
	repository := repo.Reference.Repository
	var images []TaggedImage
	index := make(map[digest.Digest]int)
	for _, tag := range tags {
		desc, err := repo.Resolve(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s:%s: %w", repository, tag, err)
		}
		if i, ok := index[desc.Digest]; ok {
			images[i].Tags = append(images[i].Tags, tag)
			continue
		}
		index[desc.Digest] = len(images)
		images = append(images, TaggedImage{
			Digest: desc.Digest,
			Tags:   []string{tag},
		})
	}
	return images, nil
}

// repository returns a remote repository on the client's registry.
func (c *OCIRegistryClient) repository(name string) (*remote.Repository, error) {
	repo, err := remote.NewRepository(c.host + "/" + name)
	if err != nil {
		return nil, err
	}
	repo.Client = c.client
	repo.PlainHTTP = c.plainHTTP
	if c.pageSize > 0 {
		repo.TagListPageSize = c.pageSize
	}
	return repo, nil
}

// firstPage runs a paginated oras listing and returns its first page only.
func firstPage(list func(fn func([]string) error) error) ([]string, error) {
	var page []string
	err := list(func(entries []string) error {
		page = entries
		return errStopPaging
	})
	if err != nil && !errors.Is(err, errStopPaging) {
		return nil, err
	}
	return page, nil
}

// nextToken returns the continuation token following page. Listings resume
// after the last entry seen, so an empty page ends the listing.
func nextToken(page []string) string {
	if len(page) == 0 {
		return ""
	}
	return page[len(page)-1]
}
