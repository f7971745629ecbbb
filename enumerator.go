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
	"fmt"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"
)

// Enumerator produces the work items of a run.
type Enumerator struct {
	// NewRegistryClient creates the client of the source registry. Required
	// for full registry scans.
	NewRegistryClient RegistryClientFactory

	// Credentials resolves the source credential when the source registry
	// belongs to another account. Optional otherwise.
	Credentials CredentialResolver

	// Logger is used for progress logging. If nil, the logrus standard
	// logger is used.
	Logger logrus.FieldLogger
}

// Enumerate returns the work items selected by rc.
//
// A full registry scan walks every page of repositories and, per repository,
// every page of tagged images. Each image contributes its first tag only.
// Enumeration is all-or-nothing: any failure discards the items collected so
// far and returns an error matching [ErrEnumeration].
func (e *Enumerator) Enumerate(ctx context.Context, rc RunContext) ([]WorkItem, error) {
	rc = rc.withDefaults()
	switch rc.SourceKind {
	case CuratedList:
		return e.parseCuratedList(rc.CuratedList), nil
	case FullRegistryScan:
		ctx, cancel := context.WithTimeout(ctx, rc.EnumerationTimeout)
		defer cancel()
		items, err := e.scan(ctx, rc)
		if err != nil {
			return nil, enumerationError(err)
		}
		return items, nil
	default:
		return nil, configError(fmt.Sprintf("unknown source kind %v", rc.SourceKind))
	}
}

// scan enumerates the source registry of rc.
func (e *Enumerator) scan(ctx context.Context, rc RunContext) ([]WorkItem, error) {
	client, err := e.client(ctx, rc)
	if err != nil {
		return nil, err
	}
	logger := e.logger().WithField("registry", rc.SourceHost())

	repositories, err := listRepositories(ctx, client)
	if err != nil {
		return nil, err
	}
	logger.Debugf("found %d repositories", len(repositories))

	var items []WorkItem
	for _, repository := range repositories {
		images, err := listTaggedImages(ctx, client, repository)
		if err != nil {
			return nil, err
		}
		for _, image := range images {
			if len(image.Tags) == 0 {
				logger.WithField("image", repository).Debugf("skipping untagged image %s", image.Digest)
				continue
			}
			items = append(items, WorkItem{
				Repository: repository,
				Tag:        image.Tags[0],
			})
		}
	}
	logger.Infof("enumerated %d images", len(items))
	return items, nil
}

// client creates the registry client, scoped to the resolved source
// credential when the source registry belongs to another account.
func (e *Enumerator) client(ctx context.Context, rc RunContext) (RegistryClient, error) {
	if e.NewRegistryClient == nil {
		return nil, errNilClientFactory
	}
	host := rc.SourceHost()
	if host == "" {
		return nil, errRegistryRequired
	}

	var cred *Credentials
	if rc.crossAccountSource() {
		if e.Credentials == nil {
			return nil, errNilResolver
		}
		resolved, err := e.Credentials.Resolve(ctx, rc.Source.CredentialRef)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve credential of account %s: %w", rc.Source.Account, err)
		}
		cred = &resolved
	}
	return e.NewRegistryClient(host, cred)
}

func (e *Enumerator) logger() logrus.FieldLogger {
	if e.Logger == nil {
		return logrus.StandardLogger()
	}
	return e.Logger
}

// listRepositories follows the repository listing to its last page.
func listRepositories(ctx context.Context, client RegistryClient) ([]string, error) {
	var repositories []string
	seen := make(map[string]struct{})
	var token string
	for {
		page, err := client.ListRepositories(ctx, token)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}
		repositories = append(repositories, page.Repositories...)
		if page.NextToken == "" {
			return repositories, nil
		}
		if _, ok := seen[page.NextToken]; ok {
			return nil, fmt.Errorf("failed to list repositories: continuation token %q repeated", page.NextToken)
		}
		seen[page.NextToken] = struct{}{}
		token = page.NextToken
	}
}

// listTaggedImages follows the image listing of repository to its last page.
func listTaggedImages(ctx context.Context, client RegistryClient, repository string) ([]TaggedImage, error) {
	var images []TaggedImage
	seen := make(map[string]struct{})
	var token string
	for {
		page, err := client.ListTaggedImages(ctx, repository, token)
		if err != nil {
			return nil, fmt.Errorf("failed to list images of %s: %w", repository, err)
		}
		images = append(images, page.Images...)
		if page.NextToken == "" {
			return images, nil
		}
		if _, ok := seen[page.NextToken]; ok {
			return nil, fmt.Errorf("failed to list images of %s: continuation token %q repeated", repository, page.NextToken)
		}
		seen[page.NextToken] = struct{}{}
		token = page.NextToken
	}
}

// ParseCuratedList parses a comma separated list of "repository[:tag]"
// entries. Whitespace, line breaks and literal "\n" sequences are ignored
// anywhere in the list. A missing or empty tag defaults to [DefaultTag].
// Empty entries and entries without repository are skipped.
func ParseCuratedList(list string) []WorkItem {
	return (&Enumerator{}).parseCuratedList(list)
}

func (e *Enumerator) parseCuratedList(list string) []WorkItem {
	list = strings.ReplaceAll(list, `\n`, "")
	list = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, list)
	if list == "" {
		return []WorkItem{}
	}

	entries := strings.Split(list, ",")
	items := make([]WorkItem, 0, len(entries))
	for _, entry := range entries {
		repository, tag, _ := strings.Cut(entry, ":")
		if repository == "" {
			if entry != "" {
				e.logger().Debugf("skipping curated entry %q without repository", entry)
			}
			continue
		}
		if tag == "" {
			tag = DefaultTag
		}
		items = append(items, WorkItem{
			Repository: repository,
			Tag:        tag,
		})
	}
	return items
}
