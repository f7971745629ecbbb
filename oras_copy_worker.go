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
	"net/http"

	"oras.land/oras-go/v2"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
)

// OrasCopyWorker copies images between registries in-process, blob by blob,
// with the oras copy graph. Credentials named in the request are resolved
// through Credentials.
type OrasCopyWorker struct {
	// Credentials resolves the source and destination credential refs.
	// Required when a request names a credential ref.
	Credentials CredentialResolver

	// HTTPClient is the HTTP client to use. If nil, [http.DefaultClient]
	// will be used.
	HTTPClient *http.Client

	// PlainHTTP accesses both registries via HTTP instead of HTTPS.
	PlainHTTP bool

	// Concurrency limits the blobs copied in parallel for one image. If
	// less than or equal to zero, the oras default is used.
	Concurrency int
}

// Copy copies SourceRepository:SourceTag to DestRepository:DestTag.
func (w *OrasCopyWorker) Copy(ctx context.Context, req CopyRequest) error {
	src, err := w.repository(ctx, req.SourceRegistry, req.SourceRepository, req.SourceCredentialRef)
	if err != nil {
		return fmt.Errorf("source: %w", err)
	}
	dst, err := w.repository(ctx, req.DestRegistry, req.DestRepository, req.DestCredentialRef)
	if err != nil {
		return fmt.Errorf("destination: %w", err)
	}

	opts := oras.DefaultCopyOptions
	if w.Concurrency > 0 {
		opts.Concurrency = w.Concurrency
	}
	if _, err := oras.Copy(ctx, src, req.SourceTag, dst, req.DestTag, opts); err != nil {
		return fmt.Errorf("failed to copy %s/%s:%s to %s/%s:%s: %w",
			req.SourceRegistry, req.SourceRepository, req.SourceTag,
			req.DestRegistry, req.DestRepository, req.DestTag, err)
	}
	return nil
}

// repository returns the remote repository name on host, authenticated with
// the credential named credentialRef if set.
func (w *OrasCopyWorker) repository(ctx context.Context, host, name, credentialRef string) (*remote.Repository, error) {
	if host == "" {
		return nil, errRegistryRequired
	}
	repo, err := remote.NewRepository(host + "/" + name)
	if err != nil {
		return nil, err
	}

	client := &auth.Client{
		Client: w.HTTPClient,
		Cache:  auth.NewCache(),
	}
	client.SetUserAgent(defaultUserAgent)
	if credentialRef != "" {
		if w.Credentials == nil {
			return nil, fmt.Errorf("credential %q: %w", credentialRef, errNilResolver)
		}
		cred, err := w.Credentials.Resolve(ctx, credentialRef)
		if err != nil {
			return nil, err
		}
		client.Credential = auth.StaticCredential(host, cred.registryCredential())
	}

	repo.Client = client
	repo.PlainHTTP = w.PlainHTTP
	return repo, nil
}
