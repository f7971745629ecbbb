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
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	ierrors "github.com/ratify-project/imagesync-go/internal/errors"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

// Credentials are the access keys stored in a named secret.
type Credentials struct {
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// registryCredential maps the access keys to registry basic auth.
func (c Credentials) registryCredential() auth.Credential {
	return auth.Credential{
		Username: c.AccessKeyID,
		Password: c.SecretAccessKey,
	}
}

// CredentialResolver fetches credentials by secret name.
//
// Implementations fail with errors matching [ErrCredentialNotFound],
// [ErrCredentialDecryption] or [ErrCredentialInvalidRequest].
type CredentialResolver interface {
	Resolve(ctx context.Context, secretName string) (Credentials, error)
}

// FileCredentialResolver reads secrets from a file system. Each secret is a
// file named after the secret holding a JSON object with "access_key_id"
// and "secret_access_key".
type FileCredentialResolver struct {
	fsys fs.FS
}

// NewFileCredentialResolver creates a [FileCredentialResolver] reading
// secrets from dir.
func NewFileCredentialResolver(dir string) *FileCredentialResolver {
	return NewFileCredentialResolverFromFS(os.DirFS(dir))
}

// NewFileCredentialResolverFromFS creates a [FileCredentialResolver]
// reading secrets from fsys.
func NewFileCredentialResolverFromFS(fsys fs.FS) *FileCredentialResolver {
	return &FileCredentialResolver{fsys: fsys}
}

// Resolve reads and decodes the secret named secretName.
func (r *FileCredentialResolver) Resolve(_ context.Context, secretName string) (Credentials, error) {
	if secretName == "" || !fs.ValidPath(secretName) {
		return Credentials{}, ierrors.ErrorCodeCredentialInvalidRequest.WithDetail(secretName)
	}
	data, err := fs.ReadFile(r.fsys, secretName)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, ierrors.ErrorCodeCredentialNotFound.WithDetail(secretName)
		}
		return Credentials{}, err
	}

	var cred Credentials
	if err := json.Unmarshal(data, &cred); err != nil {
		return Credentials{}, ierrors.ErrorCodeCredentialDecryptionFailure.WithDetail(secretName).WithError(err)
	}
	if cred.AccessKeyID == "" || cred.SecretAccessKey == "" {
		return Credentials{}, ierrors.ErrorCodeCredentialDecryptionFailure.WithDetail(secretName).WithError(errors.New("access_key_id and secret_access_key are required"))
	}
	return cred, nil
}

// DockerCredentialResolver resolves secrets from a docker config file and
// its credential helpers. The secret name is the registry server address.
type DockerCredentialResolver struct {
	store credentials.Store
}

// NewDockerCredentialResolver creates a [DockerCredentialResolver] on the
// docker config file at configPath, or on the default docker config when
// configPath is empty.
func NewDockerCredentialResolver(configPath string) (*DockerCredentialResolver, error) {
	var (
		store credentials.Store
		err   error
	)
	if configPath == "" {
		store, err = credentials.NewStoreFromDocker(credentials.StoreOptions{})
	} else {
		store, err = credentials.NewStore(configPath, credentials.StoreOptions{})
	}
	if err != nil {
		return nil, err
	}
	return &DockerCredentialResolver{store: store}, nil
}

// Resolve returns the credential of the server address secretName.
func (r *DockerCredentialResolver) Resolve(ctx context.Context, secretName string) (Credentials, error) {
	if secretName == "" {
		return Credentials{}, ierrors.ErrorCodeCredentialInvalidRequest.WithDetail("server address is required")
	}
	cred, err := r.store.Get(ctx, secretName)
	if err != nil {
		return Credentials{}, ierrors.ErrorCodeCredentialDecryptionFailure.WithDetail(secretName).WithError(err)
	}
	if cred == auth.EmptyCredential {
		return Credentials{}, ierrors.ErrorCodeCredentialNotFound.WithDetail(secretName)
	}
	if cred.Username == "" && cred.RefreshToken != "" {
		// identity tokens are exchanged by the registry client, not usable
		// as access keys.
		return Credentials{}, ierrors.ErrorCodeCredentialDecryptionFailure.WithDetail(secretName).WithError(errors.New("identity token credentials are not supported"))
	}
	return Credentials{
		AccessKeyID:     cred.Username,
		SecretAccessKey: cred.Password,
	}, nil
}
