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
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// maxWorkerOutputBytes bounds the worker output kept as error message.
const maxWorkerOutputBytes = 4096

// CopyRequest describes the copy of one image. It is passed to the copy
// worker by value; the worker keeps no state across requests.
type CopyRequest struct {
	SourceRepository    string
	SourceTag           string
	SourceRegistry      string
	SourceRegion        string
	SourceAccount       string
	SourceCredentialRef string

	DestRepository    string
	DestTag           string
	DestRegistry      string
	DestRegion        string
	DestAccount       string
	DestCredentialRef string
}

// newCopyRequest builds the copy request of item within rc.
func newCopyRequest(rc RunContext, item WorkItem) CopyRequest {
	return CopyRequest{
		SourceRepository:    item.Repository,
		SourceTag:           item.Tag,
		SourceRegistry:      rc.SourceHost(),
		SourceRegion:        rc.Source.Region,
		SourceAccount:       rc.Source.Account,
		SourceCredentialRef: rc.Source.CredentialRef,
		DestRepository:      rc.Destination.Repository(item.Repository),
		DestTag:             item.Tag,
		DestRegistry:        rc.DestinationHost(),
		DestRegion:          rc.Destination.Region,
		DestAccount:         rc.Destination.Account,
		DestCredentialRef:   rc.Destination.CredentialRef,
	}
}

// CopyWorker copies a single image. Copy blocks until the copy succeeded or
// failed; the returned error message is kept as the item's failure reason.
type CopyWorker interface {
	Copy(ctx context.Context, req CopyRequest) error
}

// CopyWorkerFunc adapts a function to [CopyWorker].
type CopyWorkerFunc func(ctx context.Context, req CopyRequest) error

// Copy calls f(ctx, req).
func (f CopyWorkerFunc) Copy(ctx context.Context, req CopyRequest) error {
	return f(ctx, req)
}

// ExecCopyWorker copies images by running an external program once per
// image. The request is passed through the environment:
//
//	IMAGE, TAG                  source repository and tag
//	SRC_REGISTRY, SRC_REGION, SRC_ACCOUNT_ID, SRC_CREDENTIAL
//	DEST_REPOSITORY, DEST_TAG
//	DEST_REGISTRY, DEST_REGION, DEST_ACCOUNT_ID, DEST_CREDENTIAL
//
// A non-zero exit fails the copy with the tail of the program's stderr.
type ExecCopyWorker struct {
	// Command is the program to run. Required.
	Command string

	// Args are passed to the program. Optional.
	Args []string

	// Env is appended to the inherited environment. Optional.
	Env []string
}

// Copy runs the program for req.
func (w *ExecCopyWorker) Copy(ctx context.Context, req CopyRequest) error {
	if w.Command == "" {
		return fmt.Errorf("copy worker command is required")
	}
	cmd := exec.CommandContext(ctx, w.Command, w.Args...)
	cmd.Env = append(append(os.Environ(), w.Env...), requestEnv(req)...)

	var stderr tailBuffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}

func requestEnv(req CopyRequest) []string {
	return []string{
		"IMAGE=" + req.SourceRepository,
		"TAG=" + req.SourceTag,
		"SRC_REGISTRY=" + req.SourceRegistry,
		"SRC_REGION=" + req.SourceRegion,
		"SRC_ACCOUNT_ID=" + req.SourceAccount,
		"SRC_CREDENTIAL=" + req.SourceCredentialRef,
		"DEST_REPOSITORY=" + req.DestRepository,
		"DEST_TAG=" + req.DestTag,
		"DEST_REGISTRY=" + req.DestRegistry,
		"DEST_REGION=" + req.DestRegion,
		"DEST_ACCOUNT_ID=" + req.DestAccount,
		"DEST_CREDENTIAL=" + req.DestCredentialRef,
	}
}

// tailBuffer keeps the last maxWorkerOutputBytes bytes written to it. The
// cut may split a UTF-8 sequence, String drops the partial bytes.
type tailBuffer struct {
	buf bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > maxWorkerOutputBytes {
		p = p[len(p)-maxWorkerOutputBytes:]
	}
	if overflow := b.buf.Len() + len(p) - maxWorkerOutputBytes; overflow > 0 {
		b.buf.Next(overflow)
	}
	b.buf.Write(p)
	return n, nil
}

func (b *tailBuffer) String() string {
	return strings.ToValidUTF8(b.buf.String(), "")
}
