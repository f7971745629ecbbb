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

package objectstore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/minio/minio-go/v7"

	"github.com/ratify-project/imagesync-go"
)

type putCall struct {
	bucket      string
	key         string
	body        []byte
	contentType string
}

type fakeClient struct {
	exists  bool
	made    []string
	puts    []putCall
	putErr  error
	headErr error
}

func (c *fakeClient) BucketExists(_ context.Context, _ string) (bool, error) {
	return c.exists, c.headErr
}

func (c *fakeClient) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	c.made = append(c.made, bucket)
	return nil
}

func (c *fakeClient) PutObject(_ context.Context, bucket, key string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	if c.putErr != nil {
		return minio.UploadInfo{}, c.putErr
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	if int64(len(body)) != size {
		return minio.UploadInfo{}, errors.New("size mismatch")
	}
	c.puts = append(c.puts, putCall{bucket: bucket, key: key, body: body, contentType: opts.ContentType})
	return minio.UploadInfo{Bucket: bucket, Key: key, Size: size}, nil
}

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig(map[string]any{
		"endpoint":     "minio:9000",
		"accesskey":    "sync",
		"secretkey":    "secret",
		"bucket":       "outcomes",
		"useSSL":       "false",
		"createBucket": true,
	})
	if err != nil {
		t.Fatalf("ParseConfig() error = %v, want nil", err)
	}
	if cfg.UseSSL || !cfg.CreateBucket || cfg.Region != "us-east-1" {
		t.Errorf("ParseConfig() = %+v", cfg)
	}

	for name, params := range map[string]any{
		"nil":            nil,
		"scheme":         map[string]any{"endpoint": "https://minio:9000", "accessKey": "a", "secretKey": "s", "bucket": "b"},
		"missing secret": map[string]any{"endpoint": "minio:9000", "accessKey": "a", "bucket": "b"},
		"missing bucket": map[string]any{"endpoint": "minio:9000", "accessKey": "a", "secretKey": "s"},
	} {
		if _, err := ParseConfig(params); err == nil {
			t.Errorf("ParseConfig(%s) error = nil, want error", name)
		}
	}
}

func TestStore_Put(t *testing.T) {
	client := &fakeClient{}
	store, err := New(client, "outcomes", "/replication/")
	if err != nil {
		t.Fatalf("New() error = %v, want nil", err)
	}

	record := imagesync.OutcomeRecord{Image: "team/app", Tag: "v1", ExecutionID: "exec-1", Status: imagesync.OutcomeDone}
	if err := store.Put(context.Background(), record); err != nil {
		t.Fatalf("Put() error = %v, want nil", err)
	}
	if len(client.puts) != 1 {
		t.Fatalf("Put() wrote %d objects, want 1", len(client.puts))
	}
	put := client.puts[0]
	if put.bucket != "outcomes" || put.key != "replication/team/app/v1.json" || put.contentType != contentTypeJSON {
		t.Errorf("Put() wrote %s/%s (%s)", put.bucket, put.key, put.contentType)
	}
	var got imagesync.OutcomeRecord
	if err := json.Unmarshal(put.body, &got); err != nil {
		t.Fatalf("object body is not a record: %v", err)
	}
	if got.ExecutionID != "exec-1" || got.Status != imagesync.OutcomeDone {
		t.Errorf("object body = %+v, want %+v", got, record)
	}

	if err := store.Put(context.Background(), imagesync.OutcomeRecord{}); err == nil {
		t.Error("Put() without image error = nil, want error")
	}
	client.putErr = errors.New("access denied")
	if err := store.Put(context.Background(), record); !errors.Is(err, client.putErr) {
		t.Errorf("Put() error = %v, want %v", err, client.putErr)
	}
}

func TestStore_EnsureBucket(t *testing.T) {
	client := &fakeClient{}
	store, _ := New(client, "outcomes", "")
	if err := store.EnsureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("EnsureBucket() error = %v, want nil", err)
	}
	if len(client.made) != 1 || client.made[0] != "outcomes" {
		t.Errorf("EnsureBucket() made %v, want [outcomes]", client.made)
	}

	client.exists = true
	if err := store.EnsureBucket(context.Background(), "us-east-1"); err != nil {
		t.Fatalf("EnsureBucket() error = %v, want nil", err)
	}
	if len(client.made) != 1 {
		t.Errorf("EnsureBucket() made the existing bucket again")
	}

	client.headErr = errors.New("timeout")
	if err := store.EnsureBucket(context.Background(), "us-east-1"); !errors.Is(err, client.headErr) {
		t.Errorf("EnsureBucket() error = %v, want %v", err, client.headErr)
	}
}

func TestNew(t *testing.T) {
	if _, err := New(nil, "outcomes", ""); err == nil {
		t.Error("New(nil) error = nil, want error")
	}
	if _, err := New(&fakeClient{}, "", ""); err == nil {
		t.Error("New() without bucket error = nil, want error")
	}
	store, _ := New(&fakeClient{}, "outcomes", "")
	if got := store.Key("cache", "7"); got != "cache/7.json" {
		t.Errorf("Key() = %s, want cache/7.json", got)
	}
}

func TestCreateOutcomeStore(t *testing.T) {
	store, err := imagesync.CreateOutcomeStore(imagesync.CreateOutcomeStoreOptions{
		Type: StoreType,
		Parameters: map[string]any{
			"endpoint":  "minio.example.com:9000",
			"accessKey": "sync",
			"secretKey": "secret",
			"bucket":    "outcomes",
		},
	})
	if err != nil {
		t.Fatalf("CreateOutcomeStore(objectstore) error = %v, want nil", err)
	}
	if _, ok := store.(*Store); !ok {
		t.Errorf("CreateOutcomeStore(objectstore) = %T, want *Store", store)
	}
}
