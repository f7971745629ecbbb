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

// Package objectstore records replication outcomes as JSON objects in an S3
// compatible bucket, one object per image and tag.
package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ratify-project/imagesync-go"
)

// StoreType is the outcome store type of [Store].
const StoreType = "objectstore"

const contentTypeJSON = "application/json"

func init() {
	imagesync.RegisterOutcomeStore(StoreType, func(opts imagesync.CreateOutcomeStoreOptions) (imagesync.OutcomeStore, error) {
		cfg, err := ParseConfig(opts.Parameters)
		if err != nil {
			return nil, err
		}
		client, err := NewMinIOClient(cfg)
		if err != nil {
			return nil, err
		}
		store, err := New(client, cfg.Bucket, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		if cfg.CreateBucket {
			if err := store.EnsureBucket(context.Background(), cfg.Region); err != nil {
				return nil, err
			}
		}
		return store, nil
	})
}

// Config configures the bucket outcomes are written to.
type Config struct {
	Endpoint     string `mapstructure:"endpoint"`
	AccessKey    string `mapstructure:"accessKey"`
	SecretKey    string `mapstructure:"secretKey"`
	Region       string `mapstructure:"region"`
	UseSSL       bool   `mapstructure:"useSSL"`
	Bucket       string `mapstructure:"bucket"`
	Prefix       string `mapstructure:"prefix"`
	CreateBucket bool   `mapstructure:"createBucket"`
}

// ParseConfig decodes the outcome store parameters.
func ParseConfig(params any) (Config, error) {
	cfg := Config{Region: "us-east-1", UseSSL: true}
	if params != nil {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			Result:           &cfg,
		})
		if err != nil {
			return Config{}, err
		}
		if err := decoder.Decode(params); err != nil {
			return Config{}, fmt.Errorf("invalid objectstore outcome store parameters: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("objectstore endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("objectstore endpoint must not include scheme: %q", c.Endpoint)
	}
	if strings.TrimSpace(c.AccessKey) == "" || strings.TrimSpace(c.SecretKey) == "" {
		return errors.New("objectstore access key and secret key are required")
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("objectstore bucket is required")
	}
	return nil
}

// NewMinIOClient returns a client of the configured endpoint.
func NewMinIOClient(cfg Config) (*minio.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Client is the subset of [minio.Client] used by [Store].
type Client interface {
	BucketExists(ctx context.Context, bucketName string) (bool, error)
	MakeBucket(ctx context.Context, bucketName string, opts minio.MakeBucketOptions) error
	PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Store is an outcome store writing one JSON object per image and tag.
type Store struct {
	client Client
	bucket string
	prefix string
}

// New returns a store writing to bucket under prefix.
func New(client Client, bucket, prefix string) (*Store, error) {
	if client == nil {
		return nil, errors.New("objectstore client is required")
	}
	if bucket == "" {
		return nil, errors.New("objectstore bucket is required")
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context, region string) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("bucket exists: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: region}); err != nil {
		return fmt.Errorf("make bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Key returns the object key of image:tag.
func (s *Store) Key(image, tag string) string {
	return path.Join(s.prefix, image, tag+".json")
}

// Put implements [imagesync.OutcomeStore]. The object of (image, tag) is
// overwritten by the latest record.
func (s *Store) Put(ctx context.Context, record imagesync.OutcomeRecord) error {
	if record.Image == "" {
		return errors.New("outcome record image is required")
	}
	body, err := json.Marshal(record)
	if err != nil {
		return err
	}
	key := s.Key(record.Image, record.Tag)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: contentTypeJSON,
	})
	if err != nil {
		return fmt.Errorf("failed to put outcome object %s: %w", key, err)
	}
	return nil
}
