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

// Package kafka publishes replication alerts to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/segmentio/kafka-go"

	"github.com/ratify-project/imagesync-go"
)

// PublisherType is the alert publisher type of [Publisher].
const PublisherType = "kafka"

func init() {
	imagesync.RegisterAlertPublisher(PublisherType, func(opts imagesync.CreateAlertPublisherOptions) (imagesync.AlertPublisher, error) {
		cfg, err := ParseConfig(opts.Parameters)
		if err != nil {
			return nil, err
		}
		p, err := New(NewWriter(cfg))
		if err != nil {
			return nil, err
		}
		return p, nil
	})
}

// Config configures the topic alerts are written to.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	BatchTimeout time.Duration `mapstructure:"batchTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
}

// ParseConfig decodes the alert publisher parameters.
func ParseConfig(params any) (Config, error) {
	cfg := Config{
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
	}
	if params != nil {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		})
		if err != nil {
			return Config{}, err
		}
		if err := decoder.Decode(params); err != nil {
			return Config{}, fmt.Errorf("invalid kafka alert parameters: %w", err)
		}
	}
	if len(cfg.Brokers) == 0 {
		return Config{}, errors.New("kafka brokers are required")
	}
	if cfg.Topic == "" {
		return Config{}, errors.New("kafka topic is required")
	}
	return cfg, nil
}

// NewWriter returns a writer of the configured topic. Alerts of the same
// image land on the same partition.
func NewWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           cfg.BatchTimeout,
		WriteTimeout:           cfg.WriteTimeout,
		AllowAutoTopicCreation: false,
	}
}

// MessageWriter is the subset of [kafka.Writer] used by [Publisher].
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes every alert as one JSON message keyed by image.
type Publisher struct {
	writer MessageWriter
}

// New returns a publisher writing with w.
func New(w MessageWriter) (*Publisher, error) {
	if w == nil {
		return nil, errors.New("kafka writer is required")
	}
	return &Publisher{writer: w}, nil
}

// Publish implements [imagesync.AlertPublisher].
func (p *Publisher) Publish(ctx context.Context, msg imagesync.AlertMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Image),
		Value: value,
		Headers: []kafka.Header{
			{Key: "execution", Value: []byte(msg.ExecutionID)},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish alert for %s:%s: %w", msg.Image, msg.Tag, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
