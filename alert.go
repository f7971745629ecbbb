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
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// AlertCopyFailed is the error of the alert published when an image
	// exhausted its copy attempts.
	AlertCopyFailed = "Failed to copy image"

	// LogAlertPublisherType is the type name of [LogAlertPublisher].
	LogAlertPublisherType = "log"
)

var (
	registeredAlertPublishers   map[string]func(CreateAlertPublisherOptions) (AlertPublisher, error)
	registeredAlertPublishersMu sync.RWMutex
)

func init() {
	RegisterAlertPublisher(LogAlertPublisherType, func(CreateAlertPublisherOptions) (AlertPublisher, error) {
		return &LogAlertPublisher{}, nil
	})
}

// AlertMessage notifies an operator of an image that failed terminally.
type AlertMessage struct {
	Error       string `json:"error"`
	ExecutionID string `json:"execution"`
	Image       string `json:"image"`
	Tag         string `json:"tag"`
}

// AlertPublisher publishes alerts. Delivery is fire-and-forget: a returned
// error only reports that the message was not handed over.
type AlertPublisher interface {
	Publish(ctx context.Context, msg AlertMessage) error
}

// CreateAlertPublisherOptions represents the options to create an alert
// publisher.
type CreateAlertPublisherOptions struct {
	// Type represents a specific implementation of alert publishers.
	// Required.
	Type string

	// Parameters of the publisher. Optional.
	Parameters any
}

// RegisterAlertPublisher registers an alert publisher factory to the system.
func RegisterAlertPublisher(publisherType string, create func(CreateAlertPublisherOptions) (AlertPublisher, error)) {
	if publisherType == "" {
		panic("alert publisher type cannot be empty")
	}
	if create == nil {
		panic("alert publisher factory cannot be nil")
	}
	registeredAlertPublishersMu.Lock()
	defer registeredAlertPublishersMu.Unlock()
	if registeredAlertPublishers == nil {
		registeredAlertPublishers = make(map[string]func(CreateAlertPublisherOptions) (AlertPublisher, error))
	}
	if _, registered := registeredAlertPublishers[publisherType]; registered {
		panic(fmt.Sprintf("alert publisher factory type %s already registered", publisherType))
	}
	registeredAlertPublishers[publisherType] = create
}

// CreateAlertPublisher creates an alert publisher instance if it belongs to
// a registered type.
func CreateAlertPublisher(opts CreateAlertPublisherOptions) (AlertPublisher, error) {
	if opts.Type == "" {
		return nil, fmt.Errorf("type is not provided in the alert publisher options")
	}
	registeredAlertPublishersMu.RLock()
	create, ok := registeredAlertPublishers[opts.Type]
	registeredAlertPublishersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("alert publisher factory of type %s is not registered", opts.Type)
	}
	return create(opts)
}

// LogAlertPublisher writes alerts to a logger at error level.
type LogAlertPublisher struct {
	// Logger receives the alerts. If nil, the logrus standard logger is used.
	Logger logrus.FieldLogger
}

// Publish implements [AlertPublisher].
func (p *LogAlertPublisher) Publish(_ context.Context, msg AlertMessage) error {
	logger := p.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"alert":     true,
		"execution": msg.ExecutionID,
		"image":     msg.Image,
		"tag":       msg.Tag,
	}).Error(msg.Error)
	return nil
}
