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

package imagesync_test

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ratify-project/imagesync-go"
)

// ExampleParseCuratedList demonstrates how a curated list is turned into
// work items.
func ExampleParseCuratedList() {
	items := imagesync.ParseCuratedList("team/app:v1.2,\n  team/web ,cache:7")
	for _, item := range items {
		fmt.Println(item)
	}
	// Output:
	// team/app:v1.2
	// team/web:latest
	// cache:7
}

// ExampleReplicator_Run demonstrates a replication of a curated list in
// which one image keeps failing.
func ExampleReplicator_Run() {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	worker := imagesync.CopyWorkerFunc(func(_ context.Context, req imagesync.CopyRequest) error {
		if req.SourceRepository == "broken" {
			return errors.New("manifest unknown")
		}
		return nil
	})
	outcomes := imagesync.NewMemoryOutcomeStore()
	coordinator, err := imagesync.NewCoordinator(worker, outcomes, &imagesync.LogAlertPublisher{Logger: logger})
	if err != nil {
		panic(err)
	}
	coordinator.Logger = logger
	// skip the backoff between attempts.
	coordinator.Sleep = func(context.Context, time.Duration) error { return nil }

	rc := imagesync.RunContext{
		SourceKind:  imagesync.CuratedList,
		CuratedList: "app:v1,broken:v2,web",
		Source:      imagesync.Location{Registry: "source.example.com"},
		Destination: imagesync.Destination{
			Location:   imagesync.Location{Registry: "dest.example.com"},
			PathPrefix: "mirror",
		},
	}
	replicator, err := imagesync.NewReplicator(rc, &imagesync.Enumerator{Logger: logger}, coordinator)
	if err != nil {
		panic(err)
	}
	replicator.Logger = logger

	outcome, err := replicator.Run(context.Background(), "example")
	if err != nil {
		panic(err)
	}
	fmt.Printf("succeeded: %d, failed: %d\n", outcome.Succeeded, outcome.Failed)
	for _, record := range outcomes.Records() {
		if record.ErrorMessage != "" {
			fmt.Printf("%s:%s %s (%s)\n", record.Image, record.Tag, record.Status, record.ErrorMessage)
			continue
		}
		fmt.Printf("%s:%s %s\n", record.Image, record.Tag, record.Status)
	}
	// Output:
	// succeeded: 2, failed: 1
	// app:v1 Done
	// broken:v2 Error (manifest unknown)
	// web:latest Done
}
