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
	"fmt"
	"math"
	"path"
	"strings"
	"time"
)

const (
	// DefaultConcurrencyLimit is the default number of items in flight.
	DefaultConcurrencyLimit = 10

	// DefaultMaxAttempts is the default number of copy attempts per item.
	DefaultMaxAttempts = 3

	// DefaultInitialBackoff is the default wait before the second attempt.
	DefaultInitialBackoff = 60 * time.Second

	// DefaultBackoffMultiplier is the default growth factor of the backoff.
	DefaultBackoffMultiplier = 2.0

	// DefaultEnumerationTimeout bounds a single enumeration.
	DefaultEnumerationTimeout = 15 * time.Minute
)

// SourceKind selects how the work items of a run are produced.
type SourceKind int

const (
	// FullRegistryScan lists every repository and tagged image of the
	// source registry.
	FullRegistryScan SourceKind = iota

	// CuratedList parses an operator supplied, comma delimited image list.
	CuratedList
)

// String returns the configuration name of the kind.
func (k SourceKind) String() string {
	switch k {
	case FullRegistryScan:
		return "FullScan"
	case CuratedList:
		return "Curated"
	default:
		return fmt.Sprintf("SourceKind(%d)", int(k))
	}
}

// ParseSourceKind parses a source mode name. "FullScan" and "ALL" select
// [FullRegistryScan]; "Curated" and "SELECTED" select [CuratedList]. Matching
// is case-insensitive.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "fullscan", "full", "all", "":
		return FullRegistryScan, nil
	case "curated", "selected":
		return CuratedList, nil
	default:
		return 0, fmt.Errorf("unknown source mode %q", s)
	}
}

// Location identifies a registry account.
type Location struct {
	// Registry is the registry host, optionally with port. If empty, the
	// Amazon ECR host of Account and Region is used.
	Registry string

	// Region of the registry.
	Region string

	// Account owning the registry. Empty means the current account.
	Account string

	// CredentialRef names the secret holding the access credentials.
	CredentialRef string
}

// host returns the registry host, deriving it from the account and region
// when Registry is not set. It returns an empty string if neither is known.
func (l Location) host(currentAccount string) string {
	if l.Registry != "" {
		return l.Registry
	}
	account := l.Account
	if account == "" {
		account = currentAccount
	}
	if account == "" || l.Region == "" {
		return ""
	}
	domain := "amazonaws.com"
	if strings.HasPrefix(l.Region, "cn-") {
		domain = "amazonaws.com.cn"
	}
	return fmt.Sprintf("%s.dkr.ecr.%s.%s", account, l.Region, domain)
}

// Destination is the target of a replication run.
type Destination struct {
	Location

	// PathPrefix is prepended to every source repository name.
	PathPrefix string
}

// Repository maps a source repository name to its destination name.
func (d Destination) Repository(source string) string {
	prefix := strings.Trim(d.PathPrefix, "/")
	if prefix == "" {
		return source
	}
	return path.Join(prefix, source)
}

// RetryPolicy controls how failed copies are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the wait after the first failed attempt.
	InitialBackoff time.Duration

	// BackoffMultiplier grows the wait after each further failure.
	BackoffMultiplier float64
}

// DefaultRetryPolicy returns 3 attempts with 60s initial backoff doubling
// after each failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       DefaultMaxAttempts,
		InitialBackoff:    DefaultInitialBackoff,
		BackoffMultiplier: DefaultBackoffMultiplier,
	}
}

// Backoff returns the wait after the given failed attempt (1-based):
// InitialBackoff * BackoffMultiplier^(attempt-1).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialBackoff) * math.Pow(p.BackoffMultiplier, float64(attempt-1))
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = DefaultInitialBackoff
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = DefaultBackoffMultiplier
	}
	return p
}

// RunContext is the configuration of a single replication run. It is built
// once when the run starts and never modified afterwards.
type RunContext struct {
	// SourceKind selects full registry scan or curated list.
	SourceKind SourceKind

	// Source is the registry images are copied from.
	Source Location

	// Destination is the registry images are copied to.
	Destination Destination

	// CuratedList is the raw "repository[:tag]" list, comma delimited. Only
	// used with [CuratedList].
	CuratedList string

	// CurrentAccount is the account the run executes in. Credentials are
	// only resolved for source accounts other than this one.
	CurrentAccount string

	// ConcurrencyLimit bounds the items in flight. Defaults to 10.
	ConcurrencyLimit int

	// RetryPolicy applies to every item.
	RetryPolicy RetryPolicy

	// EnumerationTimeout bounds enumeration. Defaults to 15 minutes.
	EnumerationTimeout time.Duration

	// RunTimeout bounds the whole run. Zero means unbounded.
	RunTimeout time.Duration
}

// withDefaults returns a copy of rc with unset fields defaulted.
func (rc RunContext) withDefaults() RunContext {
	if rc.ConcurrencyLimit <= 0 {
		rc.ConcurrencyLimit = DefaultConcurrencyLimit
	}
	rc.RetryPolicy = rc.RetryPolicy.withDefaults()
	if rc.EnumerationTimeout <= 0 {
		rc.EnumerationTimeout = DefaultEnumerationTimeout
	}
	return rc
}

// SourceHost returns the source registry host.
func (rc RunContext) SourceHost() string {
	return rc.Source.host(rc.CurrentAccount)
}

// DestinationHost returns the destination registry host.
func (rc RunContext) DestinationHost() string {
	return rc.Destination.host(rc.CurrentAccount)
}

// crossAccountSource reports whether the source registry belongs to an
// account other than the current one.
func (rc RunContext) crossAccountSource() bool {
	return rc.Source.Account != "" && rc.Source.Account != rc.CurrentAccount
}

// Validate checks that the run context can drive a run.
func (rc RunContext) Validate() error {
	if rc.ConcurrencyLimit < 0 {
		return configError("concurrency limit must not be negative")
	}
	if rc.RetryPolicy.MaxAttempts < 0 {
		return configError("retry max attempts must not be negative")
	}
	if rc.RunTimeout < 0 {
		return configError("run timeout must not be negative")
	}
	switch rc.SourceKind {
	case FullRegistryScan:
		if rc.SourceHost() == "" {
			return configError("source registry or source region is required for a full registry scan")
		}
		if rc.crossAccountSource() && rc.Source.CredentialRef == "" {
			return configError("source credential is required for a source in another account")
		}
	case CuratedList:
	default:
		return configError(fmt.Sprintf("unknown source kind %v", rc.SourceKind))
	}
	if rc.DestinationHost() == "" {
		return configError("destination registry or destination region is required")
	}
	return nil
}
