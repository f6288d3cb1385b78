/*
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

// Package dverrors defines the pipeline error taxonomy. Every fetch, claim,
// and extraction failure is classified into exactly one Kind so that callers
// can branch on classification instead of string matching.
package dverrors

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the terminal classification of a pipeline error.
type Kind string

const (
	// KindSuppressed means the target URL or host is on the suppression list.
	KindSuppressed Kind = "Suppressed"
	// KindRobotsDisallowed means robots.txt forbids the fetch for our agent.
	KindRobotsDisallowed Kind = "RobotsDisallowed"
	// KindBlocked means the origin refused us: HTTP 403, 429, or a bot
	// challenge page.
	KindBlocked Kind = "Blocked"
	// KindServerError means an HTTP 5xx response.
	KindServerError Kind = "ServerError"
	// KindClientError means a non-blocking HTTP 4xx response.
	KindClientError Kind = "ClientError"
	// KindTransportError means timeout, DNS, TLS, or connection failure.
	KindTransportError Kind = "TransportError"
	// KindCircuitOpen means a circuit breaker rejected the call without
	// performing it.
	KindCircuitOpen Kind = "CircuitOpen"
	// KindResourceExhausted means a pool or quota had nothing to give:
	// browser lease timeout, AI quota.
	KindResourceExhausted Kind = "ResourceExhausted"
	// KindInvalidOutput means the AI analyzer returned undecodable content.
	KindInvalidOutput Kind = "InvalidOutput"
	// KindUnknownWorker means a coordinator call referenced a worker with no
	// active registration row.
	KindUnknownWorker Kind = "UnknownWorker"
	// KindSerializationConflict means the store aborted a transaction due to
	// serialization failure or deadlock.
	KindSerializationConflict Kind = "SerializationConflict"
	// KindCancelled means the surrounding context was cancelled.
	KindCancelled Kind = "Cancelled"
	// KindUnknown is returned by KindOf for unclassified errors.
	KindUnknown Kind = ""
)

// Error pairs a Kind with its cause. Classification survives wrapping with
// %w at any depth.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a classified error from a format string.
func New(kind Kind, format string, a ...interface{}) error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, a...)}
}

// Wrap classifies an existing error, preserving it as the cause. A nil err
// returns nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the Kind from an error chain. Context cancellation maps to
// KindCancelled even when it was never explicitly classified.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindUnknown
}

// Is reports whether the error chain carries the given Kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether the fetch layer may retry the request.
// Only server-side failures and transport failures qualify.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k == KindServerError || k == KindTransportError
}

// IsCancelled reports whether the error chain terminates in cancellation.
func IsCancelled(err error) bool {
	return KindOf(err) == KindCancelled || errors.Is(err, context.Canceled)
}

// IsCircuitOpen reports whether a breaker rejected the call.
func IsCircuitOpen(err error) bool {
	return KindOf(err) == KindCircuitOpen
}

// IsBlocked reports whether the origin refused the request.
func IsBlocked(err error) bool {
	return KindOf(err) == KindBlocked
}

// IsSerializationConflict reports whether a transaction should be retried.
func IsSerializationConflict(err error) bool {
	return KindOf(err) == KindSerializationConflict
}

// IgnoreKind returns nil when err carries the given kind, err otherwise.
// Useful for treating expected outcomes, like suppression, as non-errors.
func IgnoreKind(err error, kind Kind) error {
	if Is(err, kind) {
		return nil
	}
	return err
}
