// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package crosssign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/identity/lib/ref"
	"github.com/bureau-foundation/identity/messaging"
)

// ServerAPI is the slice of the homeserver surface the reconciliation
// core mutates and observes. *messaging.DirectSession satisfies it;
// tests use an in-memory fake.
type ServerAPI interface {
	UserID() ref.UserID
	DeviceID() ref.DeviceID
	UploadCrossSigningKeys(ctx context.Context, upload messaging.CrossSigningKeysUpload, auth map[string]any) error
	UploadSignatures(ctx context.Context, signatures messaging.SignaturesUpload) error
	QueryKeys(ctx context.Context, request messaging.QueryKeysRequest) (*messaging.QueryKeysResponse, error)
}

// Processor executes a batch of outgoing requests strictly in order:
// request N+1 is dispatched only after request N completed, because
// later requests may depend on earlier ones having taken effect
// server-side (a signature upload referencing just-published keys).
//
// The processor does not retry. A network failure or server rejection
// aborts the batch and surfaces to the caller, who retries by
// re-running the whole bootstrap.
type Processor struct {
	api    ServerAPI
	logger *slog.Logger
}

// NewProcessor creates a processor over the given server API.
// logger may be nil.
func NewProcessor(api ServerAPI, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{api: api, logger: logger}
}

// Submit executes requests in order. For a request against a
// UIA-protected endpoint, a challenge response is handled by invoking
// authCallback and resending with the returned auth dict; an error
// from the callback fails the whole submission. Without a callback
// the unauthenticated attempt's verdict — typically the challenge
// itself — is the result.
func (p *Processor) Submit(ctx context.Context, requests []OutgoingRequest, authCallback AuthCallback) error {
	for i, request := range requests {
		if err := p.execute(ctx, request, authCallback); err != nil {
			return fmt.Errorf("crosssign: request %d of %d (%s) failed: %w",
				i+1, len(requests), request.Kind, err)
		}
		p.logger.Debug("request completed",
			"kind", request.Kind.String(),
			"index", i+1,
			"total", len(requests),
		)
	}
	return nil
}

func (p *Processor) execute(ctx context.Context, request OutgoingRequest, authCallback AuthCallback) error {
	switch request.Kind {
	case RequestPublishKeys:
		err := p.api.UploadCrossSigningKeys(ctx, request.Keys, nil)
		var challenge *messaging.UIAAChallenge
		if !errors.As(err, &challenge) {
			return err
		}
		if !request.RequiresAuth || authCallback == nil {
			// Degraded path: no way to answer the challenge. The
			// server's verdict on the unauthenticated attempt is the
			// result.
			return challenge
		}
		auth, callbackErr := authCallback(ctx, challenge)
		if callbackErr != nil {
			return fmt.Errorf("auth callback: %w", callbackErr)
		}
		return p.api.UploadCrossSigningKeys(ctx, request.Keys, auth)

	case RequestUploadSignatures:
		return p.api.UploadSignatures(ctx, request.Signatures)

	default:
		return fmt.Errorf("unknown request kind %d", request.Kind)
	}
}
