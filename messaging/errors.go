// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package messaging

import (
	"errors"
	"fmt"
	"strings"
)

// MatrixError represents a structured error response from the Matrix
// homeserver. Callers can use errors.As to extract the structured
// information:
//
//	var matrixErr *MatrixError
//	if errors.As(err, &matrixErr) {
//	    if matrixErr.Code == ErrCodeNotFound { ... }
//	}
type MatrixError struct {
	// Code is the Matrix error code (e.g., "M_FORBIDDEN", "M_UNKNOWN_TOKEN").
	Code string `json:"errcode"`
	// Message is the human-readable error description from the server.
	Message string `json:"error"`
	// StatusCode is the HTTP status code of the response.
	StatusCode int `json:"-"`
}

func (e *MatrixError) Error() string {
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// Standard Matrix error codes.
const (
	ErrCodeForbidden     = "M_FORBIDDEN"
	ErrCodeUnknownToken  = "M_UNKNOWN_TOKEN"
	ErrCodeNotFound      = "M_NOT_FOUND"
	ErrCodeLimitExceeded = "M_LIMIT_EXCEEDED"
	ErrCodeUnrecognized  = "M_UNRECOGNIZED"
	ErrCodeUnknown       = "M_UNKNOWN"
	ErrCodeInvalidParam  = "M_INVALID_PARAM"
	ErrCodeMissingParam  = "M_MISSING_PARAM"
	ErrCodeUnauthorized  = "M_UNAUTHORIZED"
)

// IsMatrixError checks whether err is a *MatrixError with the given error code.
func IsMatrixError(err error, code string) bool {
	var matrixErr *MatrixError
	if errors.As(err, &matrixErr) {
		return matrixErr.Code == code
	}
	return false
}

// UIAAChallenge is a User-Interactive Authentication challenge from a
// UIA-protected endpoint (401 response with a "flows" body). It is
// returned as an error so that it propagates through ordinary error
// paths; callers that can complete an auth stage extract it with
// errors.As, build the auth dict, and resubmit the request.
type UIAAChallenge struct {
	// Session is the UIAA session identifier. It must be echoed back
	// in the auth dict of the follow-up request.
	Session string `json:"session"`
	// Flows lists the stage sequences the server will accept.
	Flows []UIAAFlow `json:"flows"`
	// Completed lists the stages already satisfied in this session.
	Completed []string `json:"completed,omitempty"`
	// Params carries per-stage parameters (shape varies by stage type).
	Params map[string]any `json:"params,omitempty"`
}

// UIAAFlow is one acceptable sequence of authentication stages.
type UIAAFlow struct {
	Stages []string `json:"stages"`
}

func (c *UIAAChallenge) Error() string {
	flows := make([]string, len(c.Flows))
	for i, flow := range c.Flows {
		flows[i] = strings.Join(flow.Stages, "→")
	}
	return fmt.Sprintf("matrix: interactive auth required (session %s, flows: %s)",
		c.Session, strings.Join(flows, ", "))
}

// HasFlow reports whether the challenge accepts a single-stage flow of
// the given type (e.g., "m.login.password").
func (c *UIAAChallenge) HasFlow(stageType string) bool {
	for _, flow := range c.Flows {
		if len(flow.Stages) == 1 && flow.Stages[0] == stageType {
			return true
		}
	}
	return false
}
