// Package mcp exposes the active document to AI clients over the Model
// Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"

	dcerrors "github.com/Aman-CERP/docchat/internal/errors"
)

// Custom MCP error codes for docchat.
const (
	// ErrCodeNoDocument indicates no document has been ingested.
	ErrCodeNoDocument = -32001

	// ErrCodeBackendFailed indicates the embedding or generation backend failed.
	ErrCodeBackendFailed = -32002

	// ErrCodeTimeout indicates the request timed out.
	ErrCodeTimeout = -32003

	// ErrCodeBusy indicates a conflicting operation is running.
	ErrCodeBusy = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidParams = -32602
	ErrCodeInternalError = -32603
)

// ErrNoDocument is returned by tools that need an ingested document.
var ErrNoDocument = errors.New("no document ingested")

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}
	if de, ok := dcerrors.As(err); ok {
		return mapDocError(de)
	}

	switch {
	case errors.Is(err, ErrNoDocument):
		return &MCPError{
			Code:    ErrCodeNoDocument,
			Message: "No document has been ingested. Run 'docchat ingest <file>' first.",
		}
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request timed out."}
	case errors.Is(err, context.Canceled):
		return &MCPError{Code: ErrCodeTimeout, Message: "Request was canceled."}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: "Internal server error."}
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{Code: ErrCodeInvalidParams, Message: msg}
}

func mapDocError(de *dcerrors.DocError) *MCPError {
	message := de.Message
	if de.Suggestion != "" {
		message = fmt.Sprintf("%s. %s", de.Message, de.Suggestion)
	}

	switch de.Code {
	case dcerrors.ErrCodeEmbeddingFailed, dcerrors.ErrCodeGenerationFailed:
		return &MCPError{Code: ErrCodeBackendFailed, Message: message}
	case dcerrors.ErrCodeSessionActive, dcerrors.ErrCodeIngestActive:
		return &MCPError{Code: ErrCodeBusy, Message: message}
	}

	switch de.Category {
	case dcerrors.CategoryNetwork:
		return &MCPError{Code: ErrCodeTimeout, Message: message}
	case dcerrors.CategoryValidation:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	default:
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
