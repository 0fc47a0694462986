package mcp

import "errors"

// Sentinel errors for MCP server management.
var (
	ErrServerExists   = errors.New("mcp server already registered")
	ErrServerNotFound = errors.New("mcp server not found")
	ErrServerInvalid  = errors.New("mcp server config requires a name and url")
	ErrNotConnected   = errors.New("mcp server not connected")
)
