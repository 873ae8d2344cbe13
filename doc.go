// Package fsmcp implements a Model Context Protocol server that exposes the
// local filesystem to a desktop AI client over newline-delimited JSON-RPC 2.0
// on standard input and output.
//
// The root package holds the protocol engine: message types, the tool
// registry, the lifecycle state machine and the stdio transport. Tools are
// supplied by the fileops package; path safety lives in pathguard.
//
// Basic usage:
//
//	registry := fsmcp.NewToolRegistry(logger)
//	_ = registry.Register(tools...)
//
//	base, _ := fsmcp.NewBaseServer(
//		fsmcp.UseLogger(logger),
//		fsmcp.UseToolRegistry(registry),
//	)
//	server := fsmcp.NewStdIOServer(base, os.Stdin, os.Stdout)
//	err := server.Run(ctx)
//
// Nothing other than JSON-RPC responses is ever written to the output
// stream; loggers must point at stderr or a file.
package fsmcp
