// Package conduit provides a multi-tenant agent orchestration server.
//
// Conduit accepts chat/completion requests addressed to a named agent,
// assembles a prompt from stored context and retrieved memory, dispatches
// that prompt to one of many pluggable LLM providers (with rotation and
// failover), optionally invokes named extension commands chosen by the
// model or a chain script, streams or returns the result, and persists
// every interaction into a conversation log that can be resumed.
//
// # Quick Start
//
// Install conduit:
//
//	go install github.com/kadirpekel/conduit/cmd/conduit@latest
//
// Start the server against a config file:
//
//	conduit serve --config ./conduit.yaml
//
// # Using as a Go Library
//
// Import specific packages:
//
//	import (
//	    "github.com/kadirpekel/conduit/pkg/runtime"
//	    "github.com/kadirpekel/conduit/pkg/providers"
//	    "github.com/kadirpekel/conduit/internal/config"
//	)
//
// # Architecture
//
// One chat turn flows through four tightly coupled subsystems:
//
//	AgentRuntime.Run(req)
//	    -> PromptAssembler.Build
//	    -> ProviderRouter (providers.Execute) -> Provider.Inference -> StreamingBridge
//	    -> (optional) CommandDispatcher.Run
//	    -> ConversationStore.Append
//
// ChainEngine sits alongside AgentRuntime to execute ordered scripts of
// steps (prompt | command | sub-chain) that may run their own turns
// through the same pipeline.
//
// Concrete provider back-ends, concrete extension implementations,
// identity/SSO, and vector retrieval are external collaborators reached
// through narrow interfaces (Provider, Extension/Command, MemoryStore) —
// this module owns only the orchestration core.
//
// # License
//
// Apache-2.0 - See LICENSE for details.
package conduit
