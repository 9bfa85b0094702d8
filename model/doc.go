// Package model defines the provider-agnostic contract the harnesses use to
// talk to language models.
//
// Core goals:
//   - One Caller interface covering tool-free completion, tool-bound
//     completion and text streaming
//   - Normalized tool definitions and provider error classification (APIError)
//   - Token estimation for trace events
//   - Lightweight scripted mocking for tests (MockCaller)
//
// Providers (OpenAI, Anthropic) implement Caller in sub-packages so higher
// layers remain decoupled from vendor SDKs.
package model
