// Package llm contains adapters for invoking large language models. It
// abstracts away provider-specific APIs and normalizes the chat-completion
// request/response lifecycle, including tool calling, for the executor runtime.
package llm
