// Package provider adapts LLM providers to the agent loop using the Eino
// framework.
//
// # Core Components
//
//   - Provider: one configured vendor (OpenAI, Anthropic, Volcengine ARK)
//     exposing an Eino ToolCallingChatModel
//   - Registry: resolves "provider/model" names against registered providers
//     and implements Backend
//   - Backend: the single call the loop makes, Send(ctx, Request) (Reply, error)
//   - Retrying: a Backend decorator applying the bounded retry policy
//   - Scripted: a deterministic Backend for tests
//
// # Model names
//
// A model is named either "provider/model" or by its bare id. Bare ids are
// resolved by looking for a provider that lists the model, then by vendor
// prefix ("claude" selects anthropic), and finally fall back to openai.
//
//	registry, err := provider.InitializeProviders(ctx, cfg)
//	backend := provider.WithRetry(registry, provider.PolicyFromConfig(cfg), tracer)
//	reply, err := backend.Send(ctx, provider.Request{
//	    Model:   "anthropic/claude-sonnet-4-20250514",
//	    System:  systemPrompt,
//	    History: history,
//	    Tools:   tools.ToolInfos(),
//	})
//
// # Errors
//
// Every provider failure is returned as a types.Error with code
// model_unavailable. Context cancellation is returned unchanged so callers
// can tell a stop from an outage.
package provider
