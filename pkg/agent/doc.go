// Package agent runs a tool-using LLM loop over the tools exposed by MCP tool servers.
//
// A run starts from a single user message. Each step is one LLM call; tool calls in the
// response are executed through a Toolbox and fed back as tool results. The first
// response without tool calls is the final answer. Runs are bounded by a step budget
// and hold no state between calls.
//
// Usage:
//
//	provider, _ := (&agent.ProviderFactory{}).NewProvider(cfg.LLM)
//	runner, _ := agent.NewRunner(agent.Config{
//		Provider: provider,
//		Tools:    registry,
//		Model:    cfg.LLM.Model,
//	})
//	answer, _ := runner.Run(ctx, "list my open pull requests", 0)
//	_ = answer
package agent
