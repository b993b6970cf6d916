// Package mcp exposes the dispatch engine as MCP tools over stdio.
//
// Tools:
//   - dispatch_decide: choose an agent for a task
//   - dispatch_record_outcome: report post-execution quality
//   - dispatch_agent_metrics: learned performance for one agent
//   - dispatch_list_agents: registered agents, optionally by category
package mcp
