// Package callbacks turns agent events into chat messages.
//
// A Set holds the three adapters of one session. Before each agent call the
// orchestrator binds an Invocation to the set; the adapters then edit the
// invocation's live "thinking" message or send new messages into its chat.
// Adapter failures are logged and never reach the agent.
package callbacks
