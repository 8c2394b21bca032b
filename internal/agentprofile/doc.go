// Package agentprofile resolves agent names ("build", "plan", a custom
// "reviewer") to Profile values: model override, enabled tools, default
// permissions, and system prompt. internal/runtime seeds a fresh
// AgentState from the profile the session (or the sub_agent tool) asks
// for; internal/config.Config.Agent entries overlay the four built-ins
// via Registry.LoadFromConfig.
package agentprofile
