package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/conclave-run/conclave/internal/prompt"
	"github.com/conclave-run/conclave/internal/tools"
	"github.com/conclave-run/conclave/pkg/models"
)

// resolveSystemPrompt returns the system prompt a send_message call should
// use when the caller supplied none: the Prompt Assembler's output for the
// session's agent, unless the session already carries its own override (in
// which case the Chat Engine applies that override itself, so an empty
// string is returned here to let it do so).
func (s *Server) resolveSystemPrompt(ctx context.Context, sessionID string, includeTools bool) string {
	session, err := s.sessionStore.Get(ctx, sessionID)
	if err != nil || session.SystemPromptOverride != "" {
		return ""
	}
	return s.assembleSystemPrompt(ctx, session.AgentID, includeTools)
}

// assembleSystemPrompt builds the full identity/soul/instructions/time/tools
// prompt for one agent, reading identity and soul file paths
// from process configuration since both are process-wide, read-only files
// rather than per-agent uploads.
func (s *Server) assembleSystemPrompt(ctx context.Context, agentID string, includeTools bool) string {
	agent, err := s.agentStore.Agents.Get(ctx, agentID)
	if err != nil {
		return ""
	}

	pa := prompt.Agent{
		ID:               agent.ID,
		IdentityFilePath: s.cfg.IdentityFile,
		SoulFilePath:     s.cfg.SoulFile,
		Instructions:     renderIdentityInstructions(agent.Identity),
	}

	var defs []tools.Definition
	if includeTools && s.toolRegistry != nil {
		for _, d := range s.toolRegistry.List() {
			defs = append(defs, *d)
		}
	}

	result := s.promptAsm.Assemble(pa, defs, nil, prompt.Flags{IncludeTools: includeTools})
	return result.Prompt
}

// renderIdentityInstructions turns an agent's IdentityConfig into the
// "agent-specific instructions" section, since
// Identity is resolved data rather than a file the Prompt Assembler reads
// itself.
func renderIdentityInstructions(id models.IdentityConfig) string {
	var b strings.Builder
	if id.Persona != "" {
		fmt.Fprintf(&b, "Persona: %s\n", id.Persona)
	}
	if id.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", id.Tone)
	}
	if id.AckReaction != "" {
		fmt.Fprintf(&b, "Acknowledge with: %s\n", id.AckReaction)
	}
	return strings.TrimSpace(b.String())
}
