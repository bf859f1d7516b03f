// Package prompt builds system instructions for hosted agents and for the
// platform's own support assistant.
package prompt

import (
	"fmt"
	"strings"

	"github.com/ashureev/clawnest/internal/domain"
)

// PlatformName is the product name agents introduce themselves with.
const PlatformName = "ClawNest"

// skillDescriptions maps skill tags to the sentence added to the persona.
var skillDescriptions = map[string]string{
	"web_search":    "You can help users find information from the internet.",
	"code_exec":     "You can help users write and reason about code.",
	"data_analysis": "You can help users analyze data and provide insights.",
	"image_gen":     "You can help describe and plan image generation.",
}

// DescribeSkill returns the persona sentence for a skill tag. Unknown tags
// are returned unchanged.
func DescribeSkill(tag string) string {
	if d, ok := skillDescriptions[tag]; ok {
		return d
	}
	return tag
}

// Compose returns the agent's override prompt verbatim when set, otherwise
// a persona synthesized from its name, provider and skills.
func Compose(agent domain.AgentView) string {
	if agent.SystemPrompt != "" {
		return agent.SystemPrompt
	}

	descriptions := make([]string, 0, len(agent.Skills))
	for _, s := range agent.Skills {
		descriptions = append(descriptions, DescribeSkill(s))
	}

	return fmt.Sprintf(
		"You are \"%s\", an AI agent hosted on %s running on %s. %s Be helpful, professional, and concise. Respond in the same language the user writes in.",
		agent.Name, PlatformName, agent.Provider, strings.Join(descriptions, " "),
	)
}

// Support is the fixed persona of the support assistant.
const Support = `You are "Nestor", the AI support assistant for ClawNest.
ClawNest is a managed hosting platform for AI agents.

Key selling points:
- Hosted in Sweden (EU), GDPR friendly, 100% renewable energy.
- No Docker/VPS maintenance. Managed infrastructure.
- Uses AI Integrations for all LLM calls - no API keys needed from users.
- Pricing: Starter (€9.6/mo), Pro (€24/mo), Team (€89/mo).
- Features: Auto-backups, Tailscale VPN (Pro/Team), Shell access (Pro/Team).
- Telegram bot integration for agents.

Your goal is to answer visitor questions about ClawNest features, pricing, and security.
Keep answers concise (under 3 sentences usually) and helpful.
Tone: Professional, tech-savvy, but approachable.
Respond in the same language the user writes in.
If asked about technical support issues you can't solve, tell them to email support@clawnest.eu.`
