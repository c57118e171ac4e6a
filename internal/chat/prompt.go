package chat

import "strings"

// buildPrompt assembles the single-turn prompt: standing instructions,
// then the air quality line, then the user's message last.
func buildPrompt(persona Persona, aqiSummary, userMsg string) string {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(persona.Instructions))
	b.WriteString("\nAQI Info: ")
	b.WriteString(aqiSummary)
	b.WriteString("\nUser: ")
	b.WriteString(userMsg)
	return b.String()
}
