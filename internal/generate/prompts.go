package generate

import (
	"fmt"
	"strings"

	"arduinohub/pkg/models"
)

// ComponentSeparator joins entries in ComponentList.
const ComponentSeparator = ", "

// ComponentList renders components as "<quantity> <name>" in store order.
func ComponentList(components []models.DetectedComponent) string {
	parts := make([]string, 0, len(components))
	for _, c := range components {
		parts = append(parts, fmt.Sprintf("%d %s", c.Quantity, c.Name))
	}
	return strings.Join(parts, ComponentSeparator)
}

// Prompts holds one prompt per section.
type Prompts struct {
	Code       string
	Principles string
	Guide      string
}

func (p Prompts) For(s models.Section) string {
	switch s {
	case models.SectionCode:
		return p.Code
	case models.SectionPrinciples:
		return p.Principles
	case models.SectionGuide:
		return p.Guide
	default:
		return ""
	}
}

// BuildPrompts embeds the component list and description verbatim into the
// three fixed templates. It has no side effects.
func BuildPrompts(components []models.DetectedComponent, description string) Prompts {
	list := ComponentList(components)

	return Prompts{
		Code:       codePrompt(list, description),
		Principles: principlesPrompt(list, components),
		Guide:      guidePrompt(list),
	}
}

func codePrompt(list, description string) string {
	return fmt.Sprintf(`Generate Arduino code for: %s. Project: %s.
Include necessary libraries, setup(), loop(), and comments.
Return only the code with no explanations.`, list, description)
}

func principlesPrompt(list string, components []models.DetectedComponent) string {
	var b strings.Builder
	fmt.Fprintf(&b, `As a teacher explaining to a secondary student, provide a clear, point-form explanation of the electrical principles for: %s

Structure your response exactly like this:

Basic Concepts:
• [Explain voltage, current basics relevant to these components]
• [Explain resistance basics if relevant]

Component Functions:
`, list)
	for _, c := range components {
		fmt.Fprintf(&b, `%s:
• Purpose: [Explain main function]
• Working Principle: [Explain how it works]
• Voltage/Current Requirements: [Specify requirements]
`, c.Name)
	}
	b.WriteString(`
Safety Considerations:
• [List key safety points]
• [List precautions]

Keep explanations simple and student-friendly. Use bullet points only.`)
	return b.String()
}

func guidePrompt(list string) string {
	return fmt.Sprintf(`Create connection guide for: %s.
Use markdown table format with Component, Pin Connections, Notes columns.
Make it concise with only essential details.
Put additional information below the table.`, list)
}
