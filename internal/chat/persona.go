package chat

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Persona holds the assistant's standing instructions. A YAML file can
// override the built-in default without rebuilding.
type Persona struct {
	Name           string `yaml:"name"`
	Instructions   string `yaml:"instructions"`
	VisionQuestion string `yaml:"visionQuestion"`
}

// DefaultPersona is the built-in environmental assistant.
func DefaultPersona() Persona {
	return Persona{
		Name: "airbot",
		Instructions: "You are an environmental assistant. Keep your response short (2-3 sentences) and friendly.\n" +
			"If you cannot answer a question, try to identify the aqi and environment by follow up question.\n" +
			"Also be able to answer follow up questions.\n" +
			"If image is there, identify the amount of pollution, it does not need to be extremely accurate.",
		VisionQuestion: "What do you see in this image? If it shows the outdoors, estimate the amount of visible pollution.",
	}
}

// LoadPersona reads a persona from a YAML file. An empty path returns the
// default persona. Fields left empty in the file fall back to the default.
func LoadPersona(path string) (Persona, error) {
	p := DefaultPersona()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read persona: %w", err)
	}
	var loaded Persona
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return p, fmt.Errorf("parse persona %s: %w", path, err)
	}
	if loaded.Name != "" {
		p.Name = loaded.Name
	}
	if loaded.Instructions != "" {
		p.Instructions = loaded.Instructions
	}
	if loaded.VisionQuestion != "" {
		p.VisionQuestion = loaded.VisionQuestion
	}
	return p, nil
}
