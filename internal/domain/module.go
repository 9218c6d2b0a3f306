package domain

// AIModule is a selectable persona: a model plus the system instruction
// that shapes its behaviour.
type AIModule struct {
	ID                string `json:"id" yaml:"id" toml:"id"`
	Name              string `json:"name" yaml:"name" toml:"name"`
	Description       string `json:"description" yaml:"description" toml:"description"`
	Model             string `json:"model" yaml:"model" toml:"model"`
	SystemInstruction string `json:"-" yaml:"system_instruction" toml:"system_instruction"`
}
