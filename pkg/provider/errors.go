package provider

import (
	"fmt"
	"strings"

	"github.com/menta2k/localflow/pkg/types"
)

// Attempt records one probed endpoint
type Attempt struct {
	Backend types.Backend
	URL     string
	Path    string
	Up      bool
}

// ConfigError means no usable provider could be selected
type ConfigError struct {
	Override string
	Reason   string
	Tried    []Attempt
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason)
	b.WriteString(".\n")

	if len(e.Tried) > 0 {
		b.WriteString("Tried:\n")
		for _, a := range e.Tried {
			state := "down"
			if a.Up {
				state = "ok"
			}
			fmt.Fprintf(&b, "- %s: %s (%s) -> %s\n", a.Backend.DisplayName(), a.URL, a.Path, state)
		}
	}

	b.WriteString("Set LLM_PROVIDER=ollama|lmstudio|auto and update OLLAMA_BASE_URL / LMSTUDIO_BASE_URL.\n")
	b.WriteString("Start the provider (Ollama: `ollama serve`, LM Studio: Local Server -> Start).")
	return b.String()
}
