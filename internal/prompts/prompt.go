package prompts

// Version identifies one revision of a prompt.
type Version string

const (
	V1 Version = "1.0.0"
)

// Prompt is a versioned template with {{name}} placeholders.
type Prompt struct {
	ID          string
	Version     Version
	Content     string
	Description string
	Deprecated  bool
}
