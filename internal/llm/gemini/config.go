package gemini

import (
	"os"
	"strings"
)

// Config for the Gemini client.
type Config struct {
	APIKey string // if empty, falls back to env GEMINI_API_KEY
	Model  string // e.g., "gemini-2.5-flash"; a "models/" prefix is stripped
}

func (c Config) withDefaults() Config {
	if c.APIKey == "" {
		c.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	c.APIKey = strings.TrimSpace(c.APIKey)
	c.Model = strings.TrimPrefix(strings.TrimSpace(c.Model), "models/")
	if c.Model == "" {
		c.Model = "gemini-2.5-flash"
	}
	return c
}
