package engine

import "encoding/json"

// Options are the generation settings the adapters understand. The config
// payload stays opaque to the protocol; providers parse these keys out of it
// and ignore everything else.
type Options struct {
	Model     string `json:"model,omitempty"`
	MaxTokens int64  `json:"maxTokens,omitempty"`
}

// ParseOptions extracts Options from an opaque config payload. A missing or
// malformed payload yields zero options, never an error: config belongs to
// the deployment, not the protocol.
func ParseOptions(config json.RawMessage) Options {
	var opts Options
	if len(config) == 0 {
		return opts
	}
	_ = json.Unmarshal(config, &opts)
	return opts
}
