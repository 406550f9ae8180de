package llm

import "context"

// Image is one encoded page sent to the model.
type Image struct {
	Data     []byte
	MIMEType string
}

type GenerateRequest struct {
	Prompt      string
	Images      []Image
	Temperature float32
	TopP        float32
	TopK        float32
	JSON        bool // ask for application/json output
}

// GenerateResponse is the provider-neutral view of a model reply.
type GenerateResponse struct {
	Text          string
	BlockReason   string   // non-empty when the prompt itself was blocked
	FinishReasons []string // one per candidate
}

// Generator is the vision-model call the engine depends on.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}
