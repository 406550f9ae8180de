package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"google.golang.org/genai"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/llm"
)

// ErrMissingAPIKey is returned by NewClient when no key is configured.
var ErrMissingAPIKey = errors.New("GEMINI_API_KEY is not set")

// Client implements llm.Generator over the Gemini API.
type Client struct {
	cfg    Config
	genai  *genai.Client
	logger *slog.Logger
}

func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	logger.Info("gemini.client.created", "model", cfg.Model)
	return &Client{cfg: cfg, genai: c, logger: logger.With("component", "gemini")}, nil
}

func (c *Client) Model() string { return c.cfg.Model }

// Generate sends the prompt and images as a single user turn.
func (c *Client) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	start := time.Now()
	reqID := common.RequestIDFromContext(ctx)

	parts := make([]*genai.Part, 0, len(req.Images)+1)
	parts = append(parts, genai.NewPartFromText(req.Prompt))
	for _, img := range req.Images {
		parts = append(parts, genai.NewPartFromBytes(img.Data, img.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	gcfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
		TopP:        genai.Ptr(req.TopP),
		TopK:        genai.Ptr(req.TopK),
	}
	if req.JSON {
		gcfg.ResponseMIMEType = "application/json"
	}

	res, err := c.genai.Models.GenerateContent(ctx, c.cfg.Model, contents, gcfg)
	if err != nil {
		c.logger.Error("gemini.generate.error",
			"req_id", reqID,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.GenerateResponse{}, toStatus(err)
	}

	out := llm.GenerateResponse{Text: res.Text()}
	if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
		out.BlockReason = string(res.PromptFeedback.BlockReason)
	}
	for _, cand := range res.Candidates {
		if cand != nil && cand.FinishReason != "" {
			out.FinishReasons = append(out.FinishReasons, string(cand.FinishReason))
		}
	}
	c.logger.Info("gemini.generate.ok",
		"req_id", reqID,
		"chars", len(out.Text),
		"candidates", len(res.Candidates),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// toStatus converts Gemini HTTP API errors into gRPC status errors so the
// vision taxonomy can classify them by code.
func toStatus(err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	code := codes.Unknown
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		code = codes.ResourceExhausted
	case apiErr.Code == http.StatusUnauthorized:
		code = codes.Unauthenticated
	case apiErr.Code == http.StatusForbidden:
		code = codes.PermissionDenied
	case apiErr.Code == http.StatusBadRequest, apiErr.Code == http.StatusRequestEntityTooLarge:
		code = codes.InvalidArgument
	case apiErr.Code == http.StatusGatewayTimeout:
		code = codes.DeadlineExceeded
	case apiErr.Code >= 500:
		code = codes.Unavailable
	}
	return status.Error(code, apiErr.Error())
}
