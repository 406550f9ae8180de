package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/form-filler/internal/common"
	"github.com/joseph-ayodele/form-filler/internal/entity"
	"github.com/joseph-ayodele/form-filler/internal/imaging"
	"github.com/joseph-ayodele/form-filler/internal/metrics"
	"github.com/joseph-ayodele/form-filler/internal/template"
)

const parseSnippetLen = 1000

type VisionConfig struct {
	Model             string // informational; the Generator owns the model
	Temperature       float32
	TopP              float32
	TopK              float32
	MaxImageDimension int
	JPEGQuality       int
	RequestsPerSecond float64 // <= 0 disables limiting
	Retry             RetryPolicy
}

// DefaultVisionConfig mirrors the tuned generation settings for form extraction.
func DefaultVisionConfig() VisionConfig {
	return VisionConfig{
		Temperature:       0.1,
		TopP:              0.8,
		TopK:              40,
		MaxImageDimension: 2048,
		JPEGQuality:       85,
		RequestsPerSecond: 1,
		Retry:             DefaultRetryPolicy(),
	}
}

// VisionEngine maps whole-document images to template fields with a vision model.
type VisionEngine struct {
	gen     Generator
	cfg     VisionConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewVisionEngine wires gen into an engine. A nil gen yields an engine whose
// Extract fails with KindConfig, which callers treat as "vision unavailable".
func NewVisionEngine(gen Generator, cfg VisionConfig, logger *slog.Logger) *VisionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxImageDimension <= 0 {
		cfg.MaxImageDimension = 2048
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 85
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultRetryPolicy()
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &VisionEngine{
		gen:     gen,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "vision"),
	}
}

// Available reports whether a model client is configured.
func (e *VisionEngine) Available() bool { return e != nil && e.gen != nil }

// Extract runs the bounded retry loop. Every returned error is a *VisionError.
func (e *VisionEngine) Extract(ctx context.Context, images [][]byte, tpl *template.Template) (entity.Extraction, error) {
	reqID := common.RequestIDFromContext(ctx)
	if !e.Available() {
		return nil, &VisionError{Kind: KindConfig, Err: errors.New("GEMINI_API_KEY is not set")}
	}
	if len(images) == 0 {
		return nil, &VisionError{Kind: KindContent, Err: errors.New("at least one image is required")}
	}

	payload, err := e.optimize(reqID, images)
	if err != nil {
		return nil, &VisionError{Kind: KindContent, Err: err}
	}
	prompt, err := BuildPrompt(tpl)
	if err != nil {
		return nil, &VisionError{Kind: KindUnknown, Err: fmt.Errorf("build prompt: %w", err)}
	}
	req := GenerateRequest{
		Prompt:      prompt,
		Images:      payload,
		Temperature: e.cfg.Temperature,
		TopP:        e.cfg.TopP,
		TopK:        e.cfg.TopK,
		JSON:        true,
	}

	policy := e.cfg.Retry
	overall := time.Now()
	var failures []error
	for attempt := 0; attempt < policy.attempts(); attempt++ {
		timeout := policy.timeout(attempt)
		e.logger.Info("vision.extract.attempt",
			"req_id", reqID,
			"attempt", attempt+1,
			"max_attempts", policy.attempts(),
			"timeout_ms", timeout.Milliseconds(),
			"model", e.cfg.Model,
		)

		out, err := e.attempt(ctx, req, timeout, tpl)
		if err == nil {
			metrics.IncVisionAttempt("ok")
			e.logger.Info("vision.extract.ok",
				"req_id", reqID,
				"attempt", attempt+1,
				"fields", len(out),
				"elapsed_ms", time.Since(overall).Milliseconds(),
			)
			return out, nil
		}

		kind := Classify(err)
		var ve *VisionError
		if errors.As(err, &ve) {
			err = ve.Err
		}
		metrics.IncVisionAttempt(string(kind))
		failures = append(failures, fmt.Errorf("attempt %d: %w", attempt+1, err))
		e.logger.Error("vision.extract.failed",
			"req_id", reqID,
			"attempt", attempt+1,
			"kind", kind,
			"error", err,
		)
		if !kind.Retryable() {
			return nil, &VisionError{Kind: kind, Attempts: attempt + 1, Err: err}
		}
		if attempt == policy.attempts()-1 {
			break
		}

		wait := policy.backoff(attempt)
		e.logger.Warn("vision.extract.retry", "req_id", reqID, "attempt", attempt+1, "wait_ms", wait.Milliseconds())
		if err := sleep(ctx, wait); err != nil {
			return nil, &VisionError{Kind: KindTransport, Attempts: attempt + 1, Err: errors.Join(append(failures, err)...)}
		}
	}

	e.logger.Error("vision.extract.exhausted",
		"req_id", reqID,
		"attempts", len(failures),
		"elapsed_ms", time.Since(overall).Milliseconds(),
	)
	return nil, &VisionError{Kind: KindTransport, Attempts: len(failures), Err: errors.Join(failures...)}
}

// attempt performs one rate-limited, time-bounded call and interprets the reply.
// Failures carry their Kind as a *VisionError when it is already known.
func (e *VisionEngine) attempt(ctx context.Context, req GenerateRequest, timeout time.Duration, tpl *template.Template) (entity.Extraction, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	start := time.Now()
	resp, err := e.gen.Generate(actx, req)
	cancel()
	metrics.CaptureDependencyLatency("gemini", time.Since(start))
	if err != nil {
		return nil, err
	}

	if resp.BlockReason != "" {
		return nil, &VisionError{Kind: KindContent, Err: fmt.Errorf("model blocked the request: %s", resp.BlockReason)}
	}
	for _, fr := range resp.FinishReasons {
		up := strings.ToUpper(fr)
		if strings.Contains(up, "SAFETY") || strings.Contains(up, "BLOCK") || strings.Contains(up, "PROHIBITED") {
			return nil, &VisionError{Kind: KindContent, Err: fmt.Errorf("model blocked the response: %s", fr)}
		}
	}

	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return nil, &VisionError{Kind: KindEmpty, Err: fmt.Errorf("model returned an empty response (finish reasons %v)", resp.FinishReasons)}
	}
	e.logger.Debug("vision.extract.raw", "text", snippet(text, 500))

	raw, err := ParseJSON(text)
	if err != nil {
		return nil, &VisionError{Kind: KindParse, Err: fmt.Errorf("parse model JSON: %v; response: %s", err, snippet(text, parseSnippetLen))}
	}
	if b, mErr := json.Marshal(raw); mErr == nil {
		if vErr := common.ValidateJSONAgainstSchema(BuildResponseSchema(tpl), b); vErr != nil {
			e.logger.Warn("llm.extract.schema_mismatch", "error", vErr)
		}
	}
	return NormalizeOutput(raw, tpl), nil
}

func (e *VisionEngine) optimize(reqID string, images [][]byte) ([]Image, error) {
	out := make([]Image, 0, len(images))
	var before, after int
	for i, img := range images {
		opt, err := imaging.Optimize(img, e.cfg.MaxImageDimension, e.cfg.JPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		before += len(img)
		after += len(opt)
		e.logger.Debug("vision.image.optimized", "req_id", reqID, "image", i+1, "kb_in", len(img)/1024, "kb_out", len(opt)/1024)
		out = append(out, Image{Data: opt, MIMEType: "image/jpeg"})
	}
	e.logger.Info("vision.payload", "req_id", reqID, "images", len(out), "bytes_in", before, "bytes_out", after)
	if after > imaging.SoftPayloadLimit {
		e.logger.Warn("vision.payload.oversize",
			"req_id", reqID,
			"bytes", after,
			"limit", imaging.SoftPayloadLimit,
		)
	}
	return out, nil
}
