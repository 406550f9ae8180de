package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrVisionExtraction matches every *VisionError via errors.Is.
var ErrVisionExtraction = errors.New("vision extraction failed")

// Kind classifies a vision failure. Only KindTransport is retried.
type Kind string

const (
	KindConfig    Kind = "config"
	KindQuota     Kind = "quota"
	KindAuth      Kind = "auth"
	KindContent   Kind = "content"
	KindTransport Kind = "transport"
	KindEmpty     Kind = "empty"
	KindParse     Kind = "parse"
	KindUnknown   Kind = "unknown"
)

func (k Kind) Retryable() bool { return k == KindTransport }

type VisionError struct {
	Kind     Kind
	Attempts int
	Err      error
}

func (e *VisionError) Error() string {
	return fmt.Sprintf("vision extraction failed (%s, %d attempt(s)): %v", e.Kind, e.Attempts, e.Err)
}

func (e *VisionError) Unwrap() error { return e.Err }

func (e *VisionError) Is(target error) bool { return target == ErrVisionExtraction }

var (
	quotaKeywords = []string{
		"429", "quota", "rate limit", "rate_limit", "too many requests", "billing", "payment",
	}
	authKeywords = []string{
		"401", "403", "unauthorized", "forbidden", "api key", "api_key", "invalid key",
		"permission", "authentication",
	}
	contentKeywords = []string{
		"400", "bad request", "invalid", "content policy", "policy violation", "safety",
		"blocked", "harmful", "too large",
	}
	transportKeywords = []string{
		"timeout", "timed out", "ssl", "tls", "connection", "network", "eof", "500", "502", "503",
		"504", "service unavailable", "bad gateway", "gateway timeout",
	}
)

// Classify maps an error to a Kind. gRPC status codes win, then keywords
// in priority order quota, auth, content, transport.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var ve *VisionError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	if s, ok := status.FromError(err); ok {
		switch s.Code() {
		case codes.ResourceExhausted:
			return KindQuota
		case codes.Unauthenticated, codes.PermissionDenied:
			return KindAuth
		case codes.InvalidArgument, codes.FailedPrecondition:
			return KindContent
		case codes.Unavailable, codes.DeadlineExceeded, codes.Internal, codes.Aborted:
			return KindTransport
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, quotaKeywords):
		return KindQuota
	case containsAny(msg, authKeywords):
		return KindAuth
	case containsAny(msg, contentKeywords):
		return KindContent
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransport
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return KindTransport
	}
	if containsAny(msg, transportKeywords) {
		return KindTransport
	}
	return KindUnknown
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
