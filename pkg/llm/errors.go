package llm

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"syscall"

	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/pitchql/pitchql/pkg/apperr"
)

// IsTransient reports whether err is worth retrying: a dropped or refused
// connection, a network timeout, or an upstream rate-limit / unavailable
// response.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if k := apperr.KindOf(err); k == apperr.KindTransientUpstream {
		return true
	} else if k != apperr.KindInternal {
		return false
	}

	if status, ok := statusCode(err); ok {
		return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	// Other transport failures, such as a bad scheme or a TLS verification
	// error, do not heal on retry. Only timeouts do.
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// statusCode extracts an HTTP status from a provider SDK error.
func statusCode(err error) (int, bool) {
	var gErr genai.APIError
	if errors.As(err, &gErr) {
		return gErr.Code, true
	}
	var gErrPtr *genai.APIError
	if errors.As(err, &gErrPtr) && gErrPtr != nil {
		return gErrPtr.Code, true
	}
	var oErr *openai.APIError
	if errors.As(err, &oErr) {
		return oErr.HTTPStatusCode, true
	}
	var oReqErr *openai.RequestError
	if errors.As(err, &oReqErr) {
		return oReqErr.HTTPStatusCode, true
	}
	return 0, false
}

// classify wraps a backend error as TransientUpstream or NonRetriableUpstream.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return apperr.Wrap(apperr.KindTransientUpstream, op, err)
	}
	return apperr.Wrap(apperr.KindNonRetriableUpstream, op, err)
}
