package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
)

var (
	ErrNotFound             = errors.New("object not found")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrStorageQuotaExceeded = errors.New("storage quota exceeded")
	ErrPolicyRejected       = errors.New("lifecycle policy rejected")
)

var notFoundCodes = map[string]bool{
	"NoSuchKey": true,
	"NotFound":  true,
}

var quotaCodes = map[string]bool{
	"QuotaExceeded":        true,
	"StorageQuotaExceeded": true,
	"EntityTooLarge":       true,
	"ServiceQuotaExceeded": true,
}

var policyCodes = map[string]bool{
	"MalformedXML":       true,
	"InvalidArgument":    true,
	"InvalidRequest":     true,
	"NotImplemented":     true,
	"InvalidBucketState": true,
}

type statusCoder interface {
	HTTPStatusCode() int
}

func apiCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func httpStatus(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.HTTPStatusCode()
	}
	return 0
}

// translate maps an SDK error onto the gateway's sentinels, keeping the cause.
func translate(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var kind error
	code := apiCode(err)
	status := httpStatus(err)
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("storage %s %q: %w", op, key, err)
	case notFoundCodes[code], status == http.StatusNotFound:
		kind = ErrNotFound
	case quotaCodes[code], status == http.StatusRequestEntityTooLarge:
		kind = ErrStorageQuotaExceeded
	default:
		kind = ErrStorageUnavailable
	}
	return fmt.Errorf("storage %s %q: %w: %w", op, key, kind, err)
}

// translatePolicy is translate for lifecycle writes, where a 4xx means the
// backend refused the configuration.
func translatePolicy(op, id string, err error) error {
	if err == nil {
		return nil
	}
	status := httpStatus(err)
	if policyCodes[apiCode(err)] || (status >= 400 && status < 500 && status != http.StatusForbidden) {
		return fmt.Errorf("storage %s %q: %w: %w", op, id, ErrPolicyRejected, err)
	}
	return translate(op, id, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
