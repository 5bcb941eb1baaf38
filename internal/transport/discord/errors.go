package discord

import (
	"context"
	"errors"
	"net/http"

	"devour/internal/purge"

	"github.com/bwmarrin/discordgo"
)

// JSON error codes from the Discord API.
const (
	codeUnknownChannel     = 10003
	codeUnknownMessage     = 10008
	codeMissingAccess      = 50001
	codeMissingPermissions = 50013
	codeBulkTooOld         = 50034
)

// mapError translates a discordgo error into the purge error taxonomy.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rl *discordgo.RateLimitError
	if errors.As(err, &rl) && rl.RateLimit != nil && rl.TooManyRequests != nil {
		return &purge.RateLimitError{RetryAfter: rl.RetryAfter, Bucket: rl.Bucket}
	}

	var re *discordgo.RESTError
	if !errors.As(err, &re) {
		return &purge.RetryableAPIError{Op: op, Err: err}
	}
	code := 0
	if re.Message != nil {
		code = re.Message.Code
	}
	switch code {
	case codeUnknownMessage:
		return purge.ErrUnknownMessage
	case codeBulkTooOld:
		return purge.ErrBulkTooOld
	case codeMissingAccess:
		return &purge.PermanentFailure{Reason: "missing_access", Code: code, Err: err}
	case codeMissingPermissions:
		return &purge.PermanentFailure{Reason: "missing_permissions", Code: code, Err: err}
	case codeUnknownChannel:
		return &purge.PermanentFailure{Reason: "unknown_channel", Code: code, Err: err}
	}

	status := 0
	if re.Response != nil {
		status = re.Response.StatusCode
	}
	switch {
	case status == http.StatusUnauthorized:
		return &purge.PermanentFailure{Reason: "unauthorized", Code: code, Err: err}
	case status == http.StatusForbidden:
		return &purge.PermanentFailure{Reason: "missing_access", Code: code, Err: err}
	case status == http.StatusNotFound:
		return &purge.PermanentFailure{Reason: "unknown_channel", Code: code, Err: err}
	case status >= 500 || status == 0:
		return &purge.RetryableAPIError{Op: op, Err: err}
	}
	return &purge.PermanentFailure{Reason: "rejected", Code: code, Err: err}
}
