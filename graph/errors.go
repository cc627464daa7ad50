package graph

import "fmt"

// ErrorKind classifies Graph API errors into the handful of buckets callers
// actually branch on.
type ErrorKind string

const (
	// ErrorAuth covers expired, revoked or malformed access tokens.
	ErrorAuth ErrorKind = "auth"

	// ErrorThrottled covers rate and spam limits. The request may succeed
	// later without changes.
	ErrorThrottled ErrorKind = "throttled"

	// ErrorPermission covers tokens lacking a capability or asset access.
	ErrorPermission ErrorKind = "permission"

	// ErrorParam covers malformed or rejected request parameters.
	ErrorParam ErrorKind = "param"

	// ErrorMedia covers media that could not be downloaded or re-used.
	ErrorMedia ErrorKind = "media"

	// ErrorTemplate covers template state problems like pausing or missing
	// translations.
	ErrorTemplate ErrorKind = "template"

	// ErrorFlow covers flow state problems like sending an unpublished flow.
	ErrorFlow ErrorKind = "flow"

	// ErrorRecipient covers recipients that cannot receive the message,
	// whether blocked, unreachable or outside the messaging window.
	ErrorRecipient ErrorKind = "recipient"

	// ErrorGeneric is everything else.
	ErrorGeneric ErrorKind = "generic"
)

// throttlingCodes are the codes Meta documents as retryable rate or spam
// limits.
var throttlingCodes = map[int]bool{
	4:      true, // app rate limit
	80007:  true, // WABA rate limit
	130429: true, // cloud API throughput
	131048: true, // spam rate limit
	131056: true, // pair rate limit
	133016: true, // registration attempts limit
}

// Error is a structured Graph API error response.
type Error struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	UserTitle string `json:"error_user_title"`
	UserMsg   string `json:"error_user_msg"`
	FBTraceID string `json:"fbtrace_id"`
	Data      struct {
		MessagingProduct string `json:"messaging_product"`
		Details          string `json:"details"`
	} `json:"error_data"`
}

func (e *Error) Error() string {
	if e.Data.Details != "" {
		return fmt.Sprintf("graph error %d: %s (%s)", e.Code, e.Message, e.Data.Details)
	}
	return fmt.Sprintf("graph error %d: %s", e.Code, e.Message)
}

// Kind classifies the error by its numeric code.
func (e *Error) Kind() ErrorKind {
	if throttlingCodes[e.Code] {
		return ErrorThrottled
	}

	switch e.Code {
	case 0, 190:
		return ErrorAuth
	case 3, 10, 299:
		return ErrorPermission
	case 100, 131008, 131009:
		return ErrorParam
	case 131052, 131053:
		return ErrorMedia
	case 131026, 131030, 131031, 131047, 131049, 131050:
		return ErrorRecipient
	}

	switch {
	case e.Code >= 200 && e.Code <= 298:
		return ErrorPermission
	case e.Code >= 132000 && e.Code <= 132099:
		return ErrorTemplate
	case e.Code >= 139000 && e.Code <= 139099:
		return ErrorFlow
	}

	return ErrorGeneric
}

// Retryable reports whether the same request may succeed if repeated later.
// The client itself never retries.
func (e *Error) Retryable() bool {
	return e.Kind() == ErrorThrottled
}
