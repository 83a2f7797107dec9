package protocol

const (
	// Protocol/transport validation.
	ErrProto        = "E_PROTO"
	ErrUnauthorized = "E_UNAUTHORIZED"
	ErrRateLimit    = "E_RATE_LIMIT"

	// Hard command failures. Expected refusals are silent and never
	// produce an error message.
	ErrBadSnapshot = "E_BAD_SNAPSHOT"
	ErrUnknownType = "E_UNKNOWN_TYPE"
	ErrBadStep     = "E_BAD_STEP"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProto:        {},
	ErrUnauthorized: {},
	ErrRateLimit:    {},
	ErrBadSnapshot:  {},
	ErrUnknownType:  {},
	ErrBadStep:      {},
	ErrInternal:     {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
