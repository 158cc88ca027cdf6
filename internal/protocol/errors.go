package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// World routing/state.
	ErrOutOfWorld   = "E_OUT_OF_WORLD"
	ErrUnknownBlock = "E_UNKNOWN_BLOCK"
	ErrRateLimit    = "E_RATE_LIMIT"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrOutOfWorld:      {},
	ErrUnknownBlock:    {},
	ErrRateLimit:       {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
