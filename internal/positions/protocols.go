package positions

import (
	"strings"
	"time"
)

const fallbackCadence = 7 * 24 * time.Hour

// Typical reward claim intervals per protocol, applied when a position is
// added without an explicit cadence.
var protocolCadences = map[string]time.Duration{
	"aave":     7 * 24 * time.Hour,
	"compound": 3 * 24 * time.Hour,
	"uniswap":  14 * 24 * time.Hour,
	"curve":    7 * 24 * time.Hour,
	"yearn":    7 * 24 * time.Hour,
	"convex":   14 * 24 * time.Hour,
	"harvest":  7 * 24 * time.Hour,
}

// Vault-style protocols fold claimed rewards back into principal, so their
// projected yield compounds per claim cycle.
var autoCompounding = map[string]bool{
	"yearn":   true,
	"convex":  true,
	"harvest": true,
}

// CadenceFor returns the typical claim interval for a protocol, falling back
// to a weekly cadence for unknown names.
func CadenceFor(protocol string) time.Duration {
	if cadence, ok := protocolCadences[normalizeProtocol(protocol)]; ok {
		return cadence
	}
	return fallbackCadence
}

// AutoCompounds reports whether the protocol reinvests rewards each claim
// cycle instead of accruing them linearly.
func AutoCompounds(protocol string) bool {
	return autoCompounding[normalizeProtocol(protocol)]
}

func normalizeProtocol(protocol string) string {
	return strings.ToLower(strings.TrimSpace(protocol))
}
