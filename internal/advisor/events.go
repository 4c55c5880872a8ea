package advisor

import (
	"fmt"
	"strings"
	"time"
)

// Event kinds the advisor evaluates per user.
const (
	KindGas   = "gas"
	KindClaim = "claim"
	KindRisk  = "risk"
)

// State of one (user, kind, key) in the notification machine.
type State string

const (
	// StateQuiet means the condition does not hold; nothing to send.
	StateQuiet State = "quiet"
	// StatePending means the condition holds and no notification landed
	// within the cooldown; a send is due.
	StatePending State = "pending"
	// StateNotified means the condition holds but a notification already
	// landed within the cooldown; stay suppressed.
	StateNotified State = "notified"
)

// Event is one advisory condition that currently holds for a user.
type Event struct {
	Kind    string
	Key     string
	Subject string
	Lines   []string
}

// NextState decides the transition for one key from the condition and the
// recorded notification history. Pure, so cooldown behaviour is testable
// without the tick driver.
func NextState(conditionTrue bool, lastNotified time.Time, hasRecord bool, now time.Time, cooldown time.Duration) State {
	if !conditionTrue {
		return StateQuiet
	}
	if hasRecord && cooldown > 0 && lastNotified.After(now.Add(-cooldown)) {
		return StateNotified
	}
	return StatePending
}

// GasEventKey identifies the cheap-gas condition per chain.
func GasEventKey(chain string) string {
	return "gas-" + chain
}

// ClaimEventKey identifies the claim-due condition per position.
func ClaimEventKey(positionID int64) string {
	return fmt.Sprintf("pos-%d", positionID)
}

// RiskEventKey identifies the high-risk condition per watched address.
func RiskEventKey(address string) string {
	return "risk-" + strings.ToLower(address)
}

// CalendarExternalKey is the stable identity of a position's claim reminder
// in the external calendar; re-upserting it must never duplicate the entry.
func CalendarExternalKey(positionID int64) string {
	return fmt.Sprintf("pos-%d-claim", positionID)
}
