// internal/models/battle_rules.go
package models

import "time"

// BattleRules captures the server-wide policies applied to every battle.
type BattleRules struct {
	// TurnTimeout is how long a turn may last before it is passed automatically (0 => no limit).
	TurnTimeout time.Duration

	// ForfeitOnDisconnect makes a player lose immediately when their session connection closes.
	ForfeitOnDisconnect bool
}

// HasTurnLimit reports whether turns are timed.
func (r BattleRules) HasTurnLimit() bool {
	return r.TurnTimeout > 0
}
