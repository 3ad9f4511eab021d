package casino

import "errors"

var (
	// ErrInvalidStake is returned for non-numeric, non-positive or too small stakes.
	ErrInvalidStake = errors.New("invalid stake")
	// ErrUnresolvableBet is returned when a bet does not match the bet table.
	// Such bets are never evaluated.
	ErrUnresolvableBet = errors.New("unresolvable bet")
	// ErrConflictingSession is returned when the user already plays mines.
	ErrConflictingSession = errors.New("mines session is already active")
	// ErrOutcomeSourceUnavailable is returned when no outcome could be drawn.
	ErrOutcomeSourceUnavailable = errors.New("outcome source unavailable")
	// ErrOutcomeUncertain is wrapped by sources when a failed draw may still
	// have shown a result to the user. Such failures are not retried.
	ErrOutcomeUncertain = errors.New("outcome may have been shown")

	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrUnknownUser       = errors.New("unknown user")
	ErrNoActiveSession   = errors.New("no active mines session")
	ErrNothingToCashOut  = errors.New("nothing to cash out")
	ErrInvalidCell       = errors.New("invalid cell")
	ErrInvalidMineCount  = errors.New("invalid mine count")
	// ErrAlreadySettled is returned by Settler for a repeated bet id.
	ErrAlreadySettled = errors.New("bet is already settled")
)
