package logic

import "time"

// Reporter decides which classified states are worth reporting.
// Unresolved states never replace the last reported one.
type Reporter struct {
	ignoreErrors  bool
	reported      bool
	last          DoorState
	target        DoorState
	changes       int64
	startTime     time.Time
	lastHeartbeat time.Time
}

// NewReporter creates a Reporter. The startTime is used for calculating
// uptime in heartbeat events. With ignoreErrors set the STOPPED token is
// reported as CLOSED.
func NewReporter(startTime time.Time, ignoreErrors bool) *Reporter {
	return &Reporter{
		ignoreErrors:  ignoreErrors,
		target:        StateClosed,
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
}

// Observe takes a freshly classified state and returns an event when it is a
// resolved change from the last reported state.
func (r *Reporter) Observe(state DoorState, now time.Time) (Event, bool) {
	if state == StateIndeterminate {
		return Event{}, false
	}
	if r.reported && state == r.last {
		return Event{}, false
	}

	token := r.token(state)
	switch token {
	case TokenOpen, TokenOpening:
		r.target = StateOpen
	case TokenClosed, TokenClosing:
		r.target = StateClosed
	}

	event := Event{
		Timestamp: now,
		State:     state,
		Previous:  r.last,
		First:     !r.reported,
		Token:     token,
		Target:    r.target,
	}
	r.last = state
	r.reported = true
	r.changes++
	return event, true
}

func (r *Reporter) token(state DoorState) string {
	tok := state.Token()
	if r.ignoreErrors && tok == TokenStopped {
		return TokenClosed
	}
	return tok
}

// Last returns the last reported state and whether anything was reported.
func (r *Reporter) Last() (DoorState, bool) {
	return r.last, r.reported
}

// Changes returns the number of events reported so far.
func (r *Reporter) Changes() int64 {
	return r.changes
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if nothing has been reported yet,
// if the interval has not elapsed, or if interval is <= 0 (disabled).
func (r *Reporter) CheckHeartbeat(now time.Time, interval time.Duration, counts Counts) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if !r.reported {
		return nil
	}
	if now.Sub(r.lastHeartbeat) < interval {
		return nil
	}

	r.lastHeartbeat = now
	counts.Changes = r.changes
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(r.startTime),
		Counts:    counts,
	}
}
