package domain

// Status is the canonical, provider-agnostic lifecycle state of a payment.
// Every provider-native status is normalized into exactly one of these.
type Status string

const (
	StatusOpen       Status = "open"
	StatusAuthorized Status = "authorized"
	StatusSuccess    Status = "success"
	StatusCancelled  Status = "cancelled"
	StatusFailure    Status = "failure"
	StatusExpired    Status = "expired"
	StatusRefunded   Status = "refunded"
	StatusOnHold     Status = "on_hold"
)

// IsValid reports whether s is a known canonical status.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusAuthorized, StatusSuccess, StatusCancelled,
		StatusFailure, StatusExpired, StatusRefunded, StatusOnHold:
		return true
	}
	return false
}

// IsTerminal reports whether polling and webhook channels can stop
// reconciling. on_hold is not terminal: a dispute is still in flight.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusCancelled, StatusFailure, StatusExpired, StatusRefunded:
		return true
	}
	return false
}

// IsPaid reports whether money has actually moved (including a later
// refund or an open dispute, both of which imply a collected payment).
func (s Status) IsPaid() bool {
	return s == StatusSuccess || s == StatusRefunded || s == StatusOnHold
}

// CanTransitionTo reports whether the transition s -> target is legal.
// Anything not listed is refused, which is what makes Apply a monotonic
// upgrade: a stale callback can never move a payment backwards.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusOpen:
		switch target {
		case StatusAuthorized, StatusSuccess, StatusCancelled, StatusFailure, StatusExpired:
			return true
		}
	case StatusAuthorized:
		switch target {
		case StatusSuccess, StatusFailure, StatusExpired:
			return true
		}
	case StatusSuccess:
		// Refund and dispute workflows only.
		return target == StatusRefunded || target == StatusOnHold
	case StatusOnHold:
		return target == StatusSuccess || target == StatusFailure
	case StatusCancelled, StatusFailure, StatusExpired, StatusRefunded:
		return false
	}
	return false
}

// Rank orders statuses by lifecycle progress, for reporting and for
// reasoning about transition tables. The atomic update guard compares
// exact statuses, not ranks: dispute resolution legitimately moves an
// on-hold payment back down to success or failure.
func (s Status) Rank() int {
	switch s {
	case StatusOpen:
		return 0
	case StatusAuthorized:
		return 1
	case StatusCancelled, StatusFailure, StatusExpired:
		return 2
	case StatusSuccess:
		return 3
	case StatusOnHold:
		return 4
	case StatusRefunded:
		return 5
	default:
		return -1
	}
}

// Apply computes the result of applying next on top of current.
// It returns the resulting status and whether the record changed.
// Illegal, unknown and stale targets are silently absorbed.
func Apply(current, next Status) (Status, bool) {
	if next == current || !next.IsValid() {
		return current, false
	}
	if current.CanTransitionTo(next) {
		return next, true
	}
	return current, false
}
