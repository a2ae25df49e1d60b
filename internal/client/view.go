package client

import "github.com/runger/focus/internal/now"

// State is what a front end should render.
type State string

const (
	StateResolved   State = "resolved"
	StateNoClear    State = "no_clear"
	StateDeferred   State = "deferred"
	StateFetchError State = "fetch_error"
)

// View is a presentation-ready answer. Result is set for every state except
// StateFetchError, which carries Err instead.
type View struct {
	State     State
	Result    now.Result
	Err       error
	Retryable bool
}

// ViewOf maps a result onto its presentation state.
func ViewOf(r now.Result) View {
	return now.Match(r,
		func(v now.ResolvedNow) View { return View{State: StateResolved, Result: v} },
		func(v now.NoClearNow) View { return View{State: StateNoClear, Result: v} },
		func(v now.Deferred) View { return View{State: StateDeferred, Result: v} },
	)
}

// ErrorView is the state for a request that produced no result. It is never
// shown as "nothing to do".
func ErrorView(err error) View {
	return View{State: StateFetchError, Err: err, Retryable: IsRetryable(err)}
}
