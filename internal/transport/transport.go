// Package transport holds the physical delivery clients for email and SMS.
// Senders never return Go errors: every outcome, including missing
// configuration, is reported as a Result.
package transport

// Result is the outcome of one send.
type Result struct {
	Success   bool
	MessageID string
	Error     string
	// Cost is the provider charge for the send, when the provider reports one.
	Cost float64
}

func failure(msg string) Result { return Result{Error: msg} }
