package metrics

import "time"

// BackendOutcome records one backend verification of one contract.
func BackendOutcome(backend, status string, d time.Duration) {
	if !enabled {
		return
	}
	backendOutcomeTotal.WithLabelValues(backend, status).Inc()
	backendDuration.WithLabelValues(backend).Observe(d.Seconds())
}

// RetryAttempt records a retried remote call.
func RetryAttempt(component string) {
	if !enabled {
		return
	}
	retryAttemptsTotal.WithLabelValues(component).Inc()
}

// VerificationRun records a finished run. result is "success", "failure" or "error".
func VerificationRun(chainID, result string) {
	if !enabled {
		return
	}
	if chainID == "" {
		chainID = "unknown"
	}
	runTotal.WithLabelValues(chainID, result).Inc()
}
