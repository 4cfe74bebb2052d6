package metrics

import (
	"net/http"
	"time"
)

// InstrumentedTransport wraps an http.RoundTripper so that every request made
// through it is recorded as a relay request. Transport failures are recorded
// with an "unknown" status class.
// If next is nil, http.DefaultTransport is used.
func InstrumentedTransport(m *Metrics, next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()

		resp, err := next.RoundTrip(r)

		statusCode := 0
		if err == nil {
			statusCode = resp.StatusCode
		}
		m.RecordRelayRequest(r.Method, statusCode, time.Since(start).Seconds())

		return resp, err
	})
}

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Timer is a helper for timing operations.
// Usage:
//
//	defer Timer(time.Now(), func(duration float64) {
//	    metrics.RecordSomething(duration)
//	})()
func Timer(start time.Time, recordFunc func(float64)) func() {
	return func() {
		recordFunc(time.Since(start).Seconds())
	}
}
