/*
Package resilience provides the circuit breaker guarding calls to remote
asset hosts.

A breaker counts outcomes while closed and opens once ReadyToTrip says so.
While open every call fails fast with ErrCircuitOpen. After Timeout it lets
up to MaxRequests probe calls through (half-open); that many successes close
it again, any failure reopens it.

	Closed --[trip]--> Open --[timeout]--> Half-Open --[successes]--> Closed
	                     ^                     |
	                     +------[failure]------+

Time comes from an injected clock so tests can drive transitions.

	img, err := resilience.Do(breaker, func() (*Image, error) {
		return fetch(ctx, url)
	})
*/
package resilience
