// Package resilience provides a circuit breaker for calls to unreliable
// remote dependencies, used to guard the template registry client.
package resilience
