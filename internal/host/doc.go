// Package host implements the repository hosts the push orchestrator
// publishes to: GitHub over its REST API and local git repositories.
//
// Both satisfy push.Host. Hosts classify their own errors as retryable or
// not; retrying is left to the orchestrator.
package host
