// Package secrets redacts credentials from agent output before it is kept
// in operation history or returned to API clients. Detection is backed by
// the Gitleaks SDK.
package secrets
