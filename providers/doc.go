// Package providers contains built-in provider adapters and factories.
//
// The generic OAuth2Adapter covers any provider with a standard refresh_token
// grant; provider subpackages layer trigger resource management on top of it.
package providers
