// Package inbound routes provider-originated requests to surface handlers.
//
// Every delivery is claimed before handling and marked complete or
// retry-ready afterwards, so duplicate notifications are acknowledged
// without reprocessing and transient handler failures stay retryable.
package inbound
