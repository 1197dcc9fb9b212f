// Package scheduler drives the periodic maintenance work of the
// integration service: refreshing credentials that are about to expire,
// renewing trigger subscriptions before their provider deadline, and
// reconciling tracked resources against provider state.
//
// Work is enqueued as idempotent job messages so overlapping schedules
// collapse to one execution per interval, and a Worker drains the queue
// with bounded retries.
package scheduler
