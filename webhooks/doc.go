// Package webhooks receives provider trigger notifications.
//
// A Receiver answers subscription validation handshakes, verifies request
// authenticity, coalesces notification bursts, and fans parsed change and
// lifecycle notifications out to the integration service. Verified
// deliveries are always acknowledged with a 2xx so providers do not
// disable the subscription; per-notification routing failures are reported
// in the acknowledgment metadata instead.
package webhooks
