// Package webhooks delivers queued notifications to an external endpoint.
//
// # Overview
//
// The dispatcher queues notifications as rows. A Deliverer drains the
// pending ones, posts each as a signed JSON event and records the outcome
// back on the row, so a notification that keeps failing is marked failed
// once it reaches the configured attempt limit.
//
// # Wire format
//
//	POST <url>
//	Content-Type: application/json
//	X-Keystone-Event: rfi_escalated
//	X-Keystone-Delivery: <notification id>
//	X-Keystone-Signature: sha256=<hex hmac of body>
//
// Verify signature (receiver side):
//
//	sig := r.Header.Get(webhooks.SignatureHeader)
//	if !webhooks.VerifySignature(body, sig, secret) {
//		return errors.New("invalid signature")
//	}
//
// # Retry Policy
//
// Within one drain a send is retried with exponential backoff on network
// errors and 5xx responses. 4xx responses fail immediately. Either way the
// failure counts as one delivery attempt on the notification.
package webhooks
