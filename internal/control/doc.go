// Package control implements the dashboard request/response protocol.
//
// Requests arrive on control topics as JSON:
//
//	{"action": "read"|"write", "sender_client_id": "...", "type": "config"|"relay", "payload": ...}
//
// An Endpoint is registered per topic in the subscription registry. It
// decodes and validates the request, drops requests this node sent itself,
// hands the rest to a Processor and enqueues the enveloped response on the
// processor's dashboard topic. Processor failures become
// {"status":"error","message":"..."} payloads rather than handler errors,
// so the dashboard always gets an answer.
//
// When an AuditLog is configured, every write that reaches a processor is
// recorded with its outcome.
package control
