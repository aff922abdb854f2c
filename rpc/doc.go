// Package rpc implements the client side of a line-delimited JSON-RPC
// channel to the Codex app-server subprocess.
//
// All calls multiplex over one shared transport. Outbound requests are
// serialized as single JSON lines onto the process stdin; inbound lines from
// the process stdout are parsed independently and routed by id to the
// pending call they answer. Unsolicited requests from the backend are
// answered with a "method not supported" error so the process never hangs
// waiting for an interactive approval, and notifications are forwarded to a
// registered handler.
//
// Every line crossing the channel in either direction is mirrored into a
// bounded tail buffer that is attached to crash reports.
package rpc
