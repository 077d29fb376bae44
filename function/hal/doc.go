// Package hal defines the transport abstraction between the function
// engine and a USB device controller.
//
// The engine implements all descriptor, state-machine, and I/O policy
// logic, leaving the transport to handle only endpoint allocation and
// transfer delivery. Controller vendors implement [Transport] and
// [Endpoint] to host the engine on their hardware.
//
// # Completion Model
//
// [Endpoint.Queue] is asynchronous: it submits a [Request] and returns.
// The transport later calls [Request.Complete] from its own delivery
// context. That context must never block; the engine defers any
// follow-up copying to its own workers.
//
// # Implementing a Transport
//
//  1. Hand out a control endpoint via Control()
//  2. Claim compatible hardware endpoints in AllocEndpoint, rewriting
//     the descriptor's address byte with the real assigned address
//  3. Deliver queued requests and complete them exactly once
//  4. Fail outstanding requests with a shutdown status on Disable
//
// An in-memory loopback transport for testing lives in
// [github.com/ardnew/funcfs/function/hal/loop].
package hal
