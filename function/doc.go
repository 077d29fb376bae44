// Package function implements the userspace-driven USB function
// engine: a Session collects a descriptor blob and a string blob over
// its control file, materializes one file per declared endpoint, and
// from then on relays setup requests and lifecycle events between the
// controlling process and a bound transport.
//
// The usual shape of a program:
//
//	reg := function.NewRegistry()
//	s, _ := reg.Create("loopback", function.Options{})
//	ep0, _ := s.OpenControl()
//	ep0.Write(ctx, descriptorBlob)
//	ep0.Write(ctx, stringBlob)
//	fn, _ := function.Bind(s, transport, alloc)
//	fn.Enable()
//
// After Enable the endpoint files returned by s.EndpointFiles() carry
// data, and ep0.Read delivers bind/enable/setup/suspend events as
// fixed-size records.
//
// Locking order inside the package is session.mu, then evMu, then
// epMu; callbacks (OnReady, OnClosed, async completions) always fire
// with no session lock held.
package function
