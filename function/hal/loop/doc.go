// Package loop provides an in-memory hal.Transport whose far side is
// driven programmatically, standing in for a device controller when
// exercising function bindings in tests and demos.
package loop
