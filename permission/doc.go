// Package permission provides the capability registry and role masks used by the portal
// to derive officer capability flags from a profile role.
//
// # Architecture boundaries
//
// This package is a pure in-memory data structure with no I/O. Bit positions are
// assigned by [Registry.Register] and are stable for the lifetime of the process.
//
// # What this package must NOT do
//
//   - Access Redis, databases, or the network.
//   - Import portalAuth, profile, or any store package.
//   - Allow registration after Freeze.
package permission
