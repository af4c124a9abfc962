// Package rate throttles gateway sign-in attempts with Redis fixed-window counters.
//
// # Window semantics
//
// INCR + EXPIRE on the first hit of a window. Key prefixes:
//   - psl:  failed sign-ins per email
//   - psli: failed sign-ins per client IP
package rate
