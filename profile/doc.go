// Package profile defines the role-shaped portal profile and the rules that keep it
// total: defaults per role, patch merging, and normalization.
//
// A [Profile] always carries exactly one [RoleDetails] payload matching its [Role].
// Readers switch on the payload type rather than probing optional fields.
//
// # What this package must NOT do
//
//   - Perform I/O. Stores live in profilestore; this package only shapes values.
package profile
