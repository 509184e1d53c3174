// Package guest defines the data model shared by the provisioning components:
// the guest environment and its lifecycle state, the principal account, the
// package manager state, the network access configuration, and the classified
// error type every component reports failures with.
//
// # Error Classification
//
// Errors carry one of three classes that decide how the workflow reacts:
//
//   - Fatal: the workflow aborts and the process exits non-zero
//   - Recoverable: a warning is printed and the workflow continues
//   - Advisory: logged only, no remediation is attempted
//
// Use the helper functions to inspect errors:
//
//	if guest.IsFatal(err) {
//	    return err
//	}
package guest
