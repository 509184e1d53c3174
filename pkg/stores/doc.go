// Package stores provides the run journal of the provisioner: a SQLite
// database (WAL mode, embedded migrations) holding provisioning runs, the
// events each run emitted, the last observed facts per distribution and an
// audit trail of destructive actions.
package stores
