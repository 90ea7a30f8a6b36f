// Package session runs one isolation session end to end.
//
// A session checks that the target and its order file exist, offers to
// restore the newest backup, snapshots the order file, boots the baseline
// (required and optional plugins only), isolates every candidate with the
// engine and finally lets the operator quarantine the failed plugins,
// revert the order file or leave it as it is.
//
// Progress fans out to the terminal display, the session log, the sqlite
// journal, Prometheus metrics and the session trace span through a single
// engine.Observer.
package session
