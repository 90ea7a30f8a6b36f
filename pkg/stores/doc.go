// Package stores provides the session journal. It records sessions,
// trials, verdicts and events in SQLite so the history command can show
// past runs and incomplete ids can be picked up later.
package stores
