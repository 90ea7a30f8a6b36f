// Package report renders session progress and talks to the operator.
//
// Display draws the progress frame: counts, the current batch and the
// most recent passed and failed plugins in three truncated columns. Input
// reads operator lines once and serves both the pause signal polled by the
// oracle and the Prompter's questions.
package report
