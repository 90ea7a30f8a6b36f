// Package orderfile reads and writes the target program's plugin order
// file.
//
// The order file is a plain text list with one plugin per line. Lines
// starting with '#' are comments; the mod manager uses them for its header
// and for disabled entries. Every write goes through a temp file in the
// same directory followed by a rename.
//
// The package also owns the on-disk artifacts around the order file:
// session backups of the original file, quarantine folders for crashing
// plugin files and the final assembled order.
package orderfile
