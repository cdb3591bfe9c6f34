// Package logx wraps zerolog for tagtimer.
//
// The console writer prints a short clock and caller. Files get one JSON
// object per line. Warnings and errors can also be forwarded to a chat
// through a rate limited alert sink once a sender is bound.
package logx
