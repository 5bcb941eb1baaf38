// Package logx wraps zerolog for devour.
//
// The console gets short human-readable lines, the optional log file gets
// JSON, and lines at or above the alert level are forwarded to an operator
// sink (Telegram or a Discord channel) under a rate limit.
package logx
