// Package notifier delivers operator alerts.
//
// Alerts are queued and sent by a small worker pool to every configured
// Sender (a Telegram ops chat, a Discord alert channel). Sends are rate
// limited and retried with jittered exponential backoff. Alerts with the same
// key are suppressed for a dedup window; suppression windows are persisted
// through a DedupStore so a restart does not repeat them.
package notifier
