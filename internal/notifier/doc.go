// Package notifier sends short operator messages to a Telegram chat: run
// summaries taken from the event bus, and forwarded warning log lines.
//
// The bot runs offline (no update polling); it only calls sendMessage.
package notifier
