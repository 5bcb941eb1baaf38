// Command devour is a Discord bot that deletes messages older than a
// per-channel retention period.
//
// Usage:
//
//	devour run --config ./config.yaml
//	devour policy list
//	devour policy set 123456789012345678 30 days --guild 987654321098765432
//	devour policy rm 123456789012345678
//	devour migrate
//	devour version
package main

func main() {
	Execute()
}
