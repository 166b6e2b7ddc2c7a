// Package claims books reward claims for executed transactions and tells
// users when those claims mature.
//
// A claim becomes eligible a fixed maturation period (nine days by default)
// after the transaction was reported. The Recorder stores it and, when a
// broker is configured, publishes a ClaimEvent. The Notifier runs on a cron
// schedule and messages every user whose claims have matured.
package claims
