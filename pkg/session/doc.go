// Package session keeps one planning engine per chat user.
//
// Invariants:
// - At most one engine is ever built per user, even under concurrent first
//   calls.
// - A user without a stored seed phrase gets ErrNoWallet and nothing is
//   cached.
// - Callback adapters are registered on the engine exactly once, at creation.
//
// Usage:
//
//	reg, _ := session.NewRegistry(session.Config{...})
//	sess, err := reg.GetOrCreate(ctx, userID)
//	sess.Bind(inv)
//	defer sess.Unbind()
package session
