// Package orchestrator drives one chat interaction from inbound text or
// review button press to the final message the user sees.
//
// Every interaction for a user runs on that user's commandqueue lane, so
// calls for one user are handled one at a time in arrival order. Within the
// lane the orchestrator sends a "Thinking..." placeholder, binds the user's
// callback adapters to it, runs the engine under a deadline, sanitizes the
// reply and performs exactly one terminal delivery:
//
//	result, no executed action  edit placeholder > send new > busy notice
//	executed action delivered   keep the delivered message
//	empty result / undelivered  delete placeholder
//	engine error or deadline    failure or timeout notice
package orchestrator
