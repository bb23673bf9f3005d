// Package permission implements the approval gate for sensitive tool calls.
//
// A sensitive call is resolved in this order:
//
//   - run_shell command lines matching a configured deny pattern are refused
//     without asking anyone.
//   - Calls covered by a configured grant or a grant remembered for the room
//     are approved with a synthetic Approval whose actor is "grant:<scope>".
//   - Everything else is registered as pending and the caller blocks until a
//     client approves or denies the call id, or the turn is cancelled.
//
// # Grants
//
// Shell grants are patterns over parsed commands:
//
//	"git commit *"  git commit with any arguments
//	"git *"         any git invocation
//	"git"           git without arguments
//	"*"             anything
//
// A command line is covered only when every command in it (pipelines,
// chains and substitutions included) matches a grant. Directory grants are
// doublestar globs; a plain directory covers itself and its descendants.
//
//	checker := permission.NewChecker(cfg.Approvals, cfg.Tools.ShellDeny)
//	grants := permission.NewGrants(room.Grants)
//	approval, err := checker.Authorize(ctx, grants, req, notify)
//
// # Repeats
//
// RepeatDetector flags a model that keeps issuing the same call with the same
// arguments, so the session can refuse it instead of looping until the step
// limit.
package permission
