// Package session keeps a client's authenticated session alive and tells the
// rest of the application when it changes.
//
// Manager:
//   - Manager owns a single State snapshot (user, session, loading and
//     initialized flags, refresh attempts). Every change goes through the
//     Store, which dedupes identical snapshots so subscribers never see echo
//     events from the backend.
//   - Start loads the backend session once and subscribes to provider
//     notifications. Stop cancels timers and listeners; a refresh still
//     running applies its result but arms and publishes nothing.
//   - Events are published after the loading flag is cleared, so handlers
//     may evaluate routes directly.
//
// Expiry and refresh:
//   - The Scheduler ticks every CheckInterval while an expiring session is
//     armed. It asks the Coordinator for a refresh inside RefreshThreshold,
//     emits a single SESSION_WARNING inside WarningThreshold, and expires the
//     session at its deadline.
//   - The Coordinator guarantees at most one backend refresh in flight. Calls
//     made while a refresh is running share its result. Invalid credentials
//     and exhausted attempts escalate to SESSION_EXPIRED.
//
// Route access:
//   - The guard subpackage classifies paths and decides allow or redirect
//     from a State projection. Redirect targets are validated as same-origin
//     relative paths before they are echoed back.
//   - middleware/routeguard adapts EvaluatePath to go-router handlers.
//
// Activity sinks:
//   - ActivitySink receives sign in, sign out, refresh and expiry events.
//     Sinks run best-effort (errors are logged) so you can forward to a
//     database or queue without blocking the session lifecycle.
package session
