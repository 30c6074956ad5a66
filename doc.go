// `multicall` routes RPC calls across a pool of remote endpoints from
// the client side, without any coordination service in the middle.
//
// An `Endpoint` is one remote implementation of a `Protocol`; a `Pool`
// is an ordered, name-indexed set of them. On top of a Pool, three
// addressing strategies are available:
//
//   - direct: `Endpoint.Invoke` performs one dial-exchange-close cycle
//     against one member.
//   - broadcast: `Broadcast` and `ConcurrentBroadcast` send the same
//     call to every member and report one `Result` per endpoint, never
//     letting a single failure abort the aggregate.
//   - hashed: `HashRouter` hashes the call arguments modulo the pool
//     size so equal arguments always land on the same member, which
//     pins per-key remote state to one endpoint. Its `All` view shares
//     the pool for administrative fan-outs.
//
// ## Failure Model
//
// APIs MUST NOT model an infallible network, so per-endpoint errors
// are first-class values here: fan-outs return them inside `Result`s,
// annotated with the endpoint which produced them, and the hash
// router's single-shot path returns the annotated error directly.
// Transport errors and application errors stay distinguishable all the
// way up, see `EndpointError` and the protocol adapters.
//
// ## Concurrency Rules
//
// Calls never share connections: every invocation dials, exchanges and
// closes. One Endpoint may therefore serve any number of concurrent
// calls, and `Enable`/`Disable` may be flipped at any moment without
// affecting calls already in flight.
//
// Pool membership is different: the Pool does no internal locking, so
// mutating membership while calls or fan-outs are running is a data
// race. Keep membership changes on one goroutine (pkg/discovery does
// exactly that) or synchronize externally.
//
// ## Placement Stability
//
// The hash router uses plain modulo bucketing. Adding or removing a
// member remaps most keys; there is no consistent hashing and no
// resharding support. When that movement matters, drain endpoints with
// `Disable` instead of removing them, or install your own `KeyFunc`
// discipline.
//
// ## Extension Points
//
// The wire format is pluggable through `Protocol` (pkg/gobrpc ships a
// ready-made one, server half included) and the transport through
// `Dialer` (plain TCP by default, QUIC streams with pkg/quicdial).
// Framing, call sinks, timeouts and names are per-endpoint knobs;
// logging, metrics and endpoint defaults are per-pool knobs.
package multicall
