// Package swap implements the swap execution adapter: it pulls the input
// token from the caller, grants the router exactly the allowance it needs,
// selects a direct or base-asset routed path and invokes the router with a
// minimum output guard. A swap either settles on acceptable terms or leaves
// every balance and allowance untouched.
package swap
