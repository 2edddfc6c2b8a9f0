// Package web3 defines the per-chain surface the swap service talks to and
// the YAML chain definitions it is built from. Concrete clients live in the
// ethereum (JSON-RPC, deployed swapper contract) and simulated (in-memory
// ledger) subpackages; provider wires them into a registry by chain name.
package web3
