// Package observability records what happens to content locks. Lock
// transitions go to an append-only JSON Lines event log, metrics are
// derived from that log on demand, and diagnostic output goes through zap.
package observability
