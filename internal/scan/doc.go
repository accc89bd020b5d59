// Package scan implements the concurrent sweep over an IP range.
//
// A sweep expands the range into candidate addresses, optionally culls
// unreachable ones with a cheap TCP probe, and identifies the survivors
// through the miner API. Identification parallelism is bounded by an
// adaptive permit pool: the bound grows while attempts succeed quickly and
// collapses multiplicatively when they fail or slow down, so a sweep is
// fast on a healthy network without flooding a congested one.
//
// Progress is observable while the sweep runs, and identified devices are
// streamed in completion order (not address order) over a result channel.
// Cancellation is cooperative: in-flight attempts finish or time out
// naturally, and nothing new is dispatched afterwards.
package scan
