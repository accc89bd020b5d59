// Package miner implements communication with ASIC miner control boards.
//
// Miners expose a line-oriented JSON API over TCP (the CGMiner API, default
// port 4028). A request is a single JSON object such as {"command":"summary"}
// and the reply is a JSON object terminated by a NUL byte, after which the
// miner closes the connection. Identification assembles a full telemetry
// Snapshot from the version, summary, stats and pools commands.
//
// The rest of the application depends on the Identifier interface rather
// than the concrete Client, so sweeps and pollers can be tested against
// fakes without a miner on the network.
package miner
