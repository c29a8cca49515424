/*
Package log provides structured logging for the raft library using zerolog.

The package wraps zerolog to give every component a JSON or console logger
with consistent fields: component, node ID, term, and role. All logs carry
a timestamp and can be filtered by level.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	nodeLog := log.WithNode("n1")
	nodeLog.Info().Msg("node started")

	raftLog := log.WithRole(log.WithTerm(log.WithComponent("election"), 4), "candidate")
	raftLog.Debug().Msg("requesting votes")

# Integration points

This package is used by the root raft package, pkg/diskio, pkg/kvfsm,
pkg/rpctransport, pkg/controlapi, and cmd/raftd.
*/
package log
