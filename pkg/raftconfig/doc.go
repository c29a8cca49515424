// Package raftconfig loads a node's on-disk YAML configuration: the
// timer parameters from raft.Config, plus the deployment-specific bits
// (data directory, bind address, peer list) that raft.Config itself has
// no opinion about. Any field absent from the file falls back to
// raft.DefaultConfig's value, so a minimal file naming node_id,
// bind_addr, data_dir and peers is enough to start a node; Load rejects a
// file that lacks node_id, bind_addr or data_dir.
package raftconfig
