package rafttest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironquorum/raft"
)

func fastConfig() raft.Config {
	cfg := raft.DefaultConfig()
	cfg.ElectionTimeout = 150 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.TickInterval = 5 * time.Millisecond
	return cfg
}

func TestCluster_ElectsASingleLeader(t *testing.T) {
	c, err := NewCluster(3, fastConfig())
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	leader, err := c.WaitForLeader(3 * time.Second)
	require.NoError(t, err)

	leaders := 0
	for _, n := range c.Nodes {
		if n.Node.Role() == raft.Leader {
			leaders++
		}
	}
	assert.Equal(t, 1, leaders)
	assert.Equal(t, leader.Node.Role(), raft.Leader)
}

func TestCluster_ReplicatesCommandsToAllFSMs(t *testing.T) {
	c, err := NewCluster(3, fastConfig())
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	leader, err := c.WaitForLeader(3 * time.Second)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := SubmitAndWait(leader, []byte{byte(i)}, 2*time.Second)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		for _, n := range c.Nodes {
			if len(n.FSM.Applied()) != 5 {
				return false
			}
		}
		return true
	}, 3*time.Second, 20*time.Millisecond)

	want := c.Nodes[0].FSM.Applied()
	for _, n := range c.Nodes[1:] {
		assert.Equal(t, want, n.FSM.Applied())
	}
}

func TestCluster_ReelectsAfterLeaderStops(t *testing.T) {
	c, err := NewCluster(3, fastConfig())
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	first, err := c.WaitForLeader(3 * time.Second)
	require.NoError(t, err)

	first.Node.Stop()
	first.transport.Close()

	deadline := time.Now().Add(5 * time.Second)
	var second *TestNode
	for time.Now().Before(deadline) {
		for _, n := range c.Nodes {
			if n.ID != first.ID && n.Node.Role() == raft.Leader {
				second = n
			}
		}
		if second != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NotNil(t, second, "expected a new leader after the first stopped")
	assert.NotEqual(t, first.ID, second.ID)
}

// doneChan adapts raft.Completion into a channel a test can block on.
func doneChan() (raft.Completion, chan error) {
	ch := make(chan error, 1)
	return func(_ raft.Index, _ interface{}, err error) { ch <- err }, ch
}

func TestCluster_AddServerReplicatesToNonVoter(t *testing.T) {
	c, err := NewCluster(3, fastConfig())
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	leader, err := c.WaitForLeader(3 * time.Second)
	require.NoError(t, err)

	joiner, err := c.AddNode(4)
	require.NoError(t, err)
	require.NoError(t, joiner.Node.Start())
	defer joiner.Node.Stop()
	defer joiner.transport.Close()

	done, ch := doneChan()
	leader.Node.AddServer(joiner.ID, joiner.Address, done)
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("AddServer did not complete")
	}

	for i := 0; i < 3; i++ {
		_, err := SubmitAndWait(leader, []byte{byte(i)}, 2*time.Second)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return len(joiner.FSM.Applied()) == 3
	}, 3*time.Second, 20*time.Millisecond, "non-voter should still receive replicated entries")
}

func TestCluster_PromoteServerSucceedsOnceCaughtUp(t *testing.T) {
	c, err := NewCluster(3, fastConfig())
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	leader, err := c.WaitForLeader(3 * time.Second)
	require.NoError(t, err)

	joiner, err := c.AddNode(4)
	require.NoError(t, err)
	require.NoError(t, joiner.Node.Start())
	defer joiner.Node.Stop()
	defer joiner.transport.Close()

	addDone, addCh := doneChan()
	leader.Node.AddServer(joiner.ID, joiner.Address, addDone)
	require.NoError(t, <-addCh)

	// Give the non-voter a chance to fully catch up before promoting it,
	// so the bounded catch-up round in handlePromoteServer/tickPromotion
	// finds it already current on its very first round.
	_, err = SubmitAndWait(leader, []byte("warm-up"), 2*time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(joiner.FSM.Applied()) == 1
	}, 3*time.Second, 20*time.Millisecond)

	promoteDone, promoteCh := doneChan()
	leader.Node.PromoteServer(joiner.ID, promoteDone)
	select {
	case err := <-promoteCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("PromoteServer did not complete")
	}
}

func TestCluster_PromoteServerTimesOutWhenTargetNeverCatchesUp(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxPromotionRounds = 2
	c, err := NewCluster(3, cfg)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	leader, err := c.WaitForLeader(3 * time.Second)
	require.NoError(t, err)

	// Register the joiner's address but never start it: it can never ack
	// an AppendEntries, so every catch-up round should time out and
	// tickPromotion must eventually give up rather than retry forever.
	joiner, err := c.AddNode(4)
	require.NoError(t, err)

	addDone, addCh := doneChan()
	leader.Node.AddServer(joiner.ID, joiner.Address, addDone)
	require.NoError(t, <-addCh)

	promoteDone, promoteCh := doneChan()
	leader.Node.PromoteServer(joiner.ID, promoteDone)
	select {
	case err := <-promoteCh:
		require.Error(t, err)
		assert.True(t, raft.IsKind(err, raft.KindBusy))
	case <-time.After(5 * time.Second):
		t.Fatal("PromoteServer should have given up after MaxPromotionRounds")
	}
}

func TestCluster_RemoveServerDropsVoterFromQuorum(t *testing.T) {
	c, err := NewCluster(3, fastConfig())
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	leader, err := c.WaitForLeader(3 * time.Second)
	require.NoError(t, err)

	var followers []*TestNode
	for _, n := range c.Nodes {
		if n.ID != leader.ID {
			followers = append(followers, n)
		}
	}
	require.Len(t, followers, 2)
	removed, kept := followers[0], followers[1]

	done, ch := doneChan()
	leader.Node.RemoveServer(removed.ID, done)
	select {
	case err := <-ch:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("RemoveServer did not complete")
	}

	removed.Node.Stop()
	removed.transport.Close()

	// With removed gone for good, further commands can only ever commit
	// if the surviving two-member {leader, kept} quorum no longer needs
	// removed's ack — i.e. if RemoveServer genuinely dropped it from the
	// voter set advanceCommitIndex counts, not just cosmetically.
	_, err = SubmitAndWait(leader, []byte("after-remove"), 3*time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(kept.FSM.Applied()) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestCluster_RestartPersistsTermAcrossCrash(t *testing.T) {
	c, err := NewCluster(3, fastConfig())
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	leader, err := c.WaitForLeader(3 * time.Second)
	require.NoError(t, err)

	var follower *TestNode
	for _, n := range c.Nodes {
		if n.ID != leader.ID {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	_, err = SubmitAndWait(leader, []byte("before-crash"), 2*time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(follower.FSM.Applied()) == 1
	}, 2*time.Second, 20*time.Millisecond)

	termBeforeCrash := follower.Node.CurrentTerm()
	require.Greater(t, termBeforeCrash, raft.Term(0))

	restarted, err := c.RestartNode(follower.ID)
	require.NoError(t, err)
	defer restarted.transport.Close()
	defer restarted.Node.Stop()

	assert.GreaterOrEqual(t, restarted.Node.CurrentTerm(), termBeforeCrash,
		"a restarted node must never forget a persisted term")
	assert.Equal(t, 1, len(restarted.FSM.Applied()),
		"the restarted node reuses its prior log/FSM rather than starting empty")

	_, err = SubmitAndWait(leader, []byte("after-crash"), 3*time.Second)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(restarted.FSM.Applied()) == 2
	}, 3*time.Second, 20*time.Millisecond, "restarted node should resume replicating")
}

func TestCluster_SubmitOnFollowerFailsWithNotLeader(t *testing.T) {
	c, err := NewCluster(3, fastConfig())
	require.NoError(t, err)
	require.NoError(t, c.Start())
	defer c.Stop()

	leader, err := c.WaitForLeader(3 * time.Second)
	require.NoError(t, err)

	var follower *TestNode
	for _, n := range c.Nodes {
		if n.ID != leader.ID {
			follower = n
			break
		}
	}
	require.NotNil(t, follower)

	_, err = SubmitAndWait(follower, []byte("x"), 2*time.Second)
	require.Error(t, err)
	assert.True(t, raft.IsKind(err, raft.KindNotLeader))
}
