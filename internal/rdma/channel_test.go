package rdma

import "testing"

// TestChannelPairedPutTypedThenGet exercises the paired put/get
// channel pair: node 1 opens a paired put channel to node 0's region,
// writes bytes, then a paired get channel reads them back.
func TestChannelPairedPutTypedThenGet(t *testing.T) {
	nodes := buildCluster(t, 2)
	h := nodes[0].rd.Register(make([]byte, 8))

	putDone := make(chan struct{}, 1)
	putCh := nodes[1].rd.NewPutChannel(h, 0, true)
	if err := putCh.PutTyped([]byte("vtrtvtrt"), 0, func() { putDone <- struct{}{} }); err != nil {
		t.Fatalf("PutTyped: %v", err)
	}
	pumpAll(nodes, 100)
	select {
	case <-putDone:
	default:
		t.Fatal("paired PutTyped continuation never fired")
	}

	got := make(chan []byte, 1)
	getCh := nodes[1].rd.NewGetChannel(h, 0, true)
	if err := getCh.GetTypedInfo(8, 0, func(data []byte) { got <- data }); err != nil {
		t.Fatalf("GetTypedInfo: %v", err)
	}
	pumpAll(nodes, 100)
	select {
	case data := <-got:
		if string(data) != "vtrtvtrt" {
			t.Fatalf("GetTypedInfo returned %q, want %q", data, "vtrtvtrt")
		}
	default:
		t.Fatal("paired GetTypedInfo continuation never fired")
	}
}

// TestChannelLockExcludesConcurrentHolder: a second Lock request from
// another node queues at the home and is only granted after the first
// holder unlocks.
func TestChannelLockExcludesConcurrentHolder(t *testing.T) {
	nodes := buildCluster(t, 3)
	h := nodes[0].rd.Register(make([]byte, 4))

	var order []int

	ch1 := nodes[1].rd.NewPutChannel(h, 0, true)
	lock1Done := make(chan struct{}, 1)
	if err := ch1.Lock(func() {
		order = append(order, 1)
		lock1Done <- struct{}{}
	}); err != nil {
		t.Fatalf("Lock(1): %v", err)
	}
	pumpAll(nodes, 50)
	select {
	case <-lock1Done:
	default:
		t.Fatal("first Lock never granted")
	}

	ch2 := nodes[2].rd.NewPutChannel(h, 0, true)
	lock2Done := make(chan struct{}, 1)
	if err := ch2.Lock(func() {
		order = append(order, 2)
		lock2Done <- struct{}{}
	}); err != nil {
		t.Fatalf("Lock(2): %v", err)
	}
	pumpAll(nodes, 50)
	select {
	case <-lock2Done:
		t.Fatal("second Lock granted while first holder still holds it")
	default:
	}

	unlockDone := make(chan struct{}, 1)
	if err := ch1.Unlock(func() { unlockDone <- struct{}{} }); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	pumpAll(nodes, 50)
	select {
	case <-unlockDone:
	default:
		t.Fatal("Unlock never acknowledged")
	}
	select {
	case <-lock2Done:
	default:
		t.Fatal("second Lock never granted after first unlocked")
	}

	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("lock grant order = %v, want [1 2]", order)
	}
}

// TestChannelSyncLocalDrainsUnpairedOps exercises the unpaired style: two
// PutTyped calls issued with nil continuations, followed by SyncLocal,
// which must only fire once both have been acknowledged by the home.
func TestChannelSyncLocalDrainsUnpairedOps(t *testing.T) {
	nodes := buildCluster(t, 2)
	h := nodes[0].rd.Register(make([]byte, 16))

	ch := nodes[1].rd.NewPutChannel(h, 0, false)
	if err := ch.PutTyped([]byte("AAAA"), 0, nil); err != nil {
		t.Fatalf("PutTyped #1: %v", err)
	}
	if err := ch.PutTyped([]byte("BBBB"), 4, nil); err != nil {
		t.Fatalf("PutTyped #2: %v", err)
	}

	syncDone := make(chan struct{}, 1)
	ch.SyncLocal(func() { syncDone <- struct{}{} })

	select {
	case <-syncDone:
		t.Fatal("SyncLocal fired before outstanding puts were acknowledged")
	default:
	}

	pumpAll(nodes, 100)
	select {
	case <-syncDone:
	default:
		t.Fatal("SyncLocal never drained")
	}
}

// TestChannelSyncRemoteRoundTrips confirms SyncRemote completes after a
// round trip to the channel's home node.
func TestChannelSyncRemoteRoundTrips(t *testing.T) {
	nodes := buildCluster(t, 2)
	h := nodes[0].rd.Register(make([]byte, 4))
	ch := nodes[1].rd.NewPutChannel(h, 0, true)

	done := make(chan struct{}, 1)
	if err := ch.SyncRemote(func() { done <- struct{}{} }); err != nil {
		t.Fatalf("SyncRemote: %v", err)
	}
	pumpAll(nodes, 50)
	select {
	case <-done:
	default:
		t.Fatal("SyncRemote never acknowledged")
	}
}
