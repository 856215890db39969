package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glogos/glogos/internal/protocol"
)

type fakePeer struct {
	mu       sync.Mutex
	status   int
	token    string
	refuse   map[protocol.AttestationID]int
	received []protocol.AttestationID
}

func (p *fakePeer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && r.Header.Get("X-Glogos-Write-Token") != p.token {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	status := p.status
	if code, ok := p.refuse[req.Attestation.ID]; ok {
		status = code
	}
	if status != http.StatusCreated {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
		return
	}
	p.received = append(p.received, req.Attestation.ID)
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(SubmitResponse{Status: StatusAccepted, ID: req.Attestation.ID})
}

func (p *fakePeer) set(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = status
}

func (p *fakePeer) ids() []protocol.AttestationID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]protocol.AttestationID(nil), p.received...)
}

func newPeerServer(t *testing.T, peer *fakePeer) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(peer)
	t.Cleanup(srv.Close)
	return srv
}

func TestReplicatorForwardsAcceptedInOrder(t *testing.T) {
	peer := &fakePeer{status: http.StatusCreated, token: "tok"}
	srv := newPeerServer(t, peer)
	rep, err := NewReplicator(ReplicatorParams{Peers: []Peer{{Name: "east", URL: srv.URL, WriteToken: "tok"}}})
	if err != nil {
		t.Fatalf("NewReplicator: %v", err)
	}
	svc := newTestService(t, Params{OnAccept: rep.Enqueue, DanglingPolicy: PolicyPending})
	s := testSigner(t, 30)
	a := issue(s, "a", 100)
	b := issue(s, "b", 200, a.ID)
	mustSubmit(t, svc, SubmitRequest{Attestation: b, PublicKey: pubHex(s)})
	mustSubmit(t, svc, SubmitRequest{Attestation: a, PublicKey: pubHex(s)})

	if rep.Backlog() != 2 {
		t.Fatalf("expected accepted and promoted attestations queued, got %d", rep.Backlog())
	}
	if err := rep.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	got := peer.ids()
	if len(got) != 2 || got[0] != a.ID || got[1] != b.ID {
		t.Fatalf("expected parent before child, got %v", got)
	}
	if rep.Backlog() != 0 {
		t.Fatalf("outbox should be empty")
	}
}

func TestReplicatorRetriesWithBackoff(t *testing.T) {
	peer := &fakePeer{status: http.StatusServiceUnavailable}
	srv := newPeerServer(t, peer)
	now := time.Unix(1000, 0)
	rep, err := NewReplicator(ReplicatorParams{
		Peers: []Peer{{Name: "west", URL: srv.URL}},
		Now:   func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewReplicator: %v", err)
	}
	s := testSigner(t, 31)
	first := issue(s, "first", 100)
	second := issue(s, "second", 200)
	rep.Enqueue(first, s.PublicKey)
	rep.Enqueue(second, s.PublicKey)

	if err := rep.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if rep.Backlog() != 2 {
		t.Fatalf("failed items must stay queued, got %d", rep.Backlog())
	}

	peer.set(http.StatusCreated)
	if err := rep.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if len(peer.ids()) != 0 {
		t.Fatalf("item in backoff must not be resent early")
	}

	now = now.Add(time.Minute)
	if err := rep.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	got := peer.ids()
	if len(got) != 2 || got[0] != first.ID {
		t.Fatalf("unexpected delivery %v", got)
	}
}

func TestReplicatorDropsConflict(t *testing.T) {
	peer := &fakePeer{status: http.StatusConflict}
	srv := newPeerServer(t, peer)
	rep, err := NewReplicator(ReplicatorParams{Peers: []Peer{{Name: "north", URL: srv.URL}}})
	if err != nil {
		t.Fatalf("NewReplicator: %v", err)
	}
	s := testSigner(t, 32)
	rep.Enqueue(issue(s, "x", 100), s.PublicKey)
	if err := rep.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if rep.Backlog() != 0 {
		t.Fatalf("conflicting item should be dropped")
	}
}

func TestReplicatorRefusedItemDoesNotBlock(t *testing.T) {
	s := testSigner(t, 34)
	refused := issue(s, "orphan", 100)
	next := issue(s, "next", 200)
	peer := &fakePeer{
		status: http.StatusCreated,
		refuse: map[protocol.AttestationID]int{refused.ID: http.StatusUnprocessableEntity},
	}
	rep, err := NewReplicator(ReplicatorParams{Peers: []Peer{{Name: "south", URL: newPeerServer(t, peer).URL}}})
	if err != nil {
		t.Fatalf("NewReplicator: %v", err)
	}
	rep.Enqueue(refused, s.PublicKey)
	rep.Enqueue(next, s.PublicKey)
	if err := rep.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if rep.Backlog() != 0 {
		t.Fatalf("refused item should leave the outbox, backlog %d", rep.Backlog())
	}
	got := peer.ids()
	if len(got) != 1 || got[0] != next.ID {
		t.Fatalf("expected later item delivered, got %v", got)
	}
}

func TestReplicatorRetriesThrottledPeer(t *testing.T) {
	peer := &fakePeer{status: http.StatusTooManyRequests}
	rep, err := NewReplicator(ReplicatorParams{Peers: []Peer{{Name: "busy", URL: newPeerServer(t, peer).URL}}})
	if err != nil {
		t.Fatalf("NewReplicator: %v", err)
	}
	s := testSigner(t, 35)
	rep.Enqueue(issue(s, "x", 100), s.PublicKey)
	if err := rep.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if rep.Backlog() != 1 {
		t.Fatalf("throttled item must be retried")
	}
}

func TestReplicatorAbandonsUnreachableQuorum(t *testing.T) {
	s := testSigner(t, 36)
	a := issue(s, "x", 100)
	up := &fakePeer{status: http.StatusCreated}
	refusing := &fakePeer{status: http.StatusCreated, refuse: map[protocol.AttestationID]int{a.ID: http.StatusBadRequest}}
	rep, err := NewReplicator(ReplicatorParams{
		Peers: []Peer{
			{Name: "up", URL: newPeerServer(t, up).URL},
			{Name: "refusing", URL: newPeerServer(t, refusing).URL},
		},
	})
	if err != nil {
		t.Fatalf("NewReplicator: %v", err)
	}
	rep.Enqueue(a, s.PublicKey)
	if err := rep.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if rep.Backlog() != 0 {
		t.Fatalf("item that can never reach required acks should be dropped")
	}
}

func TestReplicatorBacklogCap(t *testing.T) {
	rep, err := NewReplicator(ReplicatorParams{Peers: []Peer{{Name: "a", URL: "http://127.0.0.1:1"}}, MaxBacklog: 1})
	if err != nil {
		t.Fatalf("NewReplicator: %v", err)
	}
	s := testSigner(t, 37)
	rep.Enqueue(issue(s, "one", 100), s.PublicKey)
	rep.Enqueue(issue(s, "two", 200), s.PublicKey)
	if rep.Backlog() != 1 {
		t.Fatalf("expected backlog capped at 1, got %d", rep.Backlog())
	}
}

func TestReplicatorRequiredAcks(t *testing.T) {
	up := &fakePeer{status: http.StatusCreated}
	down := &fakePeer{status: http.StatusBadGateway}
	rep, err := NewReplicator(ReplicatorParams{
		Peers: []Peer{
			{Name: "up", URL: newPeerServer(t, up).URL},
			{Name: "down", URL: newPeerServer(t, down).URL},
		},
		RequiredAcks: 1,
	})
	if err != nil {
		t.Fatalf("NewReplicator: %v", err)
	}
	s := testSigner(t, 33)
	rep.Enqueue(issue(s, "x", 100), s.PublicKey)
	if err := rep.ProcessBatch(context.Background()); err != nil {
		t.Fatalf("ProcessBatch: %v", err)
	}
	if rep.Backlog() != 0 {
		t.Fatalf("one ack should satisfy required_acks=1")
	}
}

func TestNewReplicatorValidation(t *testing.T) {
	if _, err := NewReplicator(ReplicatorParams{}); err == nil {
		t.Fatalf("expected error without peers")
	}
	if _, err := NewReplicator(ReplicatorParams{Peers: []Peer{{Name: "a"}, {Name: "a"}}}); err == nil {
		t.Fatalf("expected duplicate peer error")
	}
}

func TestComputeBackoff(t *testing.T) {
	if got := computeBackoff(1, time.Hour); got != 2*time.Second {
		t.Fatalf("unexpected first backoff %v", got)
	}
	if got := computeBackoff(20, time.Minute); got != time.Minute {
		t.Fatalf("expected cap, got %v", got)
	}
}
