package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/glogos/glogos/internal/protocol"
)

// Peer is another node that accepted attestations are forwarded to.
type Peer struct {
	Name       string
	URL        string
	WriteToken string
	Timeout    time.Duration
}

type ReplicatorParams struct {
	Peers        []Peer
	RequiredAcks int
	BatchSize    int
	MaxBackoff   time.Duration
	MaxBacklog   int
	Logger       *slog.Logger
	Now          func() time.Time
}

type outboxItem struct {
	attestation protocol.Attestation
	publicKey   []byte
	attempts    int
	nextAttempt time.Time
	acked       map[string]bool
	rejected    map[string]bool
	lastError   string
}

// Replicator forwards accepted attestations to peers in acceptance order,
// so parents reach a peer before their children. An item leaves the outbox
// once RequiredAcks peers have stored it, when a peer reports a conflict, or
// when too many peers refused it for RequiredAcks to be reachable.
type Replicator struct {
	peers        []Peer
	clients      map[string]*http.Client
	requiredAcks int
	batchSize    int
	maxBackoff   time.Duration
	maxBacklog   int
	logger       *slog.Logger
	now          func() time.Time

	mu     sync.Mutex
	outbox []*outboxItem
}

var (
	errPeerConflict = errors.New("peer holds a different attestation under this id")
	errPeerRejected = errors.New("peer refused the attestation")
)

func NewReplicator(params ReplicatorParams) (*Replicator, error) {
	if len(params.Peers) == 0 {
		return nil, errors.New("at least one peer is required")
	}
	if params.RequiredAcks <= 0 || params.RequiredAcks > len(params.Peers) {
		params.RequiredAcks = len(params.Peers)
	}
	if params.BatchSize <= 0 {
		params.BatchSize = 100
	}
	if params.MaxBackoff <= 0 {
		params.MaxBackoff = 5 * time.Minute
	}
	if params.MaxBacklog <= 0 {
		params.MaxBacklog = 100000
	}
	if params.Logger == nil {
		params.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	clients := make(map[string]*http.Client, len(params.Peers))
	for _, peer := range params.Peers {
		if _, dup := clients[peer.Name]; dup {
			return nil, fmt.Errorf("duplicate peer name %q", peer.Name)
		}
		timeout := peer.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		clients[peer.Name] = &http.Client{Timeout: timeout}
	}
	return &Replicator{
		peers:        params.Peers,
		clients:      clients,
		requiredAcks: params.RequiredAcks,
		batchSize:    params.BatchSize,
		maxBackoff:   params.MaxBackoff,
		maxBacklog:   params.MaxBacklog,
		logger:       params.Logger,
		now:          params.Now,
	}, nil
}

// Enqueue matches the AttestationService accept hook. Items beyond
// MaxBacklog are dropped.
func (r *Replicator) Enqueue(a protocol.Attestation, pub []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.outbox) >= r.maxBacklog {
		r.logger.Warn("replication outbox full",
			slog.String("attestation_id", a.ID.String()),
			slog.Int("backlog", len(r.outbox)),
		)
		return
	}
	r.outbox = append(r.outbox, &outboxItem{
		attestation: a,
		publicKey:   append([]byte(nil), pub...),
		acked:       make(map[string]bool, len(r.peers)),
		rejected:    make(map[string]bool),
	})
}

func (r *Replicator) Backlog() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outbox)
}

func (r *Replicator) Run(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if err := r.ProcessBatch(ctx); err != nil {
		r.logger.Error("replication batch failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.ProcessBatch(ctx); err != nil {
				r.logger.Error("replication batch failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ProcessBatch sends due items from the head of the outbox. It stops at the
// first item still waiting on backoff to keep acceptance order.
func (r *Replicator) ProcessBatch(ctx context.Context) error {
	r.mu.Lock()
	batch := make([]*outboxItem, 0, r.batchSize)
	now := r.now()
	for _, item := range r.outbox {
		if len(batch) == r.batchSize || item.nextAttempt.After(now) {
			break
		}
		batch = append(batch, item)
	}
	r.mu.Unlock()

	done := make(map[*outboxItem]bool, len(batch))
	for _, item := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		finished := r.processItem(ctx, item)
		if !finished {
			break
		}
		done[item] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.outbox[:0]
	for _, item := range r.outbox {
		if !done[item] {
			kept = append(kept, item)
		}
	}
	r.outbox = kept
	return nil
}

func (r *Replicator) processItem(ctx context.Context, item *outboxItem) bool {
	id := item.attestation.ID.String()
	failures := make([]string, 0)
	for _, peer := range r.peers {
		if item.acked[peer.Name] || item.rejected[peer.Name] {
			continue
		}
		err := r.sendToPeer(ctx, peer, item)
		if errors.Is(err, errPeerConflict) {
			r.logger.Error("replication conflict",
				slog.String("attestation_id", id),
				slog.String("peer", peer.Name),
			)
			return true
		}
		if errors.Is(err, errPeerRejected) {
			item.rejected[peer.Name] = true
			r.logger.Warn("replication item refused",
				slog.String("attestation_id", id),
				slog.String("peer", peer.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("%s:%v", peer.Name, err))
			continue
		}
		item.acked[peer.Name] = true
	}

	if len(item.acked) >= r.requiredAcks {
		r.logger.Info("replication item sent",
			slog.String("attestation_id", id),
			slog.Int("ack_count", len(item.acked)),
		)
		return true
	}
	if len(r.peers)-len(item.rejected) < r.requiredAcks {
		r.logger.Error("replication item abandoned",
			slog.String("attestation_id", id),
			slog.Int("ack_count", len(item.acked)),
			slog.Int("refused_count", len(item.rejected)),
		)
		return true
	}

	item.attempts++
	backoff := computeBackoff(item.attempts, r.maxBackoff)
	item.nextAttempt = r.now().Add(backoff)
	item.lastError = truncate(strings.Join(failures, "; "), 1500)
	r.logger.Warn("replication item retry",
		slog.String("attestation_id", id),
		slog.Int("attempts", item.attempts),
		slog.Duration("backoff", backoff),
		slog.String("error", item.lastError),
	)
	return false
}

func (r *Replicator) sendToPeer(ctx context.Context, peer Peer, item *outboxItem) error {
	raw, err := json.Marshal(SubmitRequest{
		Attestation: item.attestation,
		PublicKey:   hex.EncodeToString(item.publicKey),
	})
	if err != nil {
		return err
	}
	url := strings.TrimRight(peer.URL, "/") + "/v1/attestations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if peer.WriteToken != "" {
		req.Header.Set("X-Glogos-Write-Token", peer.WriteToken)
	}

	resp, err := r.clients[peer.Name].Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return err
	}
	code := resp.StatusCode
	switch {
	case code == http.StatusOK || code == http.StatusCreated || code == http.StatusAccepted:
	case code == http.StatusConflict:
		return errPeerConflict
	case code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d body=%s", errPeerRejected, code, truncate(string(body), 300))
	default:
		return fmt.Errorf("status %d body=%s", code, truncate(string(body), 300))
	}
	var out SubmitResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	if out.ID != item.attestation.ID {
		return fmt.Errorf("peer acknowledged %s, want %s", out.ID, item.attestation.ID)
	}
	return nil
}

func computeBackoff(attempts int, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(1<<uint(min(attempts, 10))) * time.Second
	if backoff > max {
		return max
	}
	return backoff
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
