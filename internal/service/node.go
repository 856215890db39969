package service

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/glogos/glogos/internal/attestation"
	"github.com/glogos/glogos/internal/crypto"
	"github.com/glogos/glogos/internal/dag"
	"github.com/glogos/glogos/internal/protocol"
	"github.com/glogos/glogos/internal/storage"
)

type AttestationService struct {
	store          storage.Store
	registry       *ZoneRegistry
	logger         *slog.Logger
	pending        *pendingPool
	danglingPolicy string
	walk           dag.WalkOptions
	verifyWorkers  int
	maxFutureSkew  time.Duration
	writeToken     string
	service        string
	version        string
	nodeID         string
	now            func() time.Time
	onAccept       func(protocol.Attestation, []byte)
}

type Params struct {
	Store          storage.Store
	Registry       *ZoneRegistry
	Logger         *slog.Logger
	DanglingPolicy string
	MaxDepth       int
	MaxNodes       int
	PendingLimit   int
	PendingTTL     time.Duration
	VerifyWorkers  int
	MaxFutureSkew  time.Duration
	WriteToken     string
	Service        string
	Version        string
	NodeID         string
	Now            func() time.Time

	// OnAccept runs after each newly stored attestation, including promoted
	// pending ones.
	OnAccept func(a protocol.Attestation, publicKey []byte)
}

func New(params Params) (*AttestationService, error) {
	if params.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	switch params.DanglingPolicy {
	case "":
		params.DanglingPolicy = PolicyReject
	case PolicyReject, PolicyPending:
	default:
		return nil, fmt.Errorf("unknown dangling policy %q", params.DanglingPolicy)
	}
	if params.PendingLimit <= 0 {
		params.PendingLimit = 10000
	}
	if params.PendingTTL <= 0 {
		params.PendingTTL = time.Hour
	}
	if params.Logger == nil {
		params.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if params.Service == "" {
		params.Service = "glogos-node"
	}
	if params.Version == "" {
		params.Version = "dev"
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &AttestationService{
		store:          params.Store,
		registry:       params.Registry,
		logger:         params.Logger,
		pending:        newPendingPool(params.PendingLimit, params.PendingTTL, params.Now),
		danglingPolicy: params.DanglingPolicy,
		walk:           dag.WalkOptions{MaxDepth: params.MaxDepth, MaxNodes: params.MaxNodes},
		verifyWorkers:  params.VerifyWorkers,
		maxFutureSkew:  params.MaxFutureSkew,
		writeToken:     params.WriteToken,
		service:        params.Service,
		version:        params.Version,
		nodeID:         params.NodeID,
		now:            params.Now,
		onAccept:       params.OnAccept,
	}, nil
}

// VerifyWriteToken always passes when no token is configured.
func (s *AttestationService) VerifyWriteToken(token string) bool {
	if s.writeToken == "" {
		return true
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.writeToken)) == 1
}

// resolveKey picks the zone key from the request, the registry, then keys
// learned from earlier accepted attestations.
func (s *AttestationService) resolveKey(ctx context.Context, zone protocol.ZoneID, supplied string) (ed25519.PublicKey, error) {
	if strings.TrimSpace(supplied) != "" {
		pub, err := crypto.ParsePublicKey(supplied)
		if err != nil {
			return nil, BadRequest(CodeInvalidPublicKey, "public_key is not a valid ed25519 key", err)
		}
		return pub, nil
	}
	if identity, ok := s.registry.Lookup(zone); ok {
		return identity.PublicKey, nil
	}
	key, ok, err := s.store.ZoneKey(ctx, zone)
	if err != nil {
		return nil, Internal("load zone key", err)
	}
	if !ok {
		return nil, NewAppError(http.StatusUnprocessableEntity, CodeZoneKeyUnknown, "public key for zone "+zone.String()+" is unknown; supply public_key", false, nil)
	}
	return ed25519.PublicKey(key), nil
}

type evaluation struct {
	verification protocol.VerificationResult
	verdict      dag.Verdict
	reason       string
}

func (e evaluation) valid() bool {
	return e.reason == ""
}

// evaluate runs the cryptographic checks, the clock policy and the link
// checks against the store, without side effects.
func (s *AttestationService) evaluate(ctx context.Context, a protocol.Attestation, pub []byte) (evaluation, error) {
	ev := evaluation{verification: attestation.Verify(a, pub)}
	if !ev.verification.Valid {
		ev.reason = ReasonVerification
		return ev, nil
	}
	if s.maxFutureSkew > 0 {
		limit := s.now().Add(s.maxFutureSkew).Unix()
		if limit >= 0 && a.Time > uint64(limit) {
			ev.reason = ReasonFutureTime
			return ev, nil
		}
	}
	verdict, err := dag.CheckAttestation(ctx, s.store, a)
	if err != nil {
		return ev, Internal("check attestation links", err)
	}
	ev.verdict = verdict
	switch {
	case verdict.Valid:
	case verdict.OnlyDangling():
		ev.reason = ReasonDangling
	default:
		ev.reason = ReasonCausality
	}
	return ev, nil
}

func (s *AttestationService) Verify(ctx context.Context, req SubmitRequest) (VerifyResponse, error) {
	pub, err := s.resolveKey(ctx, req.Attestation.Zone, req.PublicKey)
	if err != nil {
		return VerifyResponse{}, err
	}
	ev, err := s.evaluate(ctx, req.Attestation, pub)
	if err != nil {
		return VerifyResponse{}, err
	}
	return VerifyResponse{
		Valid:        ev.valid(),
		Reason:       ev.reason,
		Verification: ev.verification,
		Links:        linksOrEmpty(ev.verdict.Links),
	}, nil
}

func (s *AttestationService) Submit(ctx context.Context, req SubmitRequest) (SubmitResponse, error) {
	a := req.Attestation
	pub, err := s.resolveKey(ctx, a.Zone, req.PublicKey)
	if err != nil {
		return SubmitResponse{}, err
	}

	if existing, found, err := s.store.Get(ctx, a.ID); err != nil {
		return SubmitResponse{}, Internal("get attestation", err)
	} else if found {
		if !existing.Equal(a) {
			return SubmitResponse{}, conflictError(a.ID)
		}
		return SubmitResponse{
			Status:       StatusDuplicate,
			ID:           a.ID,
			Verification: attestation.Verify(a, pub),
			Links:        []dag.Link{},
		}, nil
	}

	ev, err := s.evaluate(ctx, a, pub)
	if err != nil {
		return SubmitResponse{}, err
	}
	resp := SubmitResponse{
		ID:           a.ID,
		Verification: ev.verification,
		Links:        linksOrEmpty(ev.verdict.Links),
	}

	if ev.reason == ReasonDangling && s.danglingPolicy == PolicyPending {
		missing := ev.verdict.Dangling()
		existed, expired, err := s.pending.add(a, pub, missing)
		if expired > 0 {
			s.logger.Info("pending attestations expired", slog.Int("count", expired))
		}
		switch {
		case errors.Is(err, errPendingConflict):
			return SubmitResponse{}, conflictError(a.ID)
		case errors.Is(err, errPendingFull):
			return SubmitResponse{}, NewAppError(http.StatusServiceUnavailable, CodePendingFull, "pending pool is full", true, err)
		}
		if !existed {
			s.logger.Info("attestation pending",
				slog.String("attestation_id", a.ID.String()),
				slog.String("zone", a.Zone.String()),
				slog.Int("missing", len(missing)),
			)
		}
		return s.settlePending(ctx, resp, a, missing)
	}
	if !ev.valid() {
		resp.Status = StatusRejected
		resp.Reason = ev.reason
		resp.Missing = ev.verdict.Dangling()
		s.logger.Info("attestation rejected",
			slog.String("attestation_id", a.ID.String()),
			slog.String("zone", a.Zone.String()),
			slog.String("reason", ev.reason),
			slog.String("failed_step", ev.verification.FailedStep),
		)
		return resp, nil
	}

	existed, err := s.accept(ctx, a, pub)
	if err != nil {
		return SubmitResponse{}, err
	}
	if existed {
		resp.Status = StatusDuplicate
		return resp, nil
	}
	resp.Status = StatusAccepted
	resp.Promoted = s.promote(ctx, a.ID)
	return resp, nil
}

func (s *AttestationService) accept(ctx context.Context, a protocol.Attestation, pub []byte) (bool, error) {
	existed, err := s.store.Put(ctx, a)
	if errors.Is(err, storage.ErrConflict) {
		return false, conflictError(a.ID)
	}
	if err != nil {
		return false, Internal("store attestation", err)
	}
	if err := s.store.PutZoneKey(ctx, a.Zone, pub); err != nil {
		return false, Internal("store zone key", err)
	}
	if !existed {
		s.logger.Info("attestation accepted",
			slog.String("attestation_id", a.ID.String()),
			slog.String("zone", a.Zone.String()),
			slog.Int("refs", len(a.Refs)),
		)
		if s.onAccept != nil {
			s.onAccept(a, pub)
		}
	}
	return existed, nil
}

// settlePending covers parents stored between the link check and the pool
// insert: their promotion already ran and will not see a.
func (s *AttestationService) settlePending(ctx context.Context, resp SubmitResponse, a protocol.Attestation, missing []protocol.AttestationID) (SubmitResponse, error) {
	for _, ref := range missing {
		_, found, err := s.store.Get(ctx, ref)
		if err != nil {
			return SubmitResponse{}, Internal("get attestation", err)
		}
		if found {
			resp.Promoted = append(resp.Promoted, s.promote(ctx, ref)...)
		}
	}
	if _, still, ok := s.pending.get(a.ID); ok {
		waiting := make(map[protocol.AttestationID]bool, len(still))
		for _, ref := range still {
			waiting[ref] = true
		}
		resp.Status = StatusPending
		for _, ref := range missing {
			if waiting[ref] {
				resp.Missing = append(resp.Missing, ref)
			}
		}
		return resp, nil
	}
	stored, found, err := s.store.Get(ctx, a.ID)
	if err != nil {
		return SubmitResponse{}, Internal("get attestation", err)
	}
	promoted := resp.Promoted[:0]
	for _, id := range resp.Promoted {
		if id != a.ID {
			promoted = append(promoted, id)
		}
	}
	resp.Promoted = promoted
	if found && stored.Equal(a) {
		resp.Status = StatusAccepted
		return resp, nil
	}
	resp.Status = StatusRejected
	resp.Reason = ReasonCausality
	return resp, nil
}

// promote accepts pending attestations unblocked by id, transitively. A
// promoted attestation is rechecked because its parent may turn out to be
// newer than itself.
func (s *AttestationService) promote(ctx context.Context, id protocol.AttestationID) []protocol.AttestationID {
	var promoted []protocol.AttestationID
	queue := []protocol.AttestationID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, entry := range s.pending.resolve(cur) {
			a := entry.attestation
			verdict, err := dag.CheckAttestation(ctx, s.store, a)
			if err != nil {
				s.logger.Error("pending recheck failed",
					slog.String("attestation_id", a.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			if !verdict.Valid {
				s.logger.Info("pending attestation rejected",
					slog.String("attestation_id", a.ID.String()),
					slog.String("zone", a.Zone.String()),
					slog.String("reason", ReasonCausality),
				)
				continue
			}
			if _, err := s.accept(ctx, a, entry.publicKey); err != nil {
				s.logger.Error("pending promotion failed",
					slog.String("attestation_id", a.ID.String()),
					slog.String("error", err.Error()),
				)
				continue
			}
			s.logger.Info("attestation promoted", slog.String("attestation_id", a.ID.String()))
			promoted = append(promoted, a.ID)
			queue = append(queue, a.ID)
		}
	}
	return promoted
}

func (s *AttestationService) Get(ctx context.Context, id protocol.AttestationID) (Record, error) {
	a, found, err := s.store.Get(ctx, id)
	if err != nil {
		return Record{}, Internal("get attestation", err)
	}
	if found {
		return Record{Status: StatusAccepted, Attestation: a}, nil
	}
	if a, missing, ok := s.pending.get(id); ok {
		return Record{Status: StatusPending, Attestation: a, Missing: missing}, nil
	}
	return Record{}, NotFound("attestation not found")
}

// Ancestors walks refs from id. A maxDepth of zero, or one above the
// configured depth limit, uses the configured limit.
func (s *AttestationService) Ancestors(ctx context.Context, id protocol.AttestationID, maxDepth int) (AncestorsResponse, error) {
	if _, found, err := s.store.Get(ctx, id); err != nil {
		return AncestorsResponse{}, Internal("get attestation", err)
	} else if !found {
		return AncestorsResponse{}, NotFound("attestation not found")
	}
	opts := s.walk
	limit := opts.MaxDepth
	if limit <= 0 {
		limit = dag.DefaultMaxDepth
	}
	if maxDepth > 0 && maxDepth < limit {
		opts.MaxDepth = maxDepth
	}
	res, err := dag.Ancestors(ctx, s.store, id, opts)
	if err != nil {
		return AncestorsResponse{}, Internal("walk ancestors", err)
	}
	return AncestorsResponse{ID: id, Result: res}, nil
}

func (s *AttestationService) Children(ctx context.Context, id protocol.AttestationID) ([]protocol.AttestationID, error) {
	children, err := s.store.Children(ctx, id)
	if err != nil {
		return nil, Internal("list children", err)
	}
	return children, nil
}

func (s *AttestationService) List(ctx context.Context, filter storage.ListFilter) ([]protocol.Attestation, error) {
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, Internal("list attestations", err)
	}
	return out, nil
}

// ValidateSet checks the DAG validity of an uploaded set, resolving refs
// against the set and then the store, and verifies every signature whose key
// can be resolved.
func (s *AttestationService) ValidateSet(ctx context.Context, req ValidateSetRequest) (ValidateSetResponse, error) {
	if len(req.Attestations) == 0 {
		return ValidateSetResponse{}, BadRequest(CodeBadRequest, "attestations must not be empty", nil)
	}
	if limit := s.walk.MaxNodes; limit > 0 && len(req.Attestations) > limit {
		return ValidateSetResponse{}, BadRequest(CodeBadRequest, fmt.Sprintf("at most %d attestations per request", limit), nil)
	}
	supplied := make(map[protocol.ZoneID]ed25519.PublicKey, len(req.PublicKeys))
	for zoneHex, encoded := range req.PublicKeys {
		zone, err := protocol.ParseZoneID(zoneHex)
		if err != nil {
			return ValidateSetResponse{}, BadRequest(CodeBadRequest, "public_keys: invalid zone id", err)
		}
		pub, err := crypto.ParsePublicKey(encoded)
		if err != nil {
			return ValidateSetResponse{}, BadRequest(CodeInvalidPublicKey, "public_keys: invalid key for zone "+zoneHex, err)
		}
		supplied[zone] = pub
	}

	report, err := dag.Validate(ctx, req.Attestations, dag.Options{Known: s.store, Workers: s.verifyWorkers})
	if err != nil {
		return ValidateSetResponse{}, Internal("validate attestation set", err)
	}

	items := make([]attestation.Item, 0, len(req.Attestations))
	index := make([]int, 0, len(req.Attestations))
	signatures := make([]SignatureResult, len(req.Attestations))
	for i, a := range req.Attestations {
		signatures[i] = SignatureResult{ID: a.ID}
		pub, ok := supplied[a.Zone]
		if !ok {
			resolved, err := s.resolveKey(ctx, a.Zone, "")
			if err != nil {
				if IsCode(err, CodeZoneKeyUnknown) {
					continue
				}
				return ValidateSetResponse{}, err
			}
			pub = resolved
		}
		signatures[i].KeyKnown = true
		items = append(items, attestation.Item{Attestation: a, PublicKey: pub})
		index = append(index, i)
	}
	results, err := attestation.VerifyBatch(ctx, items, s.verifyWorkers)
	if err != nil {
		return ValidateSetResponse{}, Internal("verify signatures", err)
	}
	valid := report.Valid
	for j, res := range results {
		i := index[j]
		signatures[i].Valid = res.Valid
		signatures[i].FailedStep = res.FailedStep
		if !res.Valid {
			valid = false
		}
	}
	return ValidateSetResponse{Valid: valid, Report: report, Signatures: signatures}, nil
}

func (s *AttestationService) Health(ctx context.Context) (HealthResponse, error) {
	if err := s.store.Ping(ctx); err != nil {
		return HealthResponse{}, NewAppError(http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "store unavailable", true, err)
	}
	n, err := s.store.Count(ctx)
	if err != nil {
		return HealthResponse{}, Internal("count attestations", err)
	}
	return HealthResponse{
		Service:        s.service,
		Version:        s.version,
		Status:         "ok",
		NodeID:         s.nodeID,
		Attestations:   n,
		Pending:        s.pending.len(),
		DanglingPolicy: s.danglingPolicy,
		TrustedZones:   s.registry.Len(),
		Time:           s.now().UTC(),
	}, nil
}

func conflictError(id protocol.AttestationID) *AppError {
	return NewAppError(http.StatusConflict, CodeConflict, "attestation "+id.String()+" already exists with different content", false, nil)
}

func linksOrEmpty(links []dag.Link) []dag.Link {
	if links == nil {
		return []dag.Link{}
	}
	return links
}
