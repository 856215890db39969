package api

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/glogos/glogos/internal/attestation"
	"github.com/glogos/glogos/internal/canon"
	"github.com/glogos/glogos/internal/logging"
	"github.com/glogos/glogos/internal/protocol"
	"github.com/glogos/glogos/internal/service"
	"github.com/glogos/glogos/internal/storage"
)

const WriteTokenHeader = "X-Glogos-Write-Token"

type Handler struct {
	service      *service.AttestationService
	maxBodyBytes int64
}

func NewHandler(svc *service.AttestationService, maxBodyBytes int64) *Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 8 << 20
	}
	return &Handler{service: svc, maxBodyBytes: maxBodyBytes}
}

type GenesisResponse struct {
	Attestation  protocol.Attestation        `json:"attestation"`
	PublicKey    string                      `json:"public_key"`
	Verification protocol.VerificationResult `json:"verification"`
}

type CanonResponse struct {
	canon.Canon
	Standard   bool `json:"standard"`
	WellFormed bool `json:"well_formed"`
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", h.handleHealth)
	r.Route("/v1/attestations", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Post("/", h.handleSubmit)
		r.Post("/verify", h.handleVerify)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/ancestors", h.handleAncestors)
		r.Get("/{id}/children", h.handleChildren)
	})
	r.Post("/v1/dag/validate", h.handleValidateSet)
	r.Get("/v1/canons", h.handleListCanons)
	r.Get("/v1/canons/{id}", h.handleGetCanon)
	r.Get("/v1/genesis", h.handleGenesis)
	return r
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Health(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "health")
	logging.AddField(r.Context(), "attestation_count", resp.Attestations)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if !h.service.VerifyWriteToken(r.Header.Get(WriteTokenHeader)) {
		h.writeError(w, r, service.NewAppError(http.StatusUnauthorized, service.CodeUnauthorized, "invalid write token", false, nil))
		return
	}
	var req service.SubmitRequest
	if err := decodeJSON(r, h.maxBodyBytes, &req); err != nil {
		h.writeError(w, r, service.BadRequest(service.CodeBadRequest, err.Error(), err))
		return
	}
	resp, err := h.service.Submit(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "submit")
	logging.AddField(r.Context(), "attestation_id", resp.ID.String())
	logging.AddField(r.Context(), "submit_status", resp.Status)
	if resp.Reason != "" {
		logging.AddField(r.Context(), "reason", resp.Reason)
	}
	writeJSON(w, submitStatusCode(resp.Status), resp)
}

func submitStatusCode(status string) int {
	switch status {
	case service.StatusAccepted:
		return http.StatusCreated
	case service.StatusPending:
		return http.StatusAccepted
	case service.StatusRejected:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusOK
	}
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req service.SubmitRequest
	if err := decodeJSON(r, h.maxBodyBytes, &req); err != nil {
		h.writeError(w, r, service.BadRequest(service.CodeBadRequest, err.Error(), err))
		return
	}
	resp, err := h.service.Verify(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "verify")
	logging.AddField(r.Context(), "attestation_id", req.Attestation.ID.String())
	logging.AddField(r.Context(), "valid", resp.Valid)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "get")
	logging.AddField(r.Context(), "attestation_id", id.String())
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) handleAncestors(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	maxDepth := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("max_depth")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, r, service.BadRequest(service.CodeBadRequest, "max_depth must be a positive integer", err))
			return
		}
		maxDepth = n
	}
	resp, err := h.service.Ancestors(r.Context(), id, maxDepth)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "ancestors")
	logging.AddField(r.Context(), "attestation_id", id.String())
	logging.AddField(r.Context(), "visits", len(resp.Result.Visits))
	logging.AddField(r.Context(), "bounded", resp.Result.Bounded)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	children, err := h.service.Children(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if children == nil {
		children = []protocol.AttestationID{}
	}
	logging.AddField(r.Context(), "op", "children")
	logging.AddField(r.Context(), "attestation_id", id.String())
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "children": children})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	var filter storage.ListFilter
	q := r.URL.Query()
	if raw := strings.TrimSpace(q.Get("zone")); raw != "" {
		zone, err := protocol.ParseZoneID(raw)
		if err != nil {
			h.writeError(w, r, service.BadRequest(service.CodeBadRequest, "zone must be 64 lowercase hex characters", err))
			return
		}
		filter.Zone = &zone
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, r, service.BadRequest(service.CodeBadRequest, "limit must be a positive integer", err))
			return
		}
		filter.Limit = n
	}
	out, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []protocol.Attestation{}
	}
	logging.AddField(r.Context(), "op", "list")
	logging.AddField(r.Context(), "count", len(out))
	writeJSON(w, http.StatusOK, map[string]any{"attestations": out})
}

func (h *Handler) handleValidateSet(w http.ResponseWriter, r *http.Request) {
	var req service.ValidateSetRequest
	if err := decodeJSON(r, h.maxBodyBytes, &req); err != nil {
		h.writeError(w, r, service.BadRequest(service.CodeBadRequest, err.Error(), err))
		return
	}
	resp, err := h.service.ValidateSet(r.Context(), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	logging.AddField(r.Context(), "op", "validate_set")
	logging.AddField(r.Context(), "checked", resp.Report.Checked)
	logging.AddField(r.Context(), "invalid", resp.Report.Invalid)
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListCanons(w http.ResponseWriter, r *http.Request) {
	list := canon.Standard()
	out := make([]CanonResponse, 0, len(list))
	for _, c := range list {
		out = append(out, CanonResponse{Canon: c, Standard: true, WellFormed: canon.IsWellFormedName(c.Name)})
	}
	logging.AddField(r.Context(), "op", "list_canons")
	writeJSON(w, http.StatusOK, map[string]any{"canons": out})
}

func (h *Handler) handleGetCanon(w http.ResponseWriter, r *http.Request) {
	id, err := protocol.ParseCanonID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, service.BadRequest(service.CodeBadRequest, "canon id must be 64 lowercase hex characters", err))
		return
	}
	c, ok := canon.Lookup(id)
	if !ok {
		h.writeError(w, r, service.NotFound("canon is not a well-known canon"))
		return
	}
	logging.AddField(r.Context(), "op", "get_canon")
	logging.AddField(r.Context(), "canon", c.Name)
	writeJSON(w, http.StatusOK, CanonResponse{Canon: c, Standard: true, WellFormed: canon.IsWellFormedName(c.Name)})
}

func (h *Handler) handleGenesis(w http.ResponseWriter, r *http.Request) {
	zone, a := attestation.Genesis()
	logging.AddField(r.Context(), "op", "genesis")
	writeJSON(w, http.StatusOK, GenesisResponse{
		Attestation:  a,
		PublicKey:    hex.EncodeToString(zone.PublicKey),
		Verification: attestation.VerifyGenesis(a),
	})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (protocol.AttestationID, bool) {
	id, err := protocol.ParseAttestationID(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, service.BadRequest(service.CodeBadRequest, "attestation id must be 64 lowercase hex characters", err))
		return protocol.AttestationID{}, false
	}
	return id, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *service.AppError
	if errors.As(err, &appErr) {
		logging.AddField(r.Context(), "error_code", appErr.Code)
		logging.AddField(r.Context(), "error_message", appErr.Message)
		writeJSON(w, appErr.HTTPStatus, protocol.ErrorResponse{Error: protocol.ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Retryable: appErr.Retryable,
		}})
		return
	}
	logging.AddField(r.Context(), "error_code", service.CodeInternal)
	logging.AddField(r.Context(), "error_message", err.Error())
	writeJSON(w, http.StatusInternalServerError, protocol.ErrorResponse{Error: protocol.ErrorBody{
		Code:      service.CodeInternal,
		Message:   "internal server error",
		Retryable: true,
	}})
}

func decodeJSON(r *http.Request, maxBodyBytes int64, out any) error {
	defer r.Body.Close()
	limited := io.LimitReader(r.Body, maxBodyBytes)
	dec := json.NewDecoder(limited)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
