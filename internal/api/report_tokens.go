package api

import (
	"net/http"
	"strconv"

	"github.com/LeventeLantos/kindergarten-notify/internal/model"
	"github.com/LeventeLantos/kindergarten-notify/internal/token"
)

type mintRequest struct {
	StudentID      string `json:"studentId"`
	ReportType     string `json:"reportType"`
	GuardianAccess bool   `json:"guardianAccess"`
}

func (h *Handler) MintReportToken(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}

	minted, err := h.tokens.Mint(r.Context(), req.StudentID, model.ReportType(req.ReportType), req.GuardianAccess)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": minted})
}

// ValidateReportToken is public: the report token is the credential.
func (h *Handler) ValidateReportToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	c := token.Check{
		Token:      q.Get("token"),
		StudentID:  q.Get("studentId"),
		ReportType: model.ReportType(q.Get("reportType")),
	}
	if raw := q.Get("guardianAccess"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_guardian_access")
			return
		}
		c.GuardianAccess = &v
	}

	res, err := h.tokens.Validate(r.Context(), c)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	switch res.Outcome {
	case token.OK:
		writeJSON(w, http.StatusOK, res)
	case token.NotFound:
		writeJSON(w, http.StatusNotFound, map[string]any{"status": res.Outcome})
	default:
		writeJSON(w, http.StatusForbidden, map[string]any{"status": res.Outcome})
	}
}

type revokeRequest struct {
	Token string `json:"token"`
}

// RevokeReportToken takes the token in the body so it stays out of access logs.
func (h *Handler) RevokeReportToken(w http.ResponseWriter, r *http.Request) {
	var req revokeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if err := h.tokens.Revoke(r.Context(), req.Token); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
