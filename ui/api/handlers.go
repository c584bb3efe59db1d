package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orangyan/JManus-sub000/recorder"
)

// Response wraps all API responses.
type Response struct {
	Data  any       `json:"data,omitempty"`
	Error *APIError `json:"error,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{Data: data})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Response{
		Error: &APIError{Code: code, Message: message},
	})
}

func (rt *router) handlePlanDetails(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	view, err := rt.svc.PlanDetails(r.Context(), planID)
	if err != nil {
		if errors.Is(err, recorder.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		rt.config.Logger.Error("plan details failed", "plan_id", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *router) handlePlanTree(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	view, err := rt.svc.PlanTree(r.Context(), planID)
	if err != nil {
		if errors.Is(err, recorder.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		rt.config.Logger.Error("plan tree failed", "plan_id", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (rt *router) handleAgentExecution(w http.ResponseWriter, r *http.Request) {
	stepID := chi.URLParam(r, "stepId")
	rec, err := rt.svc.AgentExecution(r.Context(), stepID)
	if err != nil {
		if errors.Is(err, recorder.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		rt.config.Logger.Error("agent execution lookup failed", "step_id", stepID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (rt *router) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	accepted := rt.svc.Interrupt(planID)
	if !accepted {
		writeError(w, http.StatusConflict, "not_running", "plan is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"interrupted": true})
}

func (rt *router) handleFormInput(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")

	var body struct {
		Inputs map[string]string `json:"inputs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if err := rt.svc.SubmitFormInput(planID, body.Inputs); err != nil {
		writeError(w, http.StatusConflict, "no_pending_form", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"submitted": true})
}

func (rt *router) handleFormWaitState(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	writeJSON(w, http.StatusOK, rt.svc.FormWaitState(planID))
}

func (rt *router) handleDeletePlan(w http.ResponseWriter, r *http.Request) {
	planID := chi.URLParam(r, "planId")
	if err := rt.svc.DeletePlan(r.Context(), planID); err != nil {
		rt.config.Logger.Error("delete plan failed", "plan_id", planID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}
