package http

import (
	"net/http"
	"strings"

	alarmapp "alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

const defaultListLimit = 200

func (h *Handler) listAlarms(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	from, err := parseTimeQuery(r, "from")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := parseTimeQuery(r, "to")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !from.IsZero() && !to.IsZero() && !to.After(from) {
		h.fail(w, r, alarms.Validationf("to must be after from"))
		return
	}
	limit, err := parseIntQuery(r, "limit")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	states, err := parseStates(r.URL.Query().Get("state"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.alarms.ListOccurrences(r.Context(), alarmapp.OccurrenceFilter{
		TenantID: tenantID,
		RuleID:   r.URL.Query().Get("rule_id"),
		States:   states,
		From:     from,
		To:       to,
		Limit:    limit,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, list)
}

func (h *Handler) getAlarm(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	occ, err := h.alarms.GetOccurrence(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, occ)
}

func (h *Handler) acknowledgeAlarm(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req acknowledgeRequest
	body, err := h.decode(r, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := r.PathValue("id")
	occ, err := h.alarms.Acknowledge(r.Context(), tenantID, id, actorFrom(r), req.Comment)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAudit(r, "alarm.acknowledge", "alarm_occurrence", id, body)
	writeOK(w, http.StatusOK, occ)
}

func (h *Handler) clearAlarm(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req clearRequest
	body, err := h.decode(r, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Value != nil && req.Value.IsZero() {
		req.Value = nil
	}
	id := r.PathValue("id")
	occ, err := h.alarms.Clear(r.Context(), tenantID, id, actorFrom(r), req.Value, req.Comment)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAudit(r, "alarm.clear", "alarm_occurrence", id, body)
	writeOK(w, http.StatusOK, occ)
}

func parseStates(raw string) ([]alarms.State, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []alarms.State
	for _, part := range strings.Split(raw, ",") {
		state := alarms.State(strings.ToLower(strings.TrimSpace(part)))
		switch state {
		case alarms.StateActive, alarms.StateAcknowledged, alarms.StateCleared:
			out = append(out, state)
		case "":
		default:
			return nil, alarms.Validationf("invalid state %q", part)
		}
	}
	return out, nil
}
