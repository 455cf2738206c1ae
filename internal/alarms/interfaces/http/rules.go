package http

import (
	"net/http"

	alarmapp "alarm-engine/internal/alarms/application"
	alarms "alarm-engine/internal/alarms/domain"
)

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	onlyEnabled, err := parseBoolQuery(r, "enabled")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := alarmapp.RuleFilter{
		TenantID:    tenantID,
		TargetType:  alarms.TargetType(q.Get("target_type")),
		TargetID:    q.Get("target_id"),
		RuleGroup:   q.Get("rule_group"),
		TemplateID:  q.Get("template_id"),
		OnlyEnabled: onlyEnabled,
	}
	list, err := h.rules.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, list)
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req createRuleRequest
	body, err := h.decode(r, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rule, err := h.rules.Create(r.Context(), req.toRule(tenantID))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAudit(r, "alarm_rule.create", "alarm_rule", rule.ID, body)
	writeOK(w, http.StatusCreated, rule)
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	rule, err := h.rules.Get(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, rule)
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var patch alarms.RulePatch
	body, err := h.decode(r, &patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := r.PathValue("id")
	rule, err := h.rules.Update(r.Context(), tenantID, id, patch)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAudit(r, "alarm_rule.update", "alarm_rule", id, body)
	writeOK(w, http.StatusOK, rule)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := h.rules.Delete(r.Context(), tenantID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAudit(r, "alarm_rule.delete", "alarm_rule", id, nil)
	writeOK(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handler) bulkUpdateRules(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req bulkUpdateRequest
	body, err := h.decode(r, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.rules.BulkUpdate(r.Context(), tenantID, req.RuleIDs, req.Settings)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAudit(r, "alarm_rule.bulk_update", "alarm_rule", "", body)
	writeOK(w, http.StatusOK, result)
}

func (h *Handler) evaluateRule(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req valueRequest
	if _, err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Value.IsZero() {
		h.fail(w, r, alarms.Validationf("value is required"))
		return
	}
	transition, err := h.alarms.ProcessValue(r.Context(), tenantID, r.PathValue("id"), req.Value, req.at())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, transition)
}

func (h *Handler) targetValue(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	targetType := alarms.TargetType(r.PathValue("type"))
	if !targetType.Valid() {
		h.fail(w, r, alarms.Validationf("invalid target type %q", targetType))
		return
	}
	var req valueRequest
	if _, err := h.decode(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Value.IsZero() {
		h.fail(w, r, alarms.Validationf("value is required"))
		return
	}
	result, err := h.alarms.ProcessTargetValue(r.Context(), tenantID, targetType, r.PathValue("id"), req.Value, req.at())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, result)
}

func (h *Handler) ruleStatistics(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	days, err := parseIntQuery(r, "days")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	stats, err := h.statistics.RuleStatistics(r.Context(), tenantID, r.PathValue("id"), days)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, stats)
}
