package http

import (
	"net/http"

	alarmapp "alarm-engine/internal/alarms/application"
)

func (h *Handler) listTemplates(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.templates.List(r.Context(), tenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, list)
}

func (h *Handler) createTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req createTemplateRequest
	body, err := h.decode(r, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tpl, err := req.toTemplate(tenantID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	created, err := h.templates.Create(r.Context(), tpl)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAudit(r, "alarm_template.create", "alarm_template", created.ID, body)
	writeOK(w, http.StatusCreated, created)
}

func (h *Handler) getTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	tpl, err := h.templates.Get(r.Context(), tenantID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeOK(w, http.StatusOK, tpl)
}

func (h *Handler) deleteTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := h.templates.Delete(r.Context(), tenantID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAudit(r, "alarm_template.delete", "alarm_template", id, nil)
	writeOK(w, http.StatusOK, map[string]string{"id": id})
}

func (h *Handler) applyTemplate(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var req applyTemplateRequest
	body, err := h.decode(r, &req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	overrides, err := req.overrides()
	if err != nil {
		h.fail(w, r, err)
		return
	}
	id := r.PathValue("id")
	result, err := h.templates.Apply(r.Context(), alarmapp.ApplyRequest{
		TenantID:   tenantID,
		TemplateID: id,
		Targets:    req.targets(),
		Overrides:  overrides,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAudit(r, "alarm_template.apply", "alarm_template", id, body)
	writeOK(w, http.StatusOK, result)
}

func (h *Handler) revertRuleGroup(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenantFrom(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	group := r.PathValue("group")
	result, err := h.templates.RevertGroup(r.Context(), tenantID, group)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.recordAudit(r, "alarm_rule_group.revert", "alarm_rule_group", group, nil)
	writeOK(w, http.StatusOK, result)
}
