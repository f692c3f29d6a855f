// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianGateway/pkg/extensions"
	"github.com/AleutianAI/AleutianGateway/services/gateway/credentials"
	"github.com/gin-gonic/gin"
)

// APIKeyHandler serves the admin key management routes.
type APIKeyHandler struct {
	store *credentials.Store
	audit extensions.AuditLogger
}

// NewAPIKeyHandler creates the key management handler.
func NewAPIKeyHandler(store *credentials.Store, audit extensions.AuditLogger) *APIKeyHandler {
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	return &APIKeyHandler{store: store, audit: audit}
}

// createKeyRequest is the POST /admin/keys body.
type createKeyRequest struct {
	Name       string  `json:"name" binding:"required"`
	Collection string  `json:"collection" binding:"required"`
	Threshold  float64 `json:"threshold"`
}

// HandleCreate issues a new API key.
//
// The plaintext key appears only in this response; the store keeps a
// SHA-256 digest.
func (h *APIKeyHandler) HandleCreate(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and collection are required"})
		return
	}

	plaintext, info, err := h.store.Create(c.Request.Context(), req.Name, req.Collection, req.Threshold)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create API key"})
		return
	}

	h.auditEvent(c, "auth.key_issued", info.ID, "success")
	c.JSON(http.StatusCreated, gin.H{
		"api_key": plaintext,
		"tenant":  info,
	})
}

// HandleList returns every tenant profile, active and inactive.
func (h *APIKeyHandler) HandleList(c *gin.Context) {
	tenants, err := h.store.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tenants"})
		return
	}
	if tenants == nil {
		tenants = []credentials.TenantInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"tenants": tenants})
}

// HandleStatus returns one tenant's profile and key status.
func (h *APIKeyHandler) HandleStatus(c *gin.Context) {
	tenantID := c.Param("id")

	info, err := h.store.Get(c.Request.Context(), tenantID)
	if errors.Is(err, credentials.ErrTenantNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown tenant"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load tenant"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant": info})
}

// HandleDeactivate disables every key for a tenant ID.
func (h *APIKeyHandler) HandleDeactivate(c *gin.Context) {
	tenantID := c.Param("id")

	count, err := h.store.Deactivate(c.Request.Context(), tenantID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to deactivate tenant"})
		return
	}
	if count == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "no active keys for tenant"})
		return
	}

	h.auditEvent(c, "auth.key_deactivated", tenantID, "success")
	c.JSON(http.StatusOK, gin.H{"deactivated": count})
}

func (h *APIKeyHandler) auditEvent(c *gin.Context, eventType, resourceID, outcome string) {
	_ = h.audit.Log(c.Request.Context(), extensions.AuditEvent{
		EventType:    eventType,
		Timestamp:    time.Now().UTC(),
		UserID:       "admin",
		Action:       "write",
		ResourceType: "api_key",
		ResourceID:   resourceID,
		Outcome:      outcome,
		Metadata: map[string]any{
			"ip_address": c.ClientIP(),
		},
	})
}
