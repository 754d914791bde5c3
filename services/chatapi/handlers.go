// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package chatapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/AleutianAI/AleutianDocChat/pkg/chatstore"
	"github.com/AleutianAI/AleutianDocChat/pkg/datatypes"
	"github.com/gin-gonic/gin"
)

type handlers struct {
	store  chatstore.Store
	logger *slog.Logger
}

func (h *handlers) listChats(c *gin.Context) {
	limit := chatstore.DefaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	chats, err := h.store.ListChats(c.Request.Context(), scopeFrom(c), limit)
	if err != nil {
		h.fail(c, "list chats", err)
		return
	}
	c.JSON(http.StatusOK, chats)
}

func (h *handlers) createChat(c *gin.Context) {
	var req datatypes.CreateChatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.store.CreateChat(c.Request.Context(), scopeFrom(c), req.ID, req.Title)
	if err != nil {
		h.fail(c, "create chat", err)
		return
	}
	h.logger.Info("chat created", "chat_id", id, "organization_id", scopeFrom(c).OrganizationID)
	c.JSON(http.StatusCreated, datatypes.IDResponse{ID: id})
}

func (h *handlers) getMessages(c *gin.Context) {
	msgs, err := h.store.GetMessages(c.Request.Context(), scopeFrom(c), c.Param("chatId"))
	if err != nil {
		h.fail(c, "get messages", err)
		return
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *handlers) addMessage(c *gin.Context) {
	var req datatypes.AddMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	chatID := c.Param("chatId")
	id, err := h.store.AddMessage(c.Request.Context(), scopeFrom(c), chatID, req)
	if err != nil {
		h.fail(c, "add message", err)
		return
	}
	c.JSON(http.StatusCreated, datatypes.IDResponse{ID: id})
}

// fail maps store errors to HTTP status codes.
func (h *handlers) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, chatstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "chat not found"})
	case errors.Is(err, chatstore.ErrAlreadyExists):
		c.JSON(http.StatusConflict, gin.H{"error": "chat already exists"})
	case errors.Is(err, chatstore.ErrInvalidID), errors.Is(err, chatstore.ErrInvalidScope):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("chat store failed", "operation", op, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
