package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"hongson-portal/internal/service"
	"hongson-portal/internal/storage"
	"hongson-portal/internal/util"

	"go.uber.org/zap"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

// Meta carries list metadata.
type Meta struct {
	Total int `json:"total"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(err error, message string) Response {
	return Response{
		Success: false,
		Error:   service.Message(err),
		Message: message,
	}
}

// responder holds the JSON helpers shared by every handler.
type responder struct {
	logger *zap.Logger
}

func (h responder) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h responder) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	fields := []zap.Field{
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	}
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("HTTP error response", fields...)
	} else {
		h.logger.Warn("HTTP error response", fields...)
	}
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrAppNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, storage.ErrEmptyFile):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidSecret):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrStatsUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
