package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"go.opentelemetry.io/otel/attribute"

	"github.com/openkiro/kirogate/pkg/anthropic"
	"github.com/openkiro/kirogate/pkg/eventstream"
	"github.com/openkiro/kirogate/pkg/kiro"
	"github.com/openkiro/kirogate/pkg/telemetry"
)

// modelCreated is the fixed creation timestamp advertised for every model.
const modelCreated = 1733961600

// modelMaxTokens is the advertised per-model output ceiling.
const modelMaxTokens = 8192

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, anthropic.NewErrorResponse(errType, message))
}

func writeAuthenticationError(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, anthropic.AuthenticationError())
}

// handleModels serves GET /v1/models from the model-mapping table.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	ids := s.cfg.Models()
	sort.Strings(ids)

	models := make([]anthropic.ModelInfo, 0, len(ids))
	for _, id := range ids {
		models = append(models, anthropic.ModelInfo{
			ID:          id,
			Object:      "model",
			Created:     modelCreated,
			OwnedBy:     "anthropic",
			DisplayName: id,
			Type:        "model",
			MaxTokens:   modelMaxTokens,
		})
	}

	writeJSON(w, http.StatusOK, anthropic.ModelsResponse{Object: "list", Data: models})
}

// handleCountTokens serves POST /v1/messages/count_tokens.
func (s *Server) handleCountTokens(w http.ResponseWriter, r *http.Request) {
	var req anthropic.CountTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: "+err.Error())
		return
	}

	tokens := s.counter.Count(r.Context(), req.Model, req.System, req.Messages, req.Tools)
	writeJSON(w, http.StatusOK, anthropic.CountTokensResponse{InputTokens: tokens})
}

// handleMessages serves POST /v1/messages in both streaming and buffered
// modes.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	ctx, span := telemetry.Tracer().Start(r.Context(), "anthropic.messages")
	defer span.End()

	var req anthropic.MessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "invalid JSON: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "model is required")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request_error", "messages must not be empty")
		return
	}
	req.Normalize()

	span.SetAttributes(
		attribute.String("anthropic.model", req.Model),
		attribute.Bool("anthropic.stream", req.Stream),
	)

	inputTokens := s.counter.Count(ctx, req.Model, req.System, req.Messages, req.Tools)
	modelID := s.cfg.ResolveModel(req.Model)

	// A rate-limited account earns one retry on a different account when the
	// pool holds more than one.
	maxAttempts := 1
	if s.pool.Size() > 1 {
		maxAttempts = 2
	}

	for attempt := 1; ; attempt++ {
		if s.tryMessages(ctx, w, &req, modelID, inputTokens, attempt < maxAttempts) {
			return
		}
		s.logger.Info("retrying on another account after rate limit", "attempt", attempt+1)
	}
}

// tryMessages runs one attempt against one pooled account. It returns true
// when a response has been written; false means the attempt hit a rate limit
// and the caller should retry on another account.
func (s *Server) tryMessages(ctx context.Context, w http.ResponseWriter, req *anthropic.MessagesRequest, modelID string, inputTokens int, canRetry bool) bool {
	lease, err := s.pool.Acquire()
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "overloaded_error", "no available account")
		return true
	}

	tm := lease.Account().TokenManager()
	kiroReq, conversationID, err := anthropic.BuildConversation(req, anthropic.ConvertOptions{
		ModelID:    modelID,
		ProfileArn: tm.ProfileArn(),
	})
	if err != nil {
		lease.Success()
		writeError(w, http.StatusBadRequest, "invalid_request_error", err.Error())
		return true
	}

	body, err := kiroReq.ToJSON()
	if err != nil {
		lease.Success()
		writeError(w, http.StatusInternalServerError, "api_error", err.Error())
		return true
	}

	s.logger.Debug("calling upstream",
		"account", lease.AccountName(),
		"conversation_id", conversationID,
		"model", modelID,
		"stream", req.Stream)

	resp, err := lease.Account().Provider().CallStream(ctx, body)
	if err != nil {
		switch {
		case errors.Is(err, kiro.ErrRefreshFailed):
			lease.Invalidate()
			s.logger.Error("token refresh failed, account invalidated", "account", lease.AccountName(), "error", err)
			writeError(w, http.StatusBadGateway, "api_error", "upstream authentication failed")
			return true
		case kiro.IsRateLimit(err):
			lease.Failure(true)
			s.logger.Warn("account rate limited", "account", lease.AccountName())
			if canRetry {
				return false
			}
			writeError(w, http.StatusTooManyRequests, "rate_limit_error", "upstream rate limit")
			return true
		default:
			lease.Failure(false)
			s.logger.Error("upstream call failed", "account", lease.AccountName(), "error", err)
			writeError(w, http.StatusBadGateway, "api_error", err.Error())
			return true
		}
	}
	defer resp.Body.Close()

	events := eventstream.NewEventReader(resp.Body)
	params := anthropic.ConvertParams{
		Model:          req.Model,
		InputTokens:    inputTokens,
		EstimateTokens: s.estimateTokens,
	}

	if req.Stream {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		if err := anthropic.StreamMessages(w, events, params); err != nil {
			// Bytes are already on the wire; all that is left is accounting.
			var streamErr *anthropic.UpstreamStreamError
			lease.Failure(errors.As(err, &streamErr) && streamErr.IsThrottling())
			s.logger.Error("stream aborted", "conversation_id", conversationID, "error", err)
			return true
		}
		lease.Success()
		return true
	}

	result, err := anthropic.CollectMessages(events, params)
	if err != nil {
		var streamErr *anthropic.UpstreamStreamError
		if errors.As(err, &streamErr) {
			lease.Failure(streamErr.IsThrottling())
			writeError(w, http.StatusInternalServerError, "api_error", streamErr.Message)
			return true
		}
		lease.Failure(false)
		writeError(w, http.StatusBadGateway, "api_error", err.Error())
		return true
	}

	lease.Success()
	writeJSON(w, http.StatusOK, result)
	return true
}
