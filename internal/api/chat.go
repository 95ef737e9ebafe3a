package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/koopa0/zonda/internal/chat"
	"github.com/koopa0/zonda/internal/rag"
)

// questionMaxLen bounds chat questions, in characters.
const questionMaxLen = 2000

type chatRequest struct {
	Question string `json:"question"`
}

type chatResponse struct {
	Answer     string   `json:"answer"`
	Sources    []string `json:"sources"`
	Confidence string   `json:"confidence"`
	UserRole   string   `json:"user_role"`
}

// handleChat answers a question in one blocking response. POST /api/chat
//
// Pipeline: role-filtered retrieval over the knowledge index, then grounded
// generation through the chat flow.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validQuestion(req.Question) {
		writeError(w, http.StatusBadRequest, "Question must be between 1 and 2000 characters")
		return
	}

	start := time.Now()
	s.logger.Info("chat request",
		"username", id.Username,
		"role", id.Role,
		"question", truncate(req.Question, 80),
		"request_id", requestIDFromContext(r.Context()),
	)

	docs, err := s.index.Search(r.Context(), req.Question, rag.WithRole(id.Role), rag.WithTopK(s.topK))
	if err != nil {
		s.writeChatError(w, r, err, "retrieving context", id.Username)
		return
	}

	out, err := s.flow.Run(r.Context(), chat.Input{
		Question: req.Question,
		Role:     id.Role,
		Context:  docs,
	})
	if err != nil {
		s.writeChatError(w, r, err, "generating answer", id.Username)
		return
	}

	s.logger.Info("chat response",
		"username", id.Username,
		"confidence", out.Confidence,
		"sources", len(out.Sources),
		"duration", time.Since(start),
	)
	writeJSON(w, http.StatusOK, chatResponse{
		Answer:     out.Answer,
		Sources:    out.Sources,
		Confidence: out.Confidence,
		UserRole:   id.Role,
	})
}

// handleChatStream answers a question as SSE fragments. POST /api/chat/stream
//
// Retrieval runs before any SSE headers are written, so retrieval failures
// still produce an ordinary JSON error. Once the stream is open, failures
// surface as a single in-band error fragment and the [DONE] terminator is
// always sent.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	id, ok := identityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !validQuestion(req.Question) {
		writeError(w, http.StatusBadRequest, "Question must be between 1 and 2000 characters")
		return
	}

	s.logger.Info("stream chat request",
		"username", id.Username,
		"role", id.Role,
		"question", truncate(req.Question, 80),
		"request_id", requestIDFromContext(r.Context()),
	)

	docs, err := s.index.Search(r.Context(), req.Question, rag.WithRole(id.Role), rag.WithTopK(s.topK))
	if err != nil {
		s.logger.Error("chat pipeline error",
			"stage", "retrieving context",
			"username", id.Username,
			"error", err,
			"request_id", requestIDFromContext(r.Context()),
		)
		if errors.Is(err, rag.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "The AI service is temporarily unavailable.")
			return
		}
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred processing your request.")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming is not supported by this connection")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	input := chat.Input{Question: req.Question, Role: id.Role, Context: docs}

	var streamErr error
	for streamValue, err := range s.flow.Stream(ctx, input) {
		if err != nil {
			streamErr = err
			break
		}
		if streamValue.Done {
			break
		}
		writeSSEData(w, flusher, streamValue.Stream.Text)
	}

	if streamErr != nil {
		if ctx.Err() != nil {
			s.logger.Debug("stream client disconnected", "username", id.Username)
			return
		}
		s.logger.Error("stream generation failed",
			"username", id.Username,
			"error", streamErr,
			"request_id", requestIDFromContext(r.Context()),
		)
		writeSSEData(w, flusher, chat.StreamErrorMessage)
	}

	writeSSEData(w, flusher, "[DONE]")
}

// writeChatError maps pipeline failures to client responses: upstream
// outages become a 503, everything else a generic 500. Internal detail is
// logged, never returned.
func (s *Server) writeChatError(w http.ResponseWriter, r *http.Request, err error, stage, username string) {
	s.logger.Error("chat pipeline error",
		"stage", stage,
		"username", username,
		"error", err,
		"request_id", requestIDFromContext(r.Context()),
	)
	if errors.Is(err, rag.ErrUnavailable) || errors.Is(err, chat.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable,
			"The AI service is temporarily unavailable. Please try again.")
		return
	}
	writeError(w, http.StatusInternalServerError,
		"An unexpected error occurred processing your request.")
}

// writeSSEData writes one SSE event carrying text and flushes it. Multi-line
// payloads are split across data: lines per the SSE wire format; clients
// reassemble them joined by newlines.
func writeSSEData(w io.Writer, flusher http.Flusher, text string) {
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	io.WriteString(w, "\n")
	flusher.Flush()
}

// validQuestion reports whether a question is non-blank and within bounds.
func validQuestion(q string) bool {
	return strings.TrimSpace(q) != "" && utf8.RuneCountInString(q) <= questionMaxLen
}

// truncate shortens s to at most n runes for log lines.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
