package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/skarimi/docqa/internal/rag"
)

// Answerer is the query capability the handler exposes over HTTP.
type Answerer interface {
	Ask(ctx context.Context, query string) (rag.Answer, error)
	AskStream(ctx context.Context, query string) (rag.StreamResult, error)
}

// QueryHandler serves batch and streaming question answering.
type QueryHandler struct {
	Engine Answerer
}

// Register mounts the query routes.
func (h *QueryHandler) Register(g *echo.Group) {
	g.POST("/query", h.query)
	g.POST("/query/stream", h.queryStream)
}

// QueryRequest is the body of both query endpoints.
type QueryRequest struct {
	Query string `json:"query"`
}

func (h *QueryHandler) query(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ans, err := h.Engine.Ask(c.Request().Context(), req.Query)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyQuery) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	queriesTotal.WithLabelValues("batch").Inc()
	return c.JSON(http.StatusOK, ans)
}

// queryStream answers over SSE. Events are JSON: {"sources": [...]} first,
// then {"content": "..."} per token batch, then {"done": true}. Failures after
// the stream opened arrive in-band as {"error": "..."}.
func (h *QueryHandler) queryStream(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	res, err := h.Engine.AskStream(c.Request().Context(), req.Query)
	if err != nil {
		if errors.Is(err, rag.ErrEmptyQuery) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	queriesTotal.WithLabelValues("stream").Inc()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)

	flusher, _ := resp.Writer.(http.Flusher)
	send := func(v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(resp, "data: %s\n\n", data); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if err := send(map[string]interface{}{"sources": res.Sources}); err != nil {
		return nil
	}

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			// Client went away; the provider stream is cancelled via ctx.
			return nil
		case ev, ok := <-res.Events:
			if !ok {
				return nil
			}
			switch {
			case ev.Err != nil:
				_ = send(map[string]string{"error": ev.Err.Error()})
				return nil
			case ev.Done:
				_ = send(map[string]bool{"done": true})
				return nil
			default:
				if err := send(map[string]string{"content": ev.Content}); err != nil {
					return nil
				}
			}
		}
	}
}
