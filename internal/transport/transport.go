// Package transport is the Streaming Transport (C7) and Approval
// Controller (C8): the fasthttp routes that accept a turn, subscribe
// to its run's event channel before spawning the orchestrator, and
// relay events to the caller as Server-Sent Events until a terminal
// status is observed.
package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	json "github.com/bytedance/sonic"
	"github.com/fasthttp/router"
	"github.com/jmoiron/sqlx"
	"github.com/valyala/fasthttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/skyflo-ai/skyflo/internal/authn"
	"github.com/skyflo-ai/skyflo/internal/conversation"
	"github.com/skyflo-ai/skyflo/internal/perrors"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/core"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/eventbus"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/ids"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/orchestrator"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/stopregistry"
	"github.com/skyflo-ai/skyflo/pkg/agentcore/toolcatalog"
)

var tracer = otel.Tracer("transport")

const heartbeatInterval = 60 * time.Second

// Deps bundles everything the routes need beyond what orchestrator.Dependencies
// already carries; OrchestratorDeps is reused verbatim for every spawned run.
type Deps struct {
	Conversations    *conversation.Service
	Catalog          toolcatalog.Catalog
	Bus              *eventbus.Bus
	Stop             *stopregistry.Registry
	Auth             *authn.Authenticator
	OrchestratorDeps orchestrator.Dependencies
}

// RegisterRoutes wires /chat, /approvals/{call_id}, /stop, /tools, and
// the health check.
func RegisterRoutes(r *router.Router, deps Deps) {
	r.GET("/api/health", handleHealth)
	r.POST("/api/chat", handleChat(deps))
	r.POST("/api/approvals/{call_id}", handleApproval(deps))
	r.POST("/api/stop", handleStop(deps))
	r.GET("/api/tools", handleTools(deps))
}

func handleHealth(reqCtx *fasthttp.RequestCtx) {
	reqCtx.Response.Header.Set("content-type", "application/json")
	reqCtx.SetStatusCode(fasthttp.StatusOK)
	reqCtx.SetBodyString(`{"status":"ok"}`)
}

type chatRequest struct {
	Messages       []chatMessage `json:"messages"`
	ConversationID string        `json:"conversation_id"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func lastUserContent(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	return ""
}

func handleChat(deps Deps) fasthttp.RequestHandler {
	return func(reqCtx *fasthttp.RequestCtx) {
		ctx, span := tracer.Start(context.Background(), "Transport.Chat")
		defer span.End()

		caller := deps.Auth.IdentifyOptional(ctx, string(reqCtx.Request.Header.Peek("Authorization")))

		var body chatRequest
		if err := json.Unmarshal(reqCtx.PostBody(), &body); err != nil {
			writeError(reqCtx, ctx, perrors.NewErrInvalidRequest("invalid request body", err))
			return
		}

		text := lastUserContent(body.Messages)
		if text == "" {
			writeError(reqCtx, ctx, perrors.NewErrInvalidRequest("messages are required", errors.New("no user message found")))
			return
		}

		conv, err := resolveConversation(ctx, deps, body.ConversationID, caller)
		if err != nil {
			writeError(reqCtx, ctx, err)
			return
		}

		runID := ids.New()
		span.SetAttributes(attribute.String("run_id", runID), attribute.String("conversation_id", conv.ID))

		streamRun(reqCtx, ctx, deps, conv.ID, runID, orchestrator.Input{
			RunID:          runID,
			ConversationID: conv.ID,
			NewUserText:    text,
		})
	}
}

type approvalRequest struct {
	Approve        bool   `json:"approve"`
	Reason         string `json:"reason"`
	ConversationID string `json:"conversation_id"`
}

func handleApproval(deps Deps) fasthttp.RequestHandler {
	return func(reqCtx *fasthttp.RequestCtx) {
		ctx, span := tracer.Start(context.Background(), "Transport.Approval")
		defer span.End()

		callID, ok := reqCtx.UserValue("call_id").(string)
		if !ok || callID == "" {
			writeError(reqCtx, ctx, perrors.NewErrInvalidRequest("call_id is required", errors.New("missing call_id")))
			return
		}

		caller := deps.Auth.IdentifyOptional(ctx, string(reqCtx.Request.Header.Peek("Authorization")))

		var body approvalRequest
		if err := json.Unmarshal(reqCtx.PostBody(), &body); err != nil {
			writeError(reqCtx, ctx, perrors.NewErrInvalidRequest("invalid request body", err))
			return
		}
		if body.ConversationID == "" {
			writeError(reqCtx, ctx, perrors.NewErrInvalidRequest("conversation_id is required", errors.New("missing conversation_id")))
			return
		}

		conv, err := deps.Conversations.Get(ctx, body.ConversationID)
		if err != nil {
			writeError(reqCtx, ctx, perrors.NewErrNotFound("conversation not found", err))
			return
		}
		if !deps.Conversations.IsOwnerOrAdmin(conv, caller.UserID, caller.IsAdmin) {
			writeError(reqCtx, ctx, perrors.NewErrForbidden("not authorized for this conversation", errors.New("caller is not the owner")))
			return
		}

		if !body.Approve {
			// Eagerly mark the segment denied so a client that reloads the
			// transcript before the resume run finishes still sees it.
			if err := denyToolSegment(ctx, deps, conv.ID, callID); err != nil {
				slog.WarnContext(ctx, "failed to eagerly persist denial", slog.Any("error", err))
			}
		}

		runID := ids.New()
		span.SetAttributes(attribute.String("run_id", runID), attribute.String("conversation_id", conv.ID), attribute.String("call_id", callID))

		streamRun(reqCtx, ctx, deps, conv.ID, runID, orchestrator.Input{
			RunID:                runID,
			ConversationID:       conv.ID,
			ApprovalDecisions:    map[string]bool{callID: body.Approve},
			SuppressPendingEvent: true,
		})
	}
}

type stopRequest struct {
	ConversationID string `json:"conversation_id"`
	RunID          string `json:"run_id"`
}

func handleStop(deps Deps) fasthttp.RequestHandler {
	return func(reqCtx *fasthttp.RequestCtx) {
		ctx, span := tracer.Start(context.Background(), "Transport.Stop")
		defer span.End()

		caller := deps.Auth.IdentifyOptional(ctx, string(reqCtx.Request.Header.Peek("Authorization")))

		var body stopRequest
		if err := json.Unmarshal(reqCtx.PostBody(), &body); err != nil {
			writeError(reqCtx, ctx, perrors.NewErrInvalidRequest("invalid request body", err))
			return
		}
		if body.ConversationID == "" || body.RunID == "" {
			writeError(reqCtx, ctx, perrors.NewErrInvalidRequest("conversation_id and run_id are required", errors.New("missing field")))
			return
		}

		conv, err := deps.Conversations.Get(ctx, body.ConversationID)
		if err != nil {
			writeError(reqCtx, ctx, perrors.NewErrNotFound("conversation not found", err))
			return
		}
		if !deps.Conversations.IsOwnerOrAdmin(conv, caller.UserID, caller.IsAdmin) {
			writeError(reqCtx, ctx, perrors.NewErrForbidden("not authorized for this conversation", errors.New("caller is not the owner")))
			return
		}

		if err := deps.Stop.RequestStop(ctx, body.RunID); err != nil {
			writeError(reqCtx, ctx, perrors.NewErrInternalServerError("failed to request stop", err))
			return
		}

		deps.Bus.Publish(ctx, body.RunID, core.Event{
			Type: core.EventWorkflowComplete,
			Data: core.JSONMap{"status": string(core.RunStatusStopped), "run_id": body.RunID},
		})

		writeOK(reqCtx, ctx, core.JSONMap{"status": "stopped", "run_id": body.RunID})
	}
}

func handleTools(deps Deps) fasthttp.RequestHandler {
	return func(reqCtx *fasthttp.RequestCtx) {
		ctx, span := tracer.Start(context.Background(), "Transport.Tools")
		defer span.End()

		tools, err := deps.Catalog.ListTools(ctx)
		if err != nil {
			writeError(reqCtx, ctx, perrors.NewErrInternalServerError("failed to list tools", err))
			return
		}
		writeOK(reqCtx, ctx, tools)
	}
}

func resolveConversation(ctx context.Context, deps Deps, conversationID string, caller authn.Caller) (conversation.Conversation, error) {
	if conversationID == "" {
		return deps.Conversations.Create(ctx, caller.UserID)
	}

	conv, err := deps.Conversations.Get(ctx, conversationID)
	if err != nil {
		return conversation.Conversation{}, perrors.NewErrNotFound("conversation not found", err)
	}
	if !deps.Conversations.IsOwnerOrAdmin(conv, caller.UserID, caller.IsAdmin) {
		return conversation.Conversation{}, perrors.NewErrForbidden("not authorized for this conversation", errors.New("caller is not the owner"))
	}
	return conv, nil
}

func denyToolSegment(ctx context.Context, deps Deps, conversationID, callID string) error {
	return deps.Conversations.Repo().WithConversationLock(ctx, conversationID, func(tx *sqlx.Tx) error {
		return deps.Conversations.Repo().UpdateToolSegmentStatus(ctx, tx, callID, core.ToolStatusDenied, deniedResult(), "")
	})
}

func deniedResult() core.JSONValue {
	return []map[string]string{{"type": "text", "text": "Tool call was denied by the user"}}
}

// streamRun subscribes to the run's channel, spawns the orchestrator,
// and relays events as SSE frames until a terminal status or client
// disconnect, per spec.md §4.7 steps 1-6.
func streamRun(reqCtx *fasthttp.RequestCtx, ctx context.Context, deps Deps, conversationID, runID string, in orchestrator.Input) {
	sub := deps.Bus.Subscribe(ctx, runID)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.ErrorContext(ctx, "orchestrator run panicked", slog.Any("panic", r))
			}
		}()
		if err := orchestrator.Run(context.Background(), deps.OrchestratorDeps, in); err != nil {
			slog.ErrorContext(ctx, "orchestrator run returned an error", slog.Any("error", err))
		}
	}()

	reqCtx.Response.Header.Set("Content-Type", "text/event-stream")
	reqCtx.Response.Header.Set("Cache-Control", "no-cache")
	reqCtx.Response.Header.Set("Connection", "keep-alive")
	reqCtx.SetStatusCode(fasthttp.StatusOK)

	reqCtx.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer func() {
			_ = sub.Close()
			w.Flush()
		}()

		writeFrame(w, "ready", core.JSONMap{"run_id": runID, "conversation_id": conversationID})

		msgs := sub.Channel()
		ticker := time.NewTicker(heartbeatInterval)
		defer ticker.Stop()

		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ticker.Reset(heartbeatInterval)
				event, err := eventbus.Decode(msg.Payload)
				if err != nil {
					slog.ErrorContext(ctx, "failed to decode event", slog.Any("error", err))
					continue
				}
				writeFrame(w, string(event.Type), event.Data)
				if event.IsTerminal() {
					return
				}
			case <-ticker.C:
				writeFrame(w, string(core.EventHeartbeat), core.JSONMap{"timestamp": time.Now().UnixMilli()})
			}
		}
	})
}

func writeFrame(w *bufio.Writer, event string, data core.JSONMap) {
	buf, err := json.Marshal(data)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", event)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", buf)
	_ = w.Flush()
}

func writeError(ctx *fasthttp.RequestCtx, stdCtx context.Context, err error) {
	var perr perrors.Err
	status := 500
	if errors.As(err, &perr) {
		status = perr.HttpStatus()
	}
	ctx.Response.Header.Set("content-type", "application/json")
	ctx.SetStatusCode(status)
	buf, _ := json.Marshal(core.JSONMap{"error": true, "message": err.Error()})
	ctx.SetBody(buf)
	slog.ErrorContext(stdCtx, "transport request failed", slog.Any("error", err))
}

func writeOK(ctx *fasthttp.RequestCtx, stdCtx context.Context, data interface{}) {
	ctx.Response.Header.Set("content-type", "application/json")
	ctx.SetStatusCode(fasthttp.StatusOK)
	buf, err := json.Marshal(core.JSONMap{"error": false, "data": data})
	if err != nil {
		slog.ErrorContext(stdCtx, "failed to encode response", slog.Any("error", err))
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetBody(buf)
}
