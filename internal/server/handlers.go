package server

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lunagrove/sqlforge/internal/hub"
	"github.com/lunagrove/sqlforge/internal/orchestrator"
	"github.com/lunagrove/sqlforge/internal/protocol"
)

// registerHandlers builds the dispatch table. The inbound vocabulary is
// closed; anything else is answered by the router's unknown-type error.
func (s *Server) registerHandlers() {
	s.router.RegisterHandler(protocol.KindGenerateSchema, s.handleGenerateSchema)
	s.router.RegisterHandler(protocol.KindGenerateQuery, s.handleGenerateQuery)
	s.router.RegisterHandler(protocol.KindExecuteTask, s.handleExecuteTask)
	s.router.RegisterHandler(protocol.KindChat, s.handleChat)
	s.router.RegisterHandler(protocol.KindPing, s.handlePing)
	s.router.RegisterHandler(protocol.KindPong, s.handlePong)
	s.router.RegisterHandler(protocol.KindGetCacheStats, s.handleGetCacheStats)
	s.router.RegisterHandler(protocol.KindSubscribe, s.handleSubscribe)
	s.router.RegisterHandler(protocol.KindUnsubscribe, s.handleUnsubscribe)
}

// Task handlers decode their payload, then hand the request to the
// orchestrator, which owns all further frame emission including the terminal
// frame. Only pre-emission failures (a payload that cannot be decoded) are
// returned for the router to report.

func (s *Server) handleGenerateSchema(ctx context.Context, sender protocol.Sender, frame protocol.Inbound) error {
	req, err := decode[orchestrator.SchemaRequest](frame)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Description) == "" {
		return fmt.Errorf("description is required")
	}
	s.orch.GenerateSchema(ctx, protocol.NewEmitter(sender, frame.RequestID), req)
	return nil
}

func (s *Server) handleGenerateQuery(ctx context.Context, sender protocol.Sender, frame protocol.Inbound) error {
	req, err := decode[orchestrator.QueryRequest](frame)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.NaturalLanguage) == "" {
		return fmt.Errorf("naturalLanguage is required")
	}
	s.orch.GenerateQuery(ctx, protocol.NewEmitter(sender, frame.RequestID), req)
	return nil
}

func (s *Server) handleExecuteTask(ctx context.Context, sender protocol.Sender, frame protocol.Inbound) error {
	req, err := decode[orchestrator.TaskRequest](frame)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	s.orch.ExecuteTask(ctx, protocol.NewEmitter(sender, frame.RequestID), req)
	return nil
}

func (s *Server) handleChat(ctx context.Context, sender protocol.Sender, frame protocol.Inbound) error {
	req, err := decode[orchestrator.ChatRequest](frame)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	s.orch.Chat(ctx, protocol.NewEmitter(sender, frame.RequestID), req)
	return nil
}

func (s *Server) handlePing(ctx context.Context, sender protocol.Sender, frame protocol.Inbound) error {
	sender.Send(ctx, protocol.NewOutbound(protocol.KindPong, protocol.PongPayload{
		Time: time.Now().UnixMilli(),
	}, frame.RequestID))
	return nil
}

// handlePong records a probe acknowledgment from the liveness sweep.
func (s *Server) handlePong(_ context.Context, sender protocol.Sender, _ protocol.Inbound) error {
	s.hub.MarkAlive(sender.ID())
	return nil
}

func (s *Server) handleGetCacheStats(ctx context.Context, sender protocol.Sender, frame protocol.Inbound) error {
	sender.Send(ctx, protocol.NewOutbound(protocol.KindCacheStats, s.cache.Stats(), frame.RequestID))
	return nil
}

// topicPayload is shared by subscribe and unsubscribe.
type topicPayload struct {
	Topic string `json:"topic"`
}

func (s *Server) handleSubscribe(ctx context.Context, sender protocol.Sender, frame protocol.Inbound) error {
	req, err := decode[topicPayload](frame)
	if err != nil {
		return err
	}
	if req.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if conn, ok := sender.(*hub.Conn); ok {
		conn.Subscribe(req.Topic)
	}
	sender.Send(ctx, protocol.NewOutbound(protocol.KindResult, map[string]any{"subscribed": req.Topic}, frame.RequestID))
	return nil
}

func (s *Server) handleUnsubscribe(ctx context.Context, sender protocol.Sender, frame protocol.Inbound) error {
	req, err := decode[topicPayload](frame)
	if err != nil {
		return err
	}
	if req.Topic == "" {
		return fmt.Errorf("topic is required")
	}
	if conn, ok := sender.(*hub.Conn); ok {
		conn.Unsubscribe(req.Topic)
	}
	sender.Send(ctx, protocol.NewOutbound(protocol.KindResult, map[string]any{"unsubscribed": req.Topic}, frame.RequestID))
	return nil
}
