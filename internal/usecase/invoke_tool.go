package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oasbridge/oasbridge/internal/domain"
)

// InvokeToolUseCase resolves a tool by name from the active set and
// executes it via the ToolInvoker.
type InvokeToolUseCase struct {
	invoker ToolInvoker
	logger  *slog.Logger
}

// NewInvokeToolUseCase creates a new InvokeToolUseCase.
func NewInvokeToolUseCase(invoker ToolInvoker, logger *slog.Logger) *InvokeToolUseCase {
	return &InvokeToolUseCase{
		invoker: invoker,
		logger:  logger.With("usecase", "InvokeTool"),
	}
}

// Execute looks up the named tool in the given set (exact match) and
// performs the outbound call. A missing name returns ErrToolNotFound.
func (uc *InvokeToolUseCase) Execute(ctx context.Context, tools []domain.Tool, name string, args map[string]interface{}, creds domain.Credentials) (*domain.CallResult, error) {
	log := uc.logger.With(slog.String("tool_name", name))

	var tool *domain.Tool
	for i := range tools {
		if tools[i].Name == name {
			tool = &tools[i]
			break
		}
	}
	if tool == nil {
		log.Warn("Tool not found in active set", slog.Int("active_tools", len(tools)))
		return nil, fmt.Errorf("tool '%s' not found: %w", name, ErrToolNotFound)
	}

	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := uc.invoker.Invoke(ctx, *tool, args, creds)
	if err != nil {
		log.Error("Tool invocation failed", slog.Any("error", err))
		return nil, fmt.Errorf("failed to invoke tool %s: %w", name, err)
	}
	log.Info("Tool invocation completed",
		slog.Int("status", result.Status),
		slog.Bool("success", result.Success))
	return result, nil
}
