package main

import (
	"context"
	"log/slog"

	"alertflow/internal/api/handlers"
	"alertflow/internal/db"
	"alertflow/internal/types"
)

// slogAdapter wraps *slog.Logger to implement types.Logger. slog.Logger has
// Info, Warn and Error, but its With returns *slog.Logger.
type slogAdapter struct {
	logger *slog.Logger
}

func (a *slogAdapter) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogAdapter) With(args ...any) types.Logger {
	return &slogAdapter{logger: a.logger.With(args...)}
}

// The handler package declares its own list parameter types so it does not
// import db. These adapters convert at the boundary.

type workflowRepo struct{ *db.WorkflowRepository }

func (r workflowRepo) List(ctx context.Context, orgID string, p handlers.WorkflowListParams) ([]*types.Workflow, types.PageInfo, error) {
	return r.WorkflowRepository.List(ctx, orgID, db.ListWorkflowsParams(p))
}

type channelRepo struct{ *db.ChannelRepository }

func (r channelRepo) List(ctx context.Context, orgID string, p handlers.ChannelListParams) ([]*types.AlertChannel, types.PageInfo, error) {
	return r.ChannelRepository.List(ctx, orgID, db.ListChannelsParams(p))
}

type dispatchReader struct{ *db.DispatchRepository }

func (r dispatchReader) List(ctx context.Context, p handlers.DispatchListParams) ([]*types.Dispatch, types.PageInfo, error) {
	return r.DispatchRepository.List(ctx, db.ListDispatchesParams(p))
}

var (
	_ types.Logger            = (*slogAdapter)(nil)
	_ handlers.WorkflowRepo   = workflowRepo{}
	_ handlers.ChannelRepo    = channelRepo{}
	_ handlers.DispatchReader = dispatchReader{}
)
