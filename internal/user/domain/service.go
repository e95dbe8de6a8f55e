package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type EnsureUserRequest struct {
	TelegramID int64
	Language   string
}

type Service interface {
	// EnsureUser creates the user on first chat contact and refreshes
	// last activity on every later one.
	EnsureUser(ctx context.Context, req EnsureUserRequest) (User, error)
	GetByID(ctx context.Context, id snowflake.ID) (User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (User, error)
}
