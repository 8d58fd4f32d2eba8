package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"astromatch-backend/internal/assign"
	"astromatch-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store   store.Store
	engine  *assign.Engine
	webpush *webpush.Options
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, engine *assign.Engine, webpushOptions *webpush.Options) *Handler {
	return &Handler{
		store:   s,
		engine:  engine,
		webpush: webpushOptions,
	}
}
