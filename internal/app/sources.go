package app

import (
	"context"

	"github.com/hamidreza004/hamidspulse-auto-news/internal/database"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/gateway"
	"github.com/hamidreza004/hamidspulse-auto-news/internal/override"
)

// AddSource subscribes to a channel username or feed URL. Channels are
// looked up through the Bot API when a token is configured.
func (a *App) AddSource(ctx context.Context, username string) override.Result {
	name := database.NormalizeSource(username)
	if name == "" {
		return override.Result{Error: "username is required"}
	}

	var title *string
	members := 0
	if !gateway.IsFeedURL(name) && a.tg.IsConfigured() {
		info, err := a.tg.LookupChat(ctx, name)
		if err != nil {
			return override.Result{Error: "channel lookup failed: " + err.Error()}
		}
		if info.Title != "" {
			title = &info.Title
		}
		members = info.MemberCount
	}

	if _, err := a.db.UpsertSource(name, title, members, a.now()); err != nil {
		return override.Result{Error: "saving source: " + err.Error()}
	}
	return a.resubscribed("Added " + name)
}

func (a *App) RemoveSource(_ context.Context, username string) override.Result {
	name := database.NormalizeSource(username)
	if err := a.db.DeleteSource(name); err != nil {
		if database.IsNotFound(err) {
			return override.Result{Error: "source " + name + " not found"}
		}
		return override.Result{Error: "removing source: " + err.Error()}
	}
	return a.resubscribed("Removed " + name)
}

func (a *App) ToggleSource(_ context.Context, username string) override.Result {
	name := database.NormalizeSource(username)
	if err := a.db.ToggleSource(name); err != nil {
		if database.IsNotFound(err) {
			return override.Result{Error: "source " + name + " not found"}
		}
		return override.Result{Error: "toggling source: " + err.Error()}
	}
	src, err := a.db.GetSourceByUsername(name)
	if err != nil {
		return override.Result{Error: err.Error()}
	}
	state := "paused"
	if src.IsActive {
		state = "active"
	}
	return a.resubscribed(name + " is now " + state)
}

func (a *App) resubscribed(msg string) override.Result {
	if err := a.Resubscribe(); err != nil {
		a.log.Error("resubscribe failed", "error", err)
		return override.Result{Success: true, Message: msg + "; resubscribe failed: " + err.Error()}
	}
	return override.Result{Success: true, Message: msg}
}
