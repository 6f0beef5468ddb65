package mailroute

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rbaliyan/mailroute/store"
)

// Plugin defines the interface for engine extensions.
// Plugins can hook into submission and purging to add custom behavior
// such as rate limiting, auditing or metrics.
//
// For observing other transitions (trash, restore, dequeue),
// use the event system instead.
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when the engine connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when the engine closes.
	Close(ctx context.Context) error
}

// SubmitHook is called before and after a message is routed.
type SubmitHook interface {
	Plugin
	// BeforeSubmit runs after validation and before routing.
	// Return an error to reject the message; nothing is persisted.
	BeforeSubmit(ctx context.Context, msg *store.Message) error
	// AfterSubmit runs once the outcome is final. The message carries
	// its assigned ID, zero when discarded. Errors are reported to the
	// caller but the outcome is not rolled back.
	AfterSubmit(ctx context.Context, msg *store.Message, outcome Outcome) error
}

// PurgeHook is called after messages are permanently removed.
type PurgeHook interface {
	Plugin
	// AfterPurge receives the number of removed messages and the reason,
	// store.ReasonExpired or store.ReasonExplicit.
	AfterPurge(ctx context.Context, reason string, count int64) error
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all    []Plugin
	submit []SubmitHook
	purge  []PurgeHook
	logger *slog.Logger
}

// newPluginRegistry creates a new plugin registry.
func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

// register adds a plugin to the registry.
func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(SubmitHook); ok {
		r.submit = append(r.submit, h)
	}
	if h, ok := p.(PurgeHook); ok {
		r.purge = append(r.purge, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

func (r *pluginRegistry) beforeSubmit(ctx context.Context, msg *store.Message) error {
	for _, h := range r.submit {
		if err := h.BeforeSubmit(ctx, msg); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeSubmit", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterSubmit(ctx context.Context, msg *store.Message, outcome Outcome) error {
	for _, h := range r.submit {
		if err := h.AfterSubmit(ctx, msg, outcome); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "AfterSubmit", Err: err}
		}
	}
	return nil
}

// afterPurge runs every purge hook; failures are logged, not returned,
// since the rows are already gone.
func (r *pluginRegistry) afterPurge(ctx context.Context, reason string, count int64) {
	for _, h := range r.purge {
		if err := h.AfterPurge(ctx, reason, count); err != nil {
			r.logger.Warn("purge hook failed", "plugin", h.Name(), "reason", reason, "error", err)
		}
	}
}
