package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"glyph-ide/internal/domain"
)

// Deactivator forcibly stops a running extension. The lifecycle
// Controller is the production implementation.
type Deactivator interface {
	Deactivate(ctx context.Context, id string) error
}

// Dispatcher routes command invocations to the activated extension that
// registered them.
type Dispatcher struct {
	registry  *Registry
	bus       domain.EventBus
	lifecycle Deactivator
	logger    *slog.Logger
}

// NewDispatcher builds a Dispatcher. The Deactivator reclaims guests
// whose handlers overrun the execution deadline.
func NewDispatcher(registry *Registry, bus domain.EventBus, lifecycle Deactivator, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{registry: registry, bus: bus, lifecycle: lifecycle, logger: logger}
}

// Execute invokes a registered command. Arguments are marshaled to JSON
// and handed to the guest through its dedicated "cmd_<id>" export, or
// the generic "handle_command" export when no dedicated one exists. An
// owner exporting neither is a registration bug, reported as invalid
// input rather than an unknown command.
func (d *Dispatcher) Execute(ctx context.Context, commandID string, args map[string]any) error {
	const op = "extension.Execute"

	owner := d.owner(commandID)
	if owner == nil {
		return domain.WrapOp(op, fmt.Errorf("%w: %q", domain.ErrCommandNotFound, commandID))
	}

	guest := owner.Sandbox()
	if guest == nil {
		return domain.WrapOp(op, fmt.Errorf("%w: %q", domain.ErrCommandNotFound, commandID))
	}

	argJSON, err := json.Marshal(args)
	if err != nil {
		return domain.WrapOp(op, fmt.Errorf("%w: marshal args: %v", domain.ErrInvalidInput, err))
	}

	if err := d.invoke(ctx, guest, commandID, argJSON); err != nil {
		// A deadline kill leaves the module closed; the instance must
		// not stay registered as activated with dead handles.
		if errors.Is(err, domain.ErrTimeout) {
			d.quarantine(ctx, owner.ID, commandID)
		}
		return domain.WrapOp(op, err)
	}

	d.logger.Info("command executed", "command", commandID, "extension", owner.ID)
	if d.bus != nil {
		payload, _ := json.Marshal(map[string]any{"command": commandID})
		d.bus.Publish(ctx, domain.Event{
			Type:      domain.EventCommandExecuted,
			Timestamp: time.Now(),
			Extension: owner.ID,
			Payload:   payload,
		})
	}
	return nil
}

// Commands lists every command registered by activated extensions.
func (d *Dispatcher) Commands() []domain.RegisteredCommand {
	var out []domain.RegisteredCommand
	for _, inst := range d.registry.List() {
		if inst.State() != domain.StateActivated {
			continue
		}
		out = append(out, inst.Commands()...)
	}
	return out
}

func (d *Dispatcher) owner(commandID string) *Instance {
	for _, inst := range d.registry.List() {
		if inst.State() != domain.StateActivated {
			continue
		}
		if _, ok := inst.Command(commandID); ok {
			return inst
		}
	}
	return nil
}

// quarantine tears down an extension whose guest was killed mid-call.
func (d *Dispatcher) quarantine(ctx context.Context, extensionID, commandID string) {
	d.logger.Warn("command timed out, deactivating extension",
		"command", commandID, "extension", extensionID)
	if d.lifecycle == nil {
		return
	}
	if err := d.lifecycle.Deactivate(ctx, extensionID); err != nil {
		d.logger.Error("deactivate after timeout failed", "extension", extensionID, "error", err)
	}
}

func (d *Dispatcher) invoke(ctx context.Context, guest Guest, commandID string, argJSON []byte) error {
	if dedicated := "cmd_" + sanitizeExport(commandID); guest.HasExport(dedicated) {
		argPtr, argLen, err := guest.WriteString(ctx, string(argJSON))
		if err != nil {
			return err
		}
		_, err = guest.CallExport(ctx, dedicated, uint64(argPtr), uint64(argLen))
		return err
	}

	if guest.HasExport("handle_command") {
		idPtr, idLen, err := guest.WriteString(ctx, commandID)
		if err != nil {
			return err
		}
		argPtr, argLen, err := guest.WriteString(ctx, string(argJSON))
		if err != nil {
			return err
		}
		_, err = guest.CallExport(ctx, "handle_command",
			uint64(idPtr), uint64(idLen), uint64(argPtr), uint64(argLen))
		return err
	}

	return fmt.Errorf("%w: extension registered %q but exports no handler", domain.ErrInvalidInput, commandID)
}

// sanitizeExport maps a command ID onto the export character set:
// anything outside [A-Za-z0-9_] becomes an underscore, so
// "glyph.fmt-doc" looks for "cmd_glyph_fmt_doc".
func sanitizeExport(id string) string {
	out := []byte(id)
	for i, ch := range out {
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9', ch == '_':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
