// ABOUTME: Tool catalogue and dispatcher for the printer control surface.
// ABOUTME: Routes named tool calls to handlers backed by the cloud API.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnknownTool marks a call naming a tool outside the catalogue.
var ErrUnknownTool = errors.New("unknown tool")

// ErrInvalidArguments marks arguments that do not decode against the tool's
// input schema.
var ErrInvalidArguments = errors.New("invalid arguments")

// MissingArgumentError is a call missing a required argument. Callers map it
// to their transport's bad-request shape.
type MissingArgumentError struct {
	Name string
}

func (e *MissingArgumentError) Error() string {
	return fmt.Sprintf("missing required argument: %s", e.Name)
}

// TokenSource yields a valid bearer token, performing a login if the cache
// is empty. Implemented by the auth gate.
type TokenSource interface {
	EnsureToken(ctx context.Context) (string, error)
}

// CloudAPI is the slice of the cloud client the tool handlers consume.
type CloudAPI interface {
	PrintStatus(ctx context.Context, token, deviceID string) (json.RawMessage, error)
	DeviceInfo(ctx context.Context, token, deviceID string) (json.RawMessage, error)
	CloudFiles(ctx context.Context, token string) (json.RawMessage, error)
	UploadFile(ctx context.Context, token, path, name string) (json.RawMessage, error)
	StartPrint(ctx context.Context, token, deviceID, fileID string, plate int) (json.RawMessage, error)
	AMSFilaments(ctx context.Context, token, deviceID string) (json.RawMessage, error)
	SlicerSettings(ctx context.Context, token string) (json.RawMessage, error)
}

// Definition describes one tool as advertised over MCP.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Handler executes one tool call.
type Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

type tool struct {
	definition Definition
	handler    Handler
}

// Dispatcher owns the tool catalogue. Every handler that reaches the cloud
// asks the token source first, so an unauthenticated process fails before
// any cloud call is attempted.
type Dispatcher struct {
	tokens   TokenSource
	api      CloudAPI
	deviceID string
	logger   *slog.Logger

	catalogue []tool
	byName    map[string]Handler
}

// New builds the dispatcher with the nine-tool catalogue.
func New(tokens TokenSource, api CloudAPI, deviceID string, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Dispatcher{
		tokens:   tokens,
		api:      api,
		deviceID: deviceID,
		logger:   logger.With("component", "tools"),
	}

	d.catalogue = []tool{
		{
			definition: Definition{
				Name:        "get_printer_status",
				Description: "Get current printer status including temperatures, print progress, and layer information",
				InputSchema: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
			},
			handler: d.getPrinterStatus,
		},
		{
			definition: Definition{
				Name:        "list_cloud_files",
				Description: "List all files stored in Bambu Cloud storage",
				InputSchema: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
			},
			handler: d.listCloudFiles,
		},
		{
			definition: Definition{
				Name:        "upload_file",
				Description: "Upload a 3MF file to Bambu Cloud storage",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"file_path":{"type":"string","description":"Local path to the 3MF file to upload"},"file_name":{"type":"string","description":"Optional custom name for the uploaded file"}},"required":["file_path"]}`),
			},
			handler: d.uploadFile,
		},
		{
			definition: Definition{
				Name:        "start_print",
				Description: "Start a print job from a file in Bambu Cloud",
				InputSchema: json.RawMessage(`{"type":"object","properties":{"file_id":{"type":"string","description":"Cloud file ID to print (from list_cloud_files)"},"plate_number":{"type":"integer","description":"Build plate number (default: 1)","default":1}},"required":["file_id"]}`),
			},
			handler: d.startPrint,
		},
		{
			definition: Definition{
				Name:        "pause_print",
				Description: "Pause the current print job",
				InputSchema: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
			},
			handler: d.pausePrint,
		},
		{
			definition: Definition{
				Name:        "resume_print",
				Description: "Resume a paused print job",
				InputSchema: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
			},
			handler: d.resumePrint,
		},
		{
			definition: Definition{
				Name:        "cancel_print",
				Description: "Cancel the current print job",
				InputSchema: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
			},
			handler: d.cancelPrint,
		},
		{
			definition: Definition{
				Name:        "get_ams_status",
				Description: "Get AMS (Automatic Material System) status with filament slot information",
				InputSchema: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
			},
			handler: d.getAMSStatus,
		},
		{
			definition: Definition{
				Name:        "list_presets",
				Description: "List available Bambu Studio presets (print, filament, machine)",
				InputSchema: json.RawMessage(`{"type":"object","properties":{},"required":[]}`),
			},
			handler: d.listPresets,
		},
	}

	d.byName = make(map[string]Handler, len(d.catalogue))
	for _, t := range d.catalogue {
		d.byName[t.definition.Name] = t.handler
	}

	return d
}

// Definitions returns the catalogue in its advertised order.
func (d *Dispatcher) Definitions() []Definition {
	defs := make([]Definition, len(d.catalogue))
	for i, t := range d.catalogue {
		defs[i] = t.definition
	}
	return defs
}

// Invoke runs the named tool. Nil arguments are treated as an empty object.
func (d *Dispatcher) Invoke(ctx context.Context, name string, args json.RawMessage) (json.RawMessage, error) {
	handler, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	d.logger.Info("tool call", "tool", name)
	result, err := handler(ctx, args)
	if err != nil {
		d.logger.Error("tool call failed", "tool", name, "error", err)
		return nil, err
	}
	return result, nil
}
