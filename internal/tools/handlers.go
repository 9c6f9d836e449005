// ABOUTME: The nine tool handlers behind the dispatcher.
// ABOUTME: Each cloud-backed handler ensures a token, makes one call, reshapes the payload.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Fixed identifiers of the deployment's AMS unit; the cloud report does not
// carry them.
const (
	amsSerial = "19C06A5A3100241"
	amsModel  = "AMS 2 Pro"
)

func (d *Dispatcher) getPrinterStatus(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	token, err := d.tokens.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}

	printStatus, err := d.api.PrintStatus(ctx, token, d.deviceID)
	if err != nil {
		return nil, err
	}
	deviceInfo, err := d.api.DeviceInfo(ctx, token, d.deviceID)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"device_id":    d.deviceID,
		"device_info":  deviceInfo,
		"print_status": printStatus,
		"status":       gcodeState(printStatus),
	})
}

// gcodeState extracts the printer's gcode state from a status payload. The
// cloud serves it either at the top level or inside the devices list.
func gcodeState(payload json.RawMessage) string {
	var top struct {
		GcodeState string `json:"gcode_state"`
		Devices    []struct {
			GcodeState string `json:"gcode_state"`
		} `json:"devices"`
	}
	if err := json.Unmarshal(payload, &top); err != nil {
		return "unknown"
	}
	if top.GcodeState != "" {
		return top.GcodeState
	}
	for _, dev := range top.Devices {
		if dev.GcodeState != "" {
			return dev.GcodeState
		}
	}
	return "unknown"
}

func (d *Dispatcher) listCloudFiles(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	token, err := d.tokens.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := d.api.CloudFiles(ctx, token)
	if err != nil {
		return nil, err
	}

	// The cloud answers with either a bare array or {"files": [...]}.
	files := []json.RawMessage{}
	if err := json.Unmarshal(raw, &files); err != nil {
		var wrapped struct {
			Files []json.RawMessage `json:"files"`
		}
		if err := json.Unmarshal(raw, &wrapped); err == nil {
			files = wrapped.Files
		}
	}
	if files == nil {
		files = []json.RawMessage{}
	}

	return json.Marshal(map[string]any{
		"files":        files,
		"total_count":  len(files),
		"raw_response": raw,
	})
}

type uploadFileInput struct {
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
}

func (d *Dispatcher) uploadFile(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in uploadFileInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if in.FilePath == "" {
		return nil, &MissingArgumentError{Name: "file_path"}
	}

	token, err := d.tokens.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}

	result, err := d.api.UploadFile(ctx, token, in.FilePath, in.FileName)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"success": true,
		"result":  result,
		"message": "File uploaded successfully",
	})
}

type startPrintInput struct {
	FileID      string `json:"file_id"`
	PlateNumber *int   `json:"plate_number"`
}

func (d *Dispatcher) startPrint(ctx context.Context, args json.RawMessage) (json.RawMessage, error) {
	var in startPrintInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if in.FileID == "" {
		return nil, &MissingArgumentError{Name: "file_id"}
	}
	plate := 1
	if in.PlateNumber != nil {
		plate = *in.PlateNumber
	}

	token, err := d.tokens.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}

	result, err := d.api.StartPrint(ctx, token, d.deviceID, in.FileID, plate)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"success": true,
		"result":  result,
		"message": "Print started successfully",
	})
}

// Pause, resume, and cancel need the MQTT control channel or the Tasks API,
// neither of which the cloud HTTP surface exposes. They answer without
// touching the token source so an unauthenticated process can still report
// the limitation.

func (d *Dispatcher) pausePrint(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return notImplemented("Pause")
}

func (d *Dispatcher) resumePrint(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return notImplemented("Resume")
}

func (d *Dispatcher) cancelPrint(_ context.Context, _ json.RawMessage) (json.RawMessage, error) {
	return notImplemented("Cancel")
}

func notImplemented(verb string) (json.RawMessage, error) {
	return json.Marshal(map[string]any{
		"success": false,
		"message": fmt.Sprintf("%s functionality requires MQTT or Tasks API - not yet implemented", verb),
	})
}

func (d *Dispatcher) getAMSStatus(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	token, err := d.tokens.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}

	amsData, err := d.api.AMSFilaments(ctx, token, d.deviceID)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{
		"ams_serial": amsSerial,
		"ams_model":  amsModel,
		"device_id":  d.deviceID,
		"ams_data":   amsData,
	})
}

func (d *Dispatcher) listPresets(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
	token, err := d.tokens.EnsureToken(ctx)
	if err != nil {
		return nil, err
	}

	slicerSettings, err := d.api.SlicerSettings(ctx, token)
	if err != nil {
		// Preset listing degrades instead of erroring; the cloud does not
		// serve it for every account.
		d.logger.Warn("preset listing not supported", "error", err)
		return json.Marshal(map[string]any{
			"supported": false,
			"message":   "Preset listing not available via Cloud API. Use Bambu Studio locally.",
		})
	}

	return json.Marshal(map[string]any{
		"supported":       true,
		"slicer_settings": slicerSettings,
	})
}
