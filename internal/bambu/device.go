// ABOUTME: Device, file, and print-task operations on the Bambu Cloud API.
// ABOUTME: Each call takes the bearer token explicitly and returns the raw payload.

package bambu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
)

// PrintStatus fetches the live print report for a device. The payload
// carries the device list with gcode state, progress, and AMS data.
func (c *Client) PrintStatus(ctx context.Context, token, deviceID string) (json.RawMessage, error) {
	query := url.Values{"force": {"true"}}
	if deviceID != "" {
		query.Set("device_id", deviceID)
	}
	return c.doJSON(ctx, "print status", http.MethodGet, userPrintPath, token, query, nil)
}

// DeviceInfo fetches the devices bound to the account.
func (c *Client) DeviceInfo(ctx context.Context, token, deviceID string) (json.RawMessage, error) {
	var query url.Values
	if deviceID != "" {
		query = url.Values{"device_id": {deviceID}}
	}
	return c.doJSON(ctx, "device info", http.MethodGet, userBindPath, token, query, nil)
}

// CloudFiles lists the projects stored in the account's cloud space.
func (c *Client) CloudFiles(ctx context.Context, token string) (json.RawMessage, error) {
	return c.doJSON(ctx, "cloud files", http.MethodGet, userProjectPath, token, nil, nil)
}

// AMSFilaments fetches the AMS filament report for a device. The cloud
// serves it from the same live report as the print status.
func (c *Client) AMSFilaments(ctx context.Context, token, deviceID string) (json.RawMessage, error) {
	query := url.Values{"force": {"true"}}
	if deviceID != "" {
		query.Set("device_id", deviceID)
	}
	return c.doJSON(ctx, "ams filaments", http.MethodGet, userPrintPath, token, query, nil)
}

// SlicerSettings fetches the account's slicer presets.
func (c *Client) SlicerSettings(ctx context.Context, token string) (json.RawMessage, error) {
	query := url.Values{"version": {"undefined"}}
	return c.doJSON(ctx, "slicer settings", http.MethodGet, slicerSettingPath, token, query, nil)
}

// StartPrint queues a cloud print task for an already-uploaded file.
func (c *Client) StartPrint(ctx context.Context, token, deviceID, fileID string, plate int) (json.RawMessage, error) {
	body := map[string]any{
		"device_id":    deviceID,
		"file_id":      fileID,
		"plate_number": plate,
	}
	return c.doJSON(ctx, "start print", http.MethodPost, userTaskPath, token, nil, body)
}

// UploadFile uploads a local 3MF file to the account's cloud space. An empty
// name defaults to the file's base name.
func (c *Client) UploadFile(ctx context.Context, token, path, name string) (json.RawMessage, error) {
	if name == "" {
		name = filepath.Base(path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening upload file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return nil, fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("reading upload file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finishing upload form: %w", err)
	}
	size := buf.Len()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+userProjectPath+"/upload", &buf)
	if err != nil {
		return nil, fmt.Errorf("building upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("reading upload response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Op: "upload file", StatusCode: resp.StatusCode, Message: apiMessage(data)}
	}

	c.logger.Info("file uploaded", "name", name, "size", size)
	return json.RawMessage(data), nil
}
