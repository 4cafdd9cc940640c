// Package printer talks to the machine's Moonraker API: connection
// checks, G-code scripts, artifact upload, print control and manual
// rotary moves in the controller's actuation dialect.
package printer

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"bend5x/pkg/emitter"
	"bend5x/pkg/errors"
	"bend5x/pkg/log"
	"bend5x/pkg/metrics"
)

// DefaultTimeout bounds one API request. Uploads get UploadTimeout
// since artifact files can run to many megabytes over slow links.
const (
	DefaultTimeout = 10 * time.Second
	UploadTimeout  = 30 * time.Second
)

// Rotary stepper names on the production machine.
const (
	StepperA = "a_stepper"
	StepperB = "b_stepper"
)

// Client is a Moonraker API client for one printer.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	upload  *http.Client
	logger  *log.Logger
	metrics *metrics.PipelineMetrics
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the X-Api-Key header on every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithHTTPClient replaces the underlying HTTP clients.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
		c.upload = h
	}
}

// WithMetrics attaches request instruments.
func WithMetrics(pm *metrics.PipelineMetrics) Option {
	return func(c *Client) { c.metrics = pm }
}

// NewClient creates a client for the Moonraker instance at baseURL,
// e.g. "http://172.20.10.4:7125".
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: DefaultTimeout},
		upload:  &http.Client{Timeout: UploadTimeout},
		logger:  log.GetLogger("printer"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// do issues one request and decodes the JSON response into out when
// out is non-nil.
func (c *Client) do(client *http.Client, req *http.Request, endpoint string, out interface{}) error {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
	resp, err := client.Do(req)
	if c.metrics != nil {
		c.metrics.RecordPrinterRequest(endpoint, err)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrPrinter, "request to %s failed", endpoint)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.New(errors.ErrPrinter, "%s returned %d: %s", endpoint, resp.StatusCode, bytes.TrimSpace(body))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, errors.ErrPrinter, "bad response from %s", endpoint)
	}
	return nil
}

func (c *Client) get(ctx context.Context, endpoint string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrPrinter, "bad request for %s", endpoint)
	}
	return c.do(c.http, req, endpoint, out)
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, errors.ErrPrinter, "bad payload for %s", endpoint)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, errors.ErrPrinter, "bad request for %s", endpoint)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(c.http, req, endpoint, out)
}

// TestConnection verifies the Moonraker instance is reachable.
func (c *Client) TestConnection(ctx context.Context) error {
	return c.get(ctx, "/server/info", nil)
}

// SendGCode executes one G-code script line on the printer.
func (c *Client) SendGCode(ctx context.Context, script string) error {
	c.logger.Debug("send: %s", script)
	return c.postJSON(ctx, "/printer/gcode/script", map[string]string{"script": script}, nil)
}

// UploadFile uploads the file at path into the printer's gcodes root
// and returns the stored path.
func (c *Client) UploadFile(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.IOError(err, path)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", errors.Wrap(err, errors.ErrPrinter, "upload encoding failed")
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", errors.IOError(err, path)
	}
	if err := mw.WriteField("root", "gcodes"); err != nil {
		return "", errors.Wrap(err, errors.ErrPrinter, "upload encoding failed")
	}
	if err := mw.Close(); err != nil {
		return "", errors.Wrap(err, errors.ErrPrinter, "upload encoding failed")
	}

	const endpoint = "/server/files/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, &buf)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrPrinter, "bad request for %s", endpoint)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var resp struct {
		Item struct {
			Path string `json:"path"`
		} `json:"item"`
	}
	if err := c.do(c.upload, req, endpoint, &resp); err != nil {
		return "", err
	}
	if resp.Item.Path == "" {
		return "", errors.New(errors.ErrPrinter, "upload response carries no stored path")
	}
	c.logger.Info("uploaded %s as %s", path, resp.Item.Path)
	return resp.Item.Path, nil
}

// StartPrint starts printing the named stored file.
func (c *Client) StartPrint(ctx context.Context, filename string) error {
	return c.postJSON(ctx, "/printer/print/start", map[string]string{"filename": filename}, nil)
}

// UploadAndPrint uploads the file at path and immediately starts it.
func (c *Client) UploadAndPrint(ctx context.Context, path string) error {
	stored, err := c.UploadFile(ctx, path)
	if err != nil {
		return err
	}
	return c.StartPrint(ctx, stored)
}

// Status is a point-in-time printer status snapshot.
type Status struct {
	PrintStats struct {
		State    string  `json:"state"`
		Filename string  `json:"filename"`
		Duration float64 `json:"print_duration"`
	} `json:"print_stats"`
	Toolhead struct {
		Position    []float64 `json:"position"`
		HomedAxes   string    `json:"homed_axes"`
		MaxVelocity float64   `json:"max_velocity"`
	} `json:"toolhead"`
	Extruder struct {
		Temperature float64 `json:"temperature"`
		Target      float64 `json:"target"`
	} `json:"extruder"`
}

// QueryStatus fetches the print_stats, toolhead and extruder objects.
func (c *Client) QueryStatus(ctx context.Context) (*Status, error) {
	var resp struct {
		Result struct {
			Status Status `json:"status"`
		} `json:"result"`
	}
	err := c.get(ctx, "/printer/objects/query?print_stats&toolhead&extruder", &resp)
	if err != nil {
		return nil, err
	}
	return &resp.Result.Status, nil
}

// EmergencyStop halts the printer immediately.
func (c *Client) EmergencyStop(ctx context.Context) error {
	return c.SendGCode(ctx, "M112")
}

// HomeAll homes all axes.
func (c *Client) HomeAll(ctx context.Context) error {
	return c.SendGCode(ctx, "G28")
}

// MoveStepper moves a rotary stepper to an absolute angle in degrees.
func (c *Client) MoveStepper(ctx context.Context, stepper string, deg float64) error {
	return c.SendGCode(ctx, emitter.ActuationCommand(stepper, deg))
}

// runSequence sends commands in order, stopping at the first failure.
func (c *Client) runSequence(ctx context.Context, name string, commands []string) error {
	c.logger.Info("running %s sequence (%d commands)", name, len(commands))
	for i, cmd := range commands {
		if err := c.SendGCode(ctx, cmd); err != nil {
			return errors.Wrap(err, errors.ErrPrinter, "%s sequence failed at step %d/%d (%s)",
				name, i+1, len(commands), cmd)
		}
	}
	return nil
}

// MassProductionSetup raises Z by 15mm and parks the rotary axes at
// A=90, B=-45 for the batch fixture.
func (c *Client) MassProductionSetup(ctx context.Context) error {
	return c.runSequence(ctx, "mass production setup", []string{
		"G91",
		"G1 Z15 F1000",
		"G90",
		emitter.ActuationCommand(StepperA, 90),
		emitter.ActuationCommand(StepperB, -45),
	})
}

// FiveAxisSetup raises Z by 25mm and parks B at -90 for bent prints.
func (c *Client) FiveAxisSetup(ctx context.Context) error {
	return c.runSequence(ctx, "five axis setup", []string{
		"G91",
		"G1 Z25 F1000",
		"G90",
		emitter.ActuationCommand(StepperB, -90),
	})
}
