// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/metrics"
)

const maxResponseBytes = 16 << 20

// HTTPConfig configures the HTTP client.
type HTTPConfig struct {
	// PingURL is fetched to decide whether the service is reachable.
	PingURL string
	// Timeout bounds every request.
	Timeout time.Duration
	// ProxyPath, when set, turns every request URL into "<proxy>?<url>".
	ProxyPath string
	// Token is sent as a bearer token when non-empty.
	Token string
}

// HTTPClient talks to the feature service over JSON/HTTP:
//
//	POST <layer>/applyEdits                 {"adds":[],"updates":[],"deletes":[]}
//	POST <layer>/<oid>/addAttachment        multipart "attachment"
//	POST <layer>/<oid>/updateAttachment     multipart "attachment", "attachmentId"
//	POST <layer>/<oid>/deleteAttachments    {"attachmentIds":[]}
type HTTPClient struct {
	hc  *http.Client
	cfg HTTPConfig
}

// NewHTTPClient returns a client. A nil hc uses http.DefaultTransport.
func NewHTTPClient(hc *http.Client, cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport}
	}
	return &HTTPClient{hc: hc, cfg: cfg}
}

func (c *HTTPClient) target(u string) string {
	if c.cfg.ProxyPath == "" {
		return u
	}
	return c.cfg.ProxyPath + "?" + u
}

type applyEditsRequest struct {
	Adds    []*geojson.Feature `json:"adds"`
	Updates []*geojson.Feature `json:"updates"`
	Deletes []*geojson.Feature `json:"deletes"`
}

// ApplyBulkEdit implements FeatureTransport.
func (c *HTTPClient) ApplyBulkEdit(ctx context.Context, layer string, adds, updates, deletes []*geojson.Feature) (*BulkEditResult, error) {
	body, err := json.Marshal(applyEditsRequest{
		Adds:    nonNil(adds),
		Updates: nonNil(updates),
		Deletes: nonNil(deletes),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal edits for %s: %w", layer, err)
	}

	var out BulkEditResult
	if err := c.do(ctx, "applyEdits", layer, layer+"/applyEdits", "application/json", body, &out); err != nil {
		return nil, err
	}
	if len(out.AddResults) != len(adds) || len(out.UpdateResults) != len(updates) || len(out.DeleteResults) != len(deletes) {
		return nil, &TransportError{Op: "applyEdits", Layer: layer, Err: fmt.Errorf("%w: result count mismatch", ErrUnexpectedResponse)}
	}
	return &out, nil
}

type attachmentEnvelope struct {
	AddAttachmentResult    *AttachmentResult `json:"addAttachmentResult"`
	UpdateAttachmentResult *AttachmentResult `json:"updateAttachmentResult"`
}

// AddAttachment implements AttachmentTransport.
func (c *HTTPClient) AddAttachment(ctx context.Context, layer, objectID string, file Upload) (*AttachmentResult, error) {
	body, ctype, err := multipartBody(file, nil)
	if err != nil {
		return nil, err
	}
	var env attachmentEnvelope
	if err := c.do(ctx, "addAttachment", layer, layer+"/"+objectID+"/addAttachment", ctype, body, &env); err != nil {
		return nil, err
	}
	if env.AddAttachmentResult == nil {
		return nil, &TransportError{Op: "addAttachment", Layer: layer, Err: ErrUnexpectedResponse}
	}
	return env.AddAttachmentResult, nil
}

// UpdateAttachment implements AttachmentTransport.
func (c *HTTPClient) UpdateAttachment(ctx context.Context, layer, objectID string, attachmentID int64, file Upload) (*AttachmentResult, error) {
	body, ctype, err := multipartBody(file, map[string]string{"attachmentId": strconv.FormatInt(attachmentID, 10)})
	if err != nil {
		return nil, err
	}
	var env attachmentEnvelope
	if err := c.do(ctx, "updateAttachment", layer, layer+"/"+objectID+"/updateAttachment", ctype, body, &env); err != nil {
		return nil, err
	}
	if env.UpdateAttachmentResult == nil {
		return nil, &TransportError{Op: "updateAttachment", Layer: layer, Err: ErrUnexpectedResponse}
	}
	return env.UpdateAttachmentResult, nil
}

// DeleteAttachments implements AttachmentTransport.
func (c *HTTPClient) DeleteAttachments(ctx context.Context, layer, objectID string, attachmentIDs []int64) ([]AttachmentResult, error) {
	body, err := json.Marshal(map[string][]int64{"attachmentIds": attachmentIDs})
	if err != nil {
		return nil, err
	}
	var env struct {
		DeleteAttachmentResults []AttachmentResult `json:"deleteAttachmentResults"`
	}
	if err := c.do(ctx, "deleteAttachments", layer, layer+"/"+objectID+"/deleteAttachments", "application/json", body, &env); err != nil {
		return nil, err
	}
	if len(env.DeleteAttachmentResults) != len(attachmentIDs) {
		return nil, &TransportError{Op: "deleteAttachments", Layer: layer, Err: fmt.Errorf("%w: result count mismatch", ErrUnexpectedResponse)}
	}
	return env.DeleteAttachmentResults, nil
}

// Ping implements Pinger. Any response below 500 counts as reachable.
func (c *HTTPClient) Ping(ctx context.Context) error {
	if c.cfg.PingURL == "" {
		return &TransportError{Op: "ping", Err: fmt.Errorf("no ping url configured")}
	}
	start := time.Now()
	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodGet, c.target(c.cfg.PingURL), http.NoBody)
	if err != nil {
		return &TransportError{Op: "ping", Err: err}
	}
	c.authorize(req)
	resp, err := c.hc.Do(req)
	if err != nil {
		err = classify(ctx, err, "ping", c.cfg.PingURL, c.cfg.Timeout)
		metrics.RecordTransportRequest("ping", resultOf(err), time.Since(start))
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		metrics.RecordTransportRequest("ping", "error", time.Since(start))
		return &TransportError{Op: "ping", StatusCode: resp.StatusCode, Err: fmt.Errorf("service unavailable")}
	}
	metrics.RecordTransportRequest("ping", "ok", time.Since(start))
	return nil
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func (c *HTTPClient) do(ctx context.Context, op, layer, url, contentType string, body []byte, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		metrics.RecordTransportRequest(op, resultOf(err), time.Since(start))
	}()

	rctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, c.target(url), bytes.NewReader(body))
	if err != nil {
		return &TransportError{Op: op, Layer: layer, Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return classify(ctx, err, op, layer, c.cfg.Timeout)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classify(ctx, err, op, layer, c.cfg.Timeout)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{Op: op, Layer: layer, StatusCode: resp.StatusCode, Err: fmt.Errorf("%s", snippet(data))}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Op: op, Layer: layer, Err: fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)}
	}

	logging.Ctx(ctx).Debug().
		Str("op", op).
		Str("layer", layer).
		Dur("took", time.Since(start)).
		Msg("Feature service call completed")
	return nil
}

func multipartBody(file Upload, fields map[string]string) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="attachment"; filename=%q`, file.Name))
	ctype := file.ContentType
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	h.Set("Content-Type", ctype)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(file.Content); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func nonNil(fs []*geojson.Feature) []*geojson.Feature {
	if fs == nil {
		return []*geojson.Feature{}
	}
	return fs
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	if s == "" {
		return "empty body"
	}
	return s
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return "timeout"
	}
	return "error"
}
