package extruct

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/shpitdev/extruct-enrichment/pkg/jobwait"
)

// ErrMissingRowID is returned when an add-rows response carries no row id.
var ErrMissingRowID = errors.New("extruct: add rows response has no row id")

// Client is a minimal client for the table/row endpoints used by this module.
type Client struct {
	baseURL string
	http    *resty.Client
}

// ClientOptions tunes the HTTP transport. The zero value is usable.
type ClientOptions struct {
	// Timeout bounds a single HTTP request. Defaults to 30s.
	Timeout time.Duration
	// Retries is the number of extra attempts for idempotent GETs that fail with a
	// network error, 429 or 5xx. Negative disables; zero means the default of 2.
	Retries int
	// RetryWait is the initial wait between GET retries. Defaults to 250ms.
	RetryWait time.Duration
	// RetryMaxWait caps the wait between GET retries. Defaults to 3s.
	RetryMaxWait time.Duration

	// CAPath is an optional PEM bundle used as the TLS trust store.
	CAPath string
	// UserAgent defaults to "extruct-enrichment".
	UserAgent string
	// Transport overrides the HTTP round tripper (tests).
	Transport http.RoundTripper
	// Logger receives resty's retry and transport warnings. Nil discards them.
	Logger *slog.Logger
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retries == 0 {
		o.Retries = 2
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.RetryWait <= 0 {
		o.RetryWait = 250 * time.Millisecond
	}
	if o.RetryMaxWait <= 0 {
		o.RetryMaxWait = 3 * time.Second
	}
	if strings.TrimSpace(o.UserAgent) == "" {
		o.UserAgent = "extruct-enrichment"
	}
	return o
}

// NewClient constructs a client for the given credentials.
func NewClient(creds Credentials, opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(creds.APIToken) == "" {
		return nil, fmt.Errorf("extruct api token is required")
	}
	base, err := normalizeBaseURL(creds.BaseURL)
	if err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	rc := resty.New().
		SetBaseURL(base).
		SetTimeout(opts.Timeout).
		SetAuthToken(strings.TrimSpace(creds.APIToken)).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", opts.UserAgent).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(opts.RetryMaxWait).
		AddRetryCondition(retryIdempotent).
		SetLogger(newRestyLogger(opts.Logger))

	if opts.Transport != nil {
		rc.SetTransport(opts.Transport)
	}
	if strings.TrimSpace(opts.CAPath) != "" {
		tlsCfg, err := tlsConfigFromCA(opts.CAPath)
		if err != nil {
			return nil, err
		}
		rc.SetTLSClientConfig(tlsCfg)
	}

	return &Client{baseURL: base, http: rc}, nil
}

// BaseURL returns the normalized API base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func tlsConfigFromCA(caPath string) (*tls.Config, error) {
	b, err := os.ReadFile(strings.TrimSpace(caPath))
	if err != nil {
		return nil, fmt.Errorf("read CA bundle: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(b); !ok {
		return nil, fmt.Errorf("parse CA bundle PEM: no certs found")
	}
	return &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}, nil
}

// retryIdempotent retries GETs only: a replayed POST would add the row twice.
func retryIdempotent(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || r.Request.Method != http.MethodGet {
		return false
	}
	if err != nil {
		return IsTransient(err)
	}
	return IsTransient(&HTTPError{StatusCode: r.StatusCode()})
}

// Row is one table row as returned by the add-rows endpoint.
type Row struct {
	ID   string
	Data map[string]any
}

// Record is a row payload as returned by the row endpoint.
type Record map[string]any

// Table is the subset of table metadata this module relies on.
type Table struct {
	ID        string
	Name      string
	RunStatus jobwait.Status
	Raw       json.RawMessage
}

// TableData is the current content of a table.
type TableData struct {
	Rows []map[string]any
	Raw  json.RawMessage
}

// DataQuery pages through table data. Zero values are omitted from the request.
type DataQuery struct {
	Offset int
	Limit  int
}

type addRowsRequest struct {
	Rows []rowInput `json:"rows"`
	Run  bool       `json:"run"`
}

type rowInput struct {
	Data map[string]string `json:"data"`
}

// AddRows appends one row per input to the table. With run set, enrichment starts immediately.
func (c *Client) AddRows(ctx context.Context, tableID string, inputs []string, run bool) ([]Row, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return nil, fmt.Errorf("table id is required")
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("at least one input is required")
	}

	body := addRowsRequest{Run: run}
	for _, in := range inputs {
		body.Rows = append(body.Rows, rowInput{Data: map[string]string{"input": strings.TrimSpace(in)}})
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("tableId", tableID).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post("/v1/tables/{tableId}/rows")
	if err != nil {
		return nil, fmt.Errorf("addRows: %w", err)
	}
	if resp.IsError() {
		return nil, newHTTPError("addRows", resp)
	}

	rows, err := parseRows(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("parse add rows response: %w", err)
	}
	if len(rows) == 0 || rows[0].ID == "" {
		return rows, ErrMissingRowID
	}
	return rows, nil
}

// GetTable fetches table metadata including the current run status.
func (c *Client) GetTable(ctx context.Context, tableID string) (Table, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return Table{}, fmt.Errorf("table id is required")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("tableId", tableID).
		Get("/v1/tables/{tableId}")
	if err != nil {
		return Table{}, fmt.Errorf("getTable: %w", err)
	}
	if resp.IsError() {
		return Table{}, newHTTPError("getTable", resp)
	}

	b := resp.Body()
	if !gjson.ValidBytes(b) {
		return Table{}, fmt.Errorf("parse get table response: invalid json")
	}
	return tableFromJSON(gjson.ParseBytes(b)), nil
}

// RunStatus returns the table's current run status. It has the shape of a jobwait.FetchFunc
// once the table id is bound.
func (c *Client) RunStatus(ctx context.Context, tableID string) (jobwait.Status, error) {
	t, err := c.GetTable(ctx, tableID)
	if err != nil {
		return "", err
	}
	return t.RunStatus, nil
}

// RunStatusFunc binds tableID into a status fetch for jobwait.
func (c *Client) RunStatusFunc(tableID string) jobwait.FetchFunc {
	return func(ctx context.Context) (jobwait.Status, error) {
		return c.RunStatus(ctx, tableID)
	}
}

// GetRow fetches one row with its enrichment results.
func (c *Client) GetRow(ctx context.Context, tableID, rowID string) (Record, error) {
	tableID = strings.TrimSpace(tableID)
	rowID = strings.TrimSpace(rowID)
	if tableID == "" || rowID == "" {
		return nil, fmt.Errorf("table id and row id are required")
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"tableId": tableID, "rowId": rowID}).
		Get("/v1/tables/{tableId}/rows/{rowId}")
	if err != nil {
		return nil, fmt.Errorf("getRow: %w", err)
	}
	if resp.IsError() {
		return nil, newHTTPError("getRow", resp)
	}

	var out Record
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("parse get row response: %w", err)
	}
	return out, nil
}

// GetTableData fetches the current table content.
func (c *Client) GetTableData(ctx context.Context, tableID string, q DataQuery) (TableData, error) {
	tableID = strings.TrimSpace(tableID)
	if tableID == "" {
		return TableData{}, fmt.Errorf("table id is required")
	}

	req := c.http.R().
		SetContext(ctx).
		SetPathParam("tableId", tableID)
	if q.Offset > 0 {
		req.SetQueryParam("offset", strconv.Itoa(q.Offset))
	}
	if q.Limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(q.Limit))
	}

	resp, err := req.Get("/v1/tables/{tableId}/data")
	if err != nil {
		return TableData{}, fmt.Errorf("getTableData: %w", err)
	}
	if resp.IsError() {
		return TableData{}, newHTTPError("getTableData", resp)
	}

	b := resp.Body()
	if !gjson.ValidBytes(b) {
		return TableData{}, fmt.Errorf("parse table data response: invalid json")
	}
	list, ok := findList(gjson.ParseBytes(b))
	if !ok {
		return TableData{}, fmt.Errorf("parse table data response: unexpected json shape")
	}
	rows := make([]map[string]any, 0, len(list))
	for _, item := range list {
		m, ok := item.Value().(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, m)
	}
	return TableData{Rows: rows, Raw: json.RawMessage(append([]byte(nil), b...))}, nil
}

// ListTables lists the tables visible to the token. It doubles as the credential check.
func (c *Client) ListTables(ctx context.Context) ([]Table, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/v1/tables")
	if err != nil {
		return nil, fmt.Errorf("listTables: %w", err)
	}
	if resp.IsError() {
		return nil, newHTTPError("listTables", resp)
	}

	b := resp.Body()
	if !gjson.ValidBytes(b) {
		return nil, fmt.Errorf("parse list tables response: invalid json")
	}
	list, ok := findList(gjson.ParseBytes(b))
	if !ok {
		return nil, fmt.Errorf("parse list tables response: unexpected json shape")
	}
	out := make([]Table, 0, len(list))
	for _, item := range list {
		if !item.IsObject() {
			continue
		}
		out = append(out, tableFromJSON(item))
	}
	return out, nil
}

func tableFromJSON(v gjson.Result) Table {
	status := v.Get("status.run_status")
	if !status.Exists() {
		status = v.Get("run_status")
	}
	return Table{
		ID:        strings.TrimSpace(v.Get("id").String()),
		Name:      strings.TrimSpace(v.Get("name").String()),
		RunStatus: jobwait.Status(strings.TrimSpace(status.String())),
		Raw:       json.RawMessage(v.Raw),
	}
}

func parseRows(body []byte) ([]Row, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid json")
	}
	list, ok := findList(gjson.ParseBytes(body))
	if !ok {
		return nil, fmt.Errorf("unexpected json shape")
	}
	out := make([]Row, 0, len(list))
	for _, item := range list {
		if !item.IsObject() {
			continue
		}
		row := Row{ID: strings.TrimSpace(item.Get("id").String())}
		if data, ok := item.Get("data").Value().(map[string]any); ok {
			row.Data = data
		}
		out = append(out, row)
	}
	return out, nil
}

// findList returns the record list of a response. Response shapes vary between API versions:
// a bare array, or an object wrapping the array under a well-known key.
func findList(v gjson.Result) ([]gjson.Result, bool) {
	if v.IsArray() {
		return v.Array(), true
	}
	if !v.IsObject() {
		return nil, false
	}
	for _, key := range []string{"rows", "data", "items", "results", "tables"} {
		if inner := v.Get(key); inner.IsArray() {
			return inner.Array(), true
		}
	}
	return nil, false
}
