package storeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"wa-scheduler/internal/domain"
	"wa-scheduler/internal/infra/metrics"
)

var (
	_ domain.ScheduleStore = (*Client)(nil)
	_ domain.FinishedStore = (*Client)(nil)
	_ domain.GroupRepo     = (*Client)(nil)
)

// Client — HTTP клиент API хранилища расписаний.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	token      string
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient задаёт http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout задаёт таймаут запросов.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if c.httpClient == nil {
			c.httpClient = &http.Client{}
		}
		c.httpClient.Timeout = timeout
	}
}

// WithToken задаёт токен API.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// New создаёт клиента.
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}
	client := &Client{
		baseURL:    parsed,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Fetch читает канонический список.
func (c *Client) Fetch(ctx context.Context) ([]domain.Entry, error) {
	var entries []domain.Entry
	if err := c.get(ctx, "/schedules", &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.Entry{}
	}
	return entries, nil
}

// LoadResult — ответ на замену списка.
type LoadResult struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// Replace заменяет канонический список целиком.
func (c *Client) Replace(ctx context.Context, entries []domain.Entry) error {
	if entries == nil {
		entries = []domain.Entry{}
	}
	var res LoadResult
	return c.post(ctx, "/schedules/load", map[string]any{"entries": entries}, &res)
}

// Reload просит сервер перечитать список из своего хранилища.
func (c *Client) Reload(ctx context.Context) (LoadResult, error) {
	var res LoadResult
	err := c.post(ctx, "/schedules/load", map[string]any{}, &res)
	return res, err
}

// ListFinished возвращает архив.
func (c *Client) ListFinished(ctx context.Context) ([]domain.Entry, error) {
	var entries []domain.Entry
	if err := c.get(ctx, "/finished-schedules", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// AppendFinished добавляет запись в архив.
func (c *Client) AppendFinished(ctx context.Context, e domain.Entry) error {
	return c.post(ctx, "/finished-schedules", e, nil)
}

// DeleteFinished удаляет запись архива по позиции.
func (c *Client) DeleteFinished(ctx context.Context, index int) error {
	return c.delete(ctx, "/finished-schedules/"+strconv.Itoa(index))
}

// ClearFinished очищает архив.
func (c *Client) ClearFinished(ctx context.Context) error {
	return c.delete(ctx, "/finished-schedules")
}

// ListGroups возвращает сохранённые группы.
func (c *Client) ListGroups(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.get(ctx, "/group-names", &names); err != nil {
		return nil, err
	}
	return names, nil
}

// AddGroup сохраняет группу.
func (c *Client) AddGroup(ctx context.Context, name string) error {
	var res struct {
		Status string `json:"status"`
	}
	if err := c.post(ctx, "/group-names", map[string]string{"name": name}, &res); err != nil {
		return err
	}
	if res.Status == "exists" {
		return domain.ErrGroupExists
	}
	return nil
}

// DeleteGroup удаляет группу.
func (c *Client) DeleteGroup(ctx context.Context, name string) error {
	return c.delete(ctx, "/group-names/"+url.PathEscape(name))
}

// SchedulerStatus описывает состояние движка доставки.
type SchedulerStatus struct {
	Running bool   `json:"running"`
	Count   int    `json:"count,omitempty"`
	Message string `json:"message,omitempty"`
}

// SchedulerStatus возвращает состояние движка.
func (c *Client) SchedulerStatus(ctx context.Context) (SchedulerStatus, error) {
	var st SchedulerStatus
	err := c.get(ctx, "/scheduler/status", &st)
	return st, err
}

// StartScheduler запускает движок.
func (c *Client) StartScheduler(ctx context.Context) (SchedulerStatus, error) {
	var st SchedulerStatus
	err := c.post(ctx, "/scheduler/start", nil, &st)
	return st, err
}

// StopScheduler останавливает движок.
func (c *Client) StopScheduler(ctx context.Context) (SchedulerStatus, error) {
	var st SchedulerStatus
	err := c.post(ctx, "/scheduler/stop", nil, &st)
	return st, err
}

// UploadResult — ответ на загрузку файла.
type UploadResult struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
	Path     string `json:"path"`
	Size     string `json:"size,omitempty"`
}

// Upload загружает медиафайл и возвращает абсолютный путь на сервере.
func (c *Client) Upload(ctx context.Context, filename string, r io.Reader) (UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return UploadResult{}, fmt.Errorf("create form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return UploadResult{}, fmt.Errorf("read file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return UploadResult{}, fmt.Errorf("close form: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/upload", nil)
	if err != nil {
		return UploadResult{}, err
	}
	req.Body = io.NopCloser(&buf)
	req.ContentLength = int64(buf.Len())
	req.Header.Set("Content-Type", mw.FormDataContentType())
	var res UploadResult
	err = c.do(req, "upload", &res)
	return res, err
}

func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, operation(http.MethodGet, endpoint), out)
}

func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return err
	}
	return c.do(req, operation(http.MethodPost, endpoint), out)
}

func (c *Client) delete(ctx context.Context, endpoint string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}
	return c.do(req, operation(http.MethodDelete, endpoint), nil)
}

func operation(method, endpoint string) string {
	parts := strings.Split(strings.Trim(endpoint, "/"), "/")
	return strings.ToLower(method) + "_" + parts[0]
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, body any) (*http.Request, error) {
	resolved := *c.baseURL
	basePath := strings.TrimSuffix(c.baseURL.Path, "/")
	resolved.Path = path.Clean(basePath + endpoint)
	resolved.RawPath = ""
	var buf io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		buf = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.ObserveNetworkRequest("store_api", op, c.baseURL.Host, start, err)
	if err != nil {
		return fmt.Errorf("store api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr apiError
		data, readErr := io.ReadAll(resp.Body)
		if readErr == nil && len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Error == "" {
			apiErr.Error = strings.TrimSpace(string(data))
		}
		return mapAPIError(resp.StatusCode, apiErr)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func mapAPIError(status int, err apiError) error {
	switch err.Code {
	case "index_out_of_range":
		return fmt.Errorf("%w: %s", domain.ErrIndexOutOfRange, err.Error)
	case "group_not_found":
		return domain.ErrGroupNotFound
	case "not_found":
		return fmt.Errorf("%w: %s", domain.ErrEntryNotFound, err.Error)
	case "invalid_request":
		return fmt.Errorf("store api invalid request: %s", err.Error)
	case "":
		return fmt.Errorf("store api error: status=%d message=%s", status, err.Error)
	default:
		return fmt.Errorf("store api error [%s]: %s", err.Code, err.Error)
	}
}
