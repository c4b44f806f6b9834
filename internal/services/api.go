// Generative cover API client (kie.ai Suno compatible)
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrCoverAPI is returned when the cover API rejects a request.
	ErrCoverAPI = errors.New("cover api error")
	// ErrCoverRejected is a terminal task status other than success.
	ErrCoverRejected = errors.New("cover generation failed")
)

// Task statuses reported by the cover API.
const (
	TaskPending         = "PENDING"
	TaskFirstSuccess    = "FIRST_SUCCESS"
	TaskSuccess         = "SUCCESS"
	TaskCreateFailed    = "CREATE_TASK_FAILED"
	TaskGenerateFailed  = "GENERATE_AUDIO_FAILED"
	TaskSensitiveWord   = "SENSITIVE_WORD_ERROR"
	defaultCoverBaseURL = "https://api.kie.ai/api/v1"
	defaultCoverModel   = "V4_5"
)

// APIService provides methods for the generative cover API.
type APIService struct {
	baseURL     string
	apiKey      string
	model       string
	callbackURL string
	httpClient  *http.Client
}

// CoverOptions configure an [APIService].
type CoverOptions struct {
	BaseURL     string
	APIKey      string
	Model       string
	CallbackURL string
}

// NewAPIService creates a new cover API client.
func NewAPIService(opts CoverOptions, client *http.Client) *APIService {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultCoverBaseURL
	}
	if opts.Model == "" {
		opts.Model = defaultCoverModel
	}
	if client == nil {
		client = http.DefaultClient
	}

	return &APIService{
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		apiKey:      opts.APIKey,
		model:       opts.Model,
		callbackURL: opts.CallbackURL,
		httpClient:  client,
	}
}

// Configured reports whether an API key is set.
func (a *APIService) Configured() bool { return a.apiKey != "" }

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// envelope is the common response wrapper of the cover API.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func (a *APIService) do(req *http.Request) (*APIResponse, error) {
	if a.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return &APIResponse{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

// Get performs a GET request to the specified path and returns the raw response.
func (a *APIService) Get(ctx context.Context, path string) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	return a.do(req)
}

// Post performs a POST request with the given JSON data and returns the raw response.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

// decode unwraps the envelope into out. A non-200 HTTP status or envelope code is an [ErrCoverAPI].
func decode(resp *APIResponse, out any) error {
	var env envelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return fmt.Errorf("%w: status %d: unreadable response", ErrCoverAPI, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK || env.Code != http.StatusOK {
		msg := env.Msg
		if msg == "" {
			msg = "Unknown error"
		}
		return fmt.Errorf("%w: %s", ErrCoverAPI, msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: malformed data: %v", ErrCoverAPI, err)
	}
	return nil
}

// CoverRequest is the input of [APIService.Submit].
type CoverRequest struct {
	SourceURL    string
	Prompt       string
	Instrumental bool
}

type submitBody struct {
	UploadURL    string `json:"uploadUrl"`
	Prompt       string `json:"prompt"`
	CustomMode   bool   `json:"customMode"`
	Instrumental bool   `json:"instrumental"`
	Model        string `json:"model"`
	CallBackURL  string `json:"callBackUrl"`
}

// Submit creates a cover task and returns its identifier.
func (a *APIService) Submit(ctx context.Context, req CoverRequest) (string, error) {
	data, err := json.Marshal(submitBody{
		UploadURL:    req.SourceURL,
		Prompt:       req.Prompt,
		Instrumental: req.Instrumental,
		Model:        a.model,
		CallBackURL:  a.callbackURL,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	resp, err := a.Post(ctx, "/generate/upload-cover", data)
	if err != nil {
		return "", err
	}

	var out struct {
		TaskID string `json:"taskId"`
	}
	if err := decode(resp, &out); err != nil {
		return "", err
	}
	if out.TaskID == "" {
		return "", fmt.Errorf("%w: response carried no task id", ErrCoverAPI)
	}
	return out.TaskID, nil
}

// CoverTask is the polled state of a cover task.
type CoverTask struct {
	Status       string
	ErrorMessage string
	AudioURLs    []string
}

// Done reports whether the task reached a final status.
func (t CoverTask) Done() bool {
	switch t.Status {
	case TaskSuccess, TaskCreateFailed, TaskGenerateFailed, TaskSensitiveWord:
		return true
	}
	return false
}

// Err converts a failed final status into an error.
func (t CoverTask) Err() error {
	switch t.Status {
	case TaskCreateFailed, TaskGenerateFailed:
		msg := t.ErrorMessage
		if msg == "" {
			msg = "Generation failed"
		}
		return fmt.Errorf("%w: %s", ErrCoverRejected, msg)
	case TaskSensitiveWord:
		return fmt.Errorf("%w: content filtered due to sensitive words", ErrCoverRejected)
	}
	return nil
}

type recordInfo struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
	Response     struct {
		SunoData []struct {
			AudioURL string `json:"audioUrl"`
		} `json:"sunoData"`
	} `json:"response"`
}

// Task polls the state of taskID.
func (a *APIService) Task(ctx context.Context, taskID string) (CoverTask, error) {
	resp, err := a.Get(ctx, "/generate/record-info?taskId="+url.QueryEscape(taskID))
	if err != nil {
		return CoverTask{}, err
	}

	var info recordInfo
	if err := decode(resp, &info); err != nil {
		return CoverTask{}, err
	}

	task := CoverTask{Status: info.Status, ErrorMessage: info.ErrorMessage}
	for _, d := range info.Response.SunoData {
		if d.AudioURL != "" {
			task.AudioURLs = append(task.AudioURLs, d.AudioURL)
		}
	}
	return task, nil
}

// Fetch downloads a generated result. Result URLs are absolute and not authenticated.
func (a *APIService) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download returned status %d", ErrCoverAPI, resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}
