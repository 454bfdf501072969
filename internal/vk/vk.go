// Package vk publishes photo posts on a VK community wall.
package vk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/deusflow/newsrepost/internal/publish"
)

const (
	DefaultBaseURL    = "https://api.vk.com"
	DefaultAPIVersion = "5.131"
)

// APIError is the error object VK returns inside a 200 response.
type APIError struct {
	Method string
	Code   int    `json:"error_code"`
	Msg    string `json:"error_msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("vk %s: error %d: %s", e.Method, e.Code, e.Msg)
}

// Wall publishes to the wall of one community. The photo is uploaded from a file.
type Wall struct {
	token      string
	groupID    string
	apiVersion string
	footer     string
	baseURL    string
	client     *http.Client
}

// Option configures a Wall.
type Option func(*Wall)

// WithBaseURL points the wall at another API host.
func WithBaseURL(u string) Option {
	return func(w *Wall) { w.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) Option {
	return func(w *Wall) { w.client = client }
}

// NewWall creates a wall publisher. An empty apiVersion uses DefaultAPIVersion.
func NewWall(token, groupID, apiVersion, footer string, opts ...Option) *Wall {
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	w := &Wall{
		token:      token,
		groupID:    strings.TrimPrefix(groupID, "-"),
		apiVersion: apiVersion,
		footer:     footer,
		baseURL:    DefaultBaseURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NeedsImagePath is always true: VK takes the photo as a file upload.
func (w *Wall) NeedsImagePath() bool { return true }

// Publish uploads the photo, saves it to the wall album and creates the post.
func (w *Wall) Publish(ctx context.Context, post publish.Post) (publish.PostID, error) {
	if post.ImagePath == "" {
		return "", fmt.Errorf("vk: image path is required")
	}

	uploadURL, err := w.uploadServer(ctx)
	if err != nil {
		return "", err
	}

	uploaded, err := w.upload(ctx, uploadURL, post.ImagePath)
	if err != nil {
		return "", err
	}

	photo, err := w.savePhoto(ctx, uploaded)
	if err != nil {
		return "", err
	}

	message := strings.TrimSpace(post.Title) + "\n\n" + publish.Body(post.Text, w.footer, post.Options)
	postID, err := w.wallPost(ctx, message, fmt.Sprintf("photo%d_%d", photo.OwnerID, photo.ID))
	if err != nil {
		return "", err
	}

	slog.Info("Post created on VK wall", "group_id", w.groupID, "post_id", postID)
	return publish.PostID(strconv.FormatInt(postID, 10)), nil
}

type uploadedPhoto struct {
	Server int64  `json:"server"`
	Photo  string `json:"photo"`
	Hash   string `json:"hash"`
}

type savedPhoto struct {
	ID      int64 `json:"id"`
	OwnerID int64 `json:"owner_id"`
}

func (w *Wall) uploadServer(ctx context.Context) (string, error) {
	var out struct {
		UploadURL string `json:"upload_url"`
	}
	params := url.Values{"group_id": {w.groupID}}
	if err := w.call(ctx, http.MethodGet, "photos.getWallUploadServer", params, &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", fmt.Errorf("vk photos.getWallUploadServer: empty upload_url")
	}
	return out.UploadURL, nil
}

func (w *Wall) upload(ctx context.Context, uploadURL, path string) (uploadedPhoto, error) {
	f, err := os.Open(path)
	if err != nil {
		return uploadedPhoto{}, fmt.Errorf("vk upload: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("photo", filepath.Base(path))
	if err != nil {
		return uploadedPhoto{}, fmt.Errorf("vk upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return uploadedPhoto{}, fmt.Errorf("vk upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return uploadedPhoto{}, fmt.Errorf("vk upload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
	if err != nil {
		return uploadedPhoto{}, fmt.Errorf("vk upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	raw, err := w.do(req)
	if err != nil {
		return uploadedPhoto{}, fmt.Errorf("vk upload: %w", err)
	}
	if apiErr := decodeError("upload", raw); apiErr != nil {
		return uploadedPhoto{}, apiErr
	}

	var out uploadedPhoto
	if err := json.Unmarshal(raw, &out); err != nil {
		return uploadedPhoto{}, fmt.Errorf("vk upload: decode: %w", err)
	}
	if out.Photo == "" || out.Photo == "[]" {
		return uploadedPhoto{}, fmt.Errorf("vk upload: server accepted no photo")
	}
	return out, nil
}

func (w *Wall) savePhoto(ctx context.Context, up uploadedPhoto) (savedPhoto, error) {
	var out []savedPhoto
	params := url.Values{
		"group_id": {w.groupID},
		"server":   {strconv.FormatInt(up.Server, 10)},
		"photo":    {up.Photo},
		"hash":     {up.Hash},
	}
	if err := w.call(ctx, http.MethodPost, "photos.saveWallPhoto", params, &out); err != nil {
		return savedPhoto{}, err
	}
	if len(out) == 0 {
		return savedPhoto{}, fmt.Errorf("vk photos.saveWallPhoto: empty response")
	}
	return out[0], nil
}

func (w *Wall) wallPost(ctx context.Context, message, attachments string) (int64, error) {
	var out struct {
		PostID int64 `json:"post_id"`
	}
	params := url.Values{
		"message":     {message},
		"attachments": {attachments},
		"from_group":  {"1"},
		"owner_id":    {"-" + w.groupID},
	}
	if err := w.call(ctx, http.MethodPost, "wall.post", params, &out); err != nil {
		return 0, err
	}
	return out.PostID, nil
}

// call invokes an API method and decodes the "response" member into out.
func (w *Wall) call(ctx context.Context, httpMethod, method string, params url.Values, out any) error {
	params.Set("v", w.apiVersion)
	endpoint := w.baseURL + "/method/" + method + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, httpMethod, endpoint, nil)
	if err != nil {
		return fmt.Errorf("vk %s: %w", method, err)
	}
	req.Header.Set("Authorization", "Bearer "+w.token)

	raw, err := w.do(req)
	if err != nil {
		return fmt.Errorf("vk %s: %w", method, err)
	}
	if apiErr := decodeError(method, raw); apiErr != nil {
		return apiErr
	}

	var envelope struct {
		Response json.RawMessage `json:"response"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("vk %s: decode: %w", method, err)
	}
	if err := json.Unmarshal(envelope.Response, out); err != nil {
		return fmt.Errorf("vk %s: decode response: %w", method, err)
	}
	return nil
}

func (w *Wall) do(req *http.Request) ([]byte, error) {
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %d", resp.StatusCode)
	}
	return raw, nil
}

func decodeError(method string, raw []byte) *APIError {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope.Error == nil {
		return nil
	}
	envelope.Error.Method = method
	return envelope.Error
}
