// Package client is the Cryptalk client SDK. All key generation, key wrapping
// and message encryption happens here, on the device; the server only ever
// receives ciphertext, wrapped keys and exported public keys. Every failure
// path fails closed: no component in this package ever sends or renders
// plaintext after an error.
package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/go-resty/resty/v2"
)

// Client talks to the Cryptalk REST API. It carries no key material itself;
// key handling lives in Session.
type Client struct {
	restyClient *resty.Client
	baseURL     string
	token       string // compact JWS session token, empty before login
}

// NewClient creates an API client for the given server base url,
// e.g. https://chat.example.com
func NewClient(baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("Content-Type", "application/json")
	return &Client{
		restyClient: rc,
		baseURL:     strings.TrimRight(baseURL, "/"),
	}
}

// SetToken installs the session token on all subsequent requests
func (c *Client) SetToken(token string) {
	c.token = token
	c.restyClient.SetAuthToken(token)
}

// Token returns the current session token (empty before login)
func (c *Client) Token() string {
	return c.token
}

// apiError converts a non-2xx response into the typed error taxonomy
func apiError(resp *resty.Response) error {
	switch resp.StatusCode() {
	case http.StatusUnauthorized:
		return types.ErrNotAuthenticated
	case http.StatusForbidden:
		return types.ErrNotAParticipant
	case http.StatusNotFound:
		return types.ErrNotFound
	case http.StatusFailedDependency:
		return types.ErrKeyNotFound
	case http.StatusConflict:
		return types.ErrConflict
	case http.StatusBadRequest:
		return types.ErrBadRequest
	default:
		if resp.StatusCode() >= 500 {
			return types.ErrStorageUnavailable
		}
		return fmt.Errorf("unexpected status %d: %w", resp.StatusCode(), types.ErrInternal)
	}
}

// GetNonce requests a fresh login challenge
func (c *Client) GetNonce(ctx context.Context) (string, error) {
	var out types.OutputNonce
	resp, err := c.restyClient.R().SetContext(ctx).SetResult(&out).Get("/api/v1/nonce")
	if err != nil {
		return "", types.ErrStorageUnavailable
	}
	if !resp.IsSuccess() {
		return "", apiError(resp)
	}
	return out.Nonce, nil
}

// Register publishes the first public key for a user id
func (c *Client) Register(ctx context.Context, input *types.InputRegister) error {
	resp, err := c.restyClient.R().SetContext(ctx).SetBody(input).Post("/api/v1/register")
	if err != nil {
		return types.ErrStorageUnavailable
	}
	if !resp.IsSuccess() {
		return apiError(resp)
	}
	return nil
}

// Login exchanges a signed challenge for a session token
func (c *Client) Login(ctx context.Context, input *types.InputLogin) (*types.OutputLogin, error) {
	var out types.OutputLogin
	resp, err := c.restyClient.R().SetContext(ctx).SetBody(input).SetResult(&out).Post("/api/v1/login")
	if err != nil {
		return nil, types.ErrStorageUnavailable
	}
	if !resp.IsSuccess() {
		if resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden {
			return nil, types.ErrNotAuthenticated
		}
		return nil, apiError(resp)
	}
	return &out, nil
}

// GetPublicKey fetches a user's published key envelope from the directory.
// types.ErrKeyNotFound when the user never published one.
func (c *Client) GetPublicKey(ctx context.Context, userID string) (string, error) {
	var out types.OutputPublicKey
	resp, err := c.restyClient.R().SetContext(ctx).SetResult(&out).Get("/api/v1/keys/" + userID)
	if err != nil {
		return "", types.ErrStorageUnavailable
	}
	if resp.StatusCode() == http.StatusNotFound {
		return "", types.ErrKeyNotFound
	}
	if !resp.IsSuccess() {
		return "", apiError(resp)
	}
	return out.PublicKeyB64, nil
}

// PublishPublicKey upserts the caller's public key envelope. 200 and 202 both
// count as success; 202 means the server accepted the key for deferred
// publication.
func (c *Client) PublishPublicKey(ctx context.Context, userID string, publicKeyB64 string) error {
	resp, err := c.restyClient.R().SetContext(ctx).
		SetBody(&types.InputPublishKey{PublicKeyB64: publicKeyB64}).
		Put("/api/v1/keys/" + userID)
	if err != nil {
		return types.ErrStorageUnavailable
	}
	if !resp.IsSuccess() {
		return apiError(resp)
	}
	return nil
}

// CreateConversation stores the conversation document (participants + wrapped
// keys) in one atomic write
func (c *Client) CreateConversation(ctx context.Context, input *types.InputCreateConversation) (*types.Conversation, error) {
	var out types.Conversation
	resp, err := c.restyClient.R().SetContext(ctx).SetBody(input).SetResult(&out).Post("/api/v1/conversations")
	if err != nil {
		return nil, types.ErrStorageUnavailable
	}
	if !resp.IsSuccess() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// GetConversation fetches a conversation the caller participates in
func (c *Client) GetConversation(ctx context.Context, conversationID string) (*types.Conversation, error) {
	var out types.Conversation
	resp, err := c.restyClient.R().SetContext(ctx).SetResult(&out).Get("/api/v1/conversations/" + conversationID)
	if err != nil {
		return nil, types.ErrStorageUnavailable
	}
	if !resp.IsSuccess() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// ListConversations lists the caller's conversations
func (c *Client) ListConversations(ctx context.Context) ([]*types.Conversation, error) {
	var out types.OutputConversationList
	resp, err := c.restyClient.R().SetContext(ctx).SetResult(&out).Get("/api/v1/conversations")
	if err != nil {
		return nil, types.ErrStorageUnavailable
	}
	if !resp.IsSuccess() {
		return nil, apiError(resp)
	}
	return out.Conversations, nil
}

// AppendMessage stores one encrypted message
func (c *Client) AppendMessage(ctx context.Context, conversationID string, input *types.InputAppendMessage) (*types.EncryptedMessage, error) {
	var out types.EncryptedMessage
	resp, err := c.restyClient.R().SetContext(ctx).SetBody(input).SetResult(&out).
		Post("/api/v1/conversations/" + conversationID + "/messages")
	if err != nil {
		return nil, types.ErrStorageUnavailable
	}
	if !resp.IsSuccess() {
		return nil, apiError(resp)
	}
	return &out, nil
}

// ListMessages fetches stored messages oldest to newest, created > since
func (c *Client) ListMessages(ctx context.Context, conversationID string, since int64) ([]*types.EncryptedMessage, error) {
	var out types.OutputMessageBatch
	resp, err := c.restyClient.R().SetContext(ctx).
		SetQueryParam("since", fmt.Sprintf("%d", since)).
		SetResult(&out).
		Get("/api/v1/conversations/" + conversationID + "/messages")
	if err != nil {
		return nil, types.ErrStorageUnavailable
	}
	if !resp.IsSuccess() {
		return nil, apiError(resp)
	}
	return out.Messages, nil
}

// listenSSE connects to an event-stream endpoint and blocks, invoking callback
// once per complete event. Returns when ctx is cancelled or the stream breaks.
func (c *Client) listenSSE(ctx context.Context, path string, callback func(event, data string)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.restyClient.GetClient().Do(req)
	if err != nil {
		return types.ErrStorageUnavailable
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return types.ErrNotAuthenticated
	}
	if resp.StatusCode == http.StatusForbidden {
		return types.ErrNotAParticipant
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream error: %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)

	var currentEvent string
	var dataLines []string

	flush := func() {
		if len(dataLines) == 0 && currentEvent == "" {
			return
		}
		data := strings.Join(dataLines, "\n")
		if data != "" && data != "null" {
			callback(currentEvent, data)
		}
		currentEvent = ""
		dataLines = dataLines[:0]
	}

	for {
		lineBytes, rErr := reader.ReadBytes('\n')
		if rErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			return rErr
		}

		line := strings.TrimRight(string(lineBytes), "\r\n")
		if line == "" {
			flush()
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		field := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch field {
		case "event":
			currentEvent = value
		case "data":
			// data may be multi-line
			dataLines = append(dataLines, value)
		default:
			// id and retry fields are not used
		}
	}
}

func decodeBatch(data string) (*types.OutputMessageBatch, error) {
	var batch types.OutputMessageBatch
	if err := json.Unmarshal([]byte(data), &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}
