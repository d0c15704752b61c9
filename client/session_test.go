package client

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/cryptalk/go-cryptalk-server/util"
	"github.com/google/uuid"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

var serverURL = "http://cryptalk.test"

// countingCrypter counts unwrap calls so tests can observe cache behavior
type countingCrypter struct {
	Crypter
	mu      sync.Mutex
	unwraps int
}

func (c *countingCrypter) UnwrapKey(priv *rsa.PrivateKey, wrapped []byte) ([]byte, error) {
	c.mu.Lock()
	c.unwraps++
	c.mu.Unlock()
	return c.Crypter.UnwrapKey(priv, wrapped)
}

func (c *countingCrypter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unwraps
}

// fakeServer is an in-memory stand-in for the REST API, wired through httpmock
type fakeServer struct {
	mu            sync.Mutex
	publicKeys    map[string]string
	conversations map[string]*types.Conversation
	messages      map[string][]*types.EncryptedMessage
	registrations int
}

func newFakeServer(t *testing.T, clients ...*Client) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		publicKeys:    map[string]string{},
		conversations: map[string]*types.Conversation{},
		messages:      map[string][]*types.EncryptedMessage{},
	}
	for _, c := range clients {
		httpmock.ActivateNonDefault(c.restyClient.GetClient())
	}

	httpmock.RegisterResponder("GET", serverURL+"/api/v1/nonce",
		func(req *http.Request) (*http.Response, error) {
			return httpmock.NewJsonResponse(200, types.OutputNonce{Nonce: util.GenerateNonce(64)})
		})
	httpmock.RegisterResponder("POST", serverURL+"/api/v1/register",
		func(req *http.Request) (*http.Response, error) {
			var input types.InputRegister
			if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
				return httpmock.NewStringResponse(400, ""), nil
			}
			fs.mu.Lock()
			fs.publicKeys[input.UserID] = input.PublicKeyB64
			fs.registrations++
			fs.mu.Unlock()
			return httpmock.NewJsonResponse(201, types.OutputPublicKey{UserID: input.UserID, PublicKeyB64: input.PublicKeyB64})
		})
	httpmock.RegisterResponder("POST", serverURL+"/api/v1/login",
		func(req *http.Request) (*http.Response, error) {
			var input types.InputLogin
			if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
				return httpmock.NewStringResponse(400, ""), nil
			}
			fs.mu.Lock()
			_, published := fs.publicKeys[input.UserID]
			fs.mu.Unlock()
			if !published {
				return httpmock.NewStringResponse(401, `{"message":"unknown challenge or unpublished key"}`), nil
			}
			return httpmock.NewJsonResponse(200, types.OutputLogin{UserID: input.UserID, Token: "jws-" + input.UserID})
		})
	httpmock.RegisterResponder("PUT", fmt.Sprintf(`=~^%s/api/v1/keys/.+`, serverURL),
		func(req *http.Request) (*http.Response, error) {
			// the upsert sits behind the session middleware
			if req.Header.Get("Authorization") == "" {
				return httpmock.NewStringResponse(401, `{"message":"not authenticated"}`), nil
			}
			userID := strings.TrimPrefix(req.URL.Path, "/api/v1/keys/")
			var input types.InputPublishKey
			if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
				return httpmock.NewStringResponse(400, ""), nil
			}
			fs.mu.Lock()
			fs.publicKeys[userID] = input.PublicKeyB64
			fs.mu.Unlock()
			return httpmock.NewJsonResponse(200, types.OutputPublicKey{UserID: userID, PublicKeyB64: input.PublicKeyB64})
		})
	httpmock.RegisterResponder("GET", fmt.Sprintf(`=~^%s/api/v1/keys/.+`, serverURL),
		func(req *http.Request) (*http.Response, error) {
			userID := strings.TrimPrefix(req.URL.Path, "/api/v1/keys/")
			fs.mu.Lock()
			envelope, ok := fs.publicKeys[userID]
			fs.mu.Unlock()
			if !ok {
				return httpmock.NewStringResponse(404, `{"message":"no key published"}`), nil
			}
			return httpmock.NewJsonResponse(200, types.OutputPublicKey{UserID: userID, PublicKeyB64: envelope})
		})
	httpmock.RegisterResponder("POST", serverURL+"/api/v1/conversations",
		func(req *http.Request) (*http.Response, error) {
			var input types.InputCreateConversation
			if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
				return httpmock.NewStringResponse(400, ""), nil
			}
			fs.mu.Lock()
			defer fs.mu.Unlock()
			for _, p := range input.Participants {
				if _, ok := fs.publicKeys[p]; !ok {
					return httpmock.NewStringResponse(424, `{"message":"participant has no published key"}`), nil
				}
			}
			conversation := &types.Conversation{
				ConversationID: uuid.NewString(),
				Participants:   input.Participants,
				WrappedKeys:    input.WrappedKeys,
				Name:           input.Name,
			}
			fs.conversations[conversation.ConversationID] = conversation
			return httpmock.NewJsonResponse(201, conversation)
		})
	httpmock.RegisterResponder("GET", fmt.Sprintf(`=~^%s/api/v1/conversations/[^/]+$`, serverURL),
		func(req *http.Request) (*http.Response, error) {
			id := strings.TrimPrefix(req.URL.Path, "/api/v1/conversations/")
			fs.mu.Lock()
			conversation, ok := fs.conversations[id]
			fs.mu.Unlock()
			if !ok {
				return httpmock.NewStringResponse(404, `{"message":"not found"}`), nil
			}
			return httpmock.NewJsonResponse(200, conversation)
		})
	httpmock.RegisterResponder("POST", fmt.Sprintf(`=~^%s/api/v1/conversations/[^/]+/messages$`, serverURL),
		func(req *http.Request) (*http.Response, error) {
			id := strings.TrimSuffix(strings.TrimPrefix(req.URL.Path, "/api/v1/conversations/"), "/messages")
			var input types.InputAppendMessage
			if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
				return httpmock.NewStringResponse(400, ""), nil
			}
			message := &types.EncryptedMessage{
				MessageID:      uuid.NewString(),
				ConversationID: id,
				Ciphertext:     input.Ciphertext,
				IV:             input.IV,
				Created:        input.Created,
			}
			fs.mu.Lock()
			fs.messages[id] = append(fs.messages[id], message)
			fs.mu.Unlock()
			return httpmock.NewJsonResponse(201, message)
		})
	httpmock.RegisterResponder("GET", fmt.Sprintf(`=~^%s/api/v1/conversations/[^/]+/messages$`, serverURL),
		func(req *http.Request) (*http.Response, error) {
			id := strings.TrimSuffix(strings.TrimPrefix(req.URL.Path, "/api/v1/conversations/"), "/messages")
			fs.mu.Lock()
			batch := types.OutputMessageBatch{ConversationID: id, Messages: fs.messages[id]}
			fs.mu.Unlock()
			return httpmock.NewJsonResponse(200, &batch)
		})
	// event streams: the fake replays the stored state as one event and closes
	httpmock.RegisterResponder("GET", fmt.Sprintf(`=~^%s/api/v1/conversations/[^/]+/events`, serverURL),
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") == "" {
				return httpmock.NewStringResponse(401, `{"message":"not authenticated"}`), nil
			}
			id := strings.TrimSuffix(strings.TrimPrefix(req.URL.Path, "/api/v1/conversations/"), "/events")
			fs.mu.Lock()
			batch := types.OutputMessageBatch{ConversationID: id, Messages: fs.messages[id]}
			fs.mu.Unlock()
			payload, _ := json.Marshal(&batch)
			resp := httpmock.NewStringResponse(200, "event: batch\ndata: "+string(payload)+"\n\n")
			resp.Header.Set("Content-Type", "text/event-stream")
			return resp, nil
		})
	httpmock.RegisterResponder("GET", serverURL+"/api/v1/events",
		func(req *http.Request) (*http.Response, error) {
			if req.Header.Get("Authorization") == "" {
				return httpmock.NewStringResponse(401, `{"message":"not authenticated"}`), nil
			}
			fs.mu.Lock()
			var latest *types.Conversation
			for _, conversation := range fs.conversations {
				latest = conversation
			}
			fs.mu.Unlock()
			if latest == nil {
				return httpmock.NewStringResponse(200, "\n"), nil
			}
			payload, _ := json.Marshal(latest)
			resp := httpmock.NewStringResponse(200, "event: conversation\ndata: "+string(payload)+"\n\n")
			resp.Header.Set("Content-Type", "text/event-stream")
			return resp, nil
		})
	return fs
}

// newTestSession logs a fresh identity in against the fake server
func newTestSession(t *testing.T, userID string, crypter Crypter) (*Session, *Client) {
	t.Helper()
	apiClient := NewClient(serverURL)
	httpmock.ActivateNonDefault(apiClient.restyClient.GetClient())
	identityService := NewIdentityKeyService(filepath.Join(t.TempDir(), userID+".keystore"), []byte("passphrase-"+userID))
	session, err := loginWithCrypter(context.Background(), apiClient, identityService, userID, crypter)
	if err != nil {
		t.Fatal(err)
	}
	return session, apiClient
}

func TestConversationKeySharedAcrossParticipants(t *testing.T) {
	newFakeServer(t)
	defer httpmock.DeactivateAndReset()

	alice, _ := newTestSession(t, "alice", NewCrypter())
	bob, _ := newTestSession(t, "bob", NewCrypter())
	carol, _ := newTestSession(t, "carol", NewCrypter())
	dave, _ := newTestSession(t, "dave", NewCrypter())

	conversation, err := alice.CreateConversation(context.Background(), []string{"bob", "carol"}, "trip")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 3, len(conversation.WrappedKeys))

	aliceKey, err := alice.ResolveConversationKey(context.Background(), conversation.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	bobKey, err := bob.ResolveConversationKey(context.Background(), conversation.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	carolKey, err := carol.ResolveConversationKey(context.Background(), conversation.ConversationID)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, aliceKey, bobKey)
	assert.Equal(t, bobKey, carolKey)

	// dave has no wrapped-key entry and can never resolve the key
	_, err = dave.ResolveConversationKey(context.Background(), conversation.ConversationID)
	assert.Equal(t, types.ErrNotAParticipant, err)
}

func TestCreateConversationRefusesUnpublishedKey(t *testing.T) {
	fs := newFakeServer(t)
	defer httpmock.DeactivateAndReset()

	alice, _ := newTestSession(t, "alice", NewCrypter())

	// "ghost" never registered a key
	_, err := alice.CreateConversation(context.Background(), []string{"ghost"}, "")
	assert.Equal(t, types.ErrKeyNotFound, err)

	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, 0, len(fs.conversations))
}

func TestCacheClearForcesReUnwrap(t *testing.T) {
	newFakeServer(t)
	defer httpmock.DeactivateAndReset()

	crypter := &countingCrypter{Crypter: NewCrypter()}
	alice, _ := newTestSession(t, "alice", crypter)

	conversation, err := alice.CreateConversation(context.Background(), nil, "notes to self")
	if err != nil {
		t.Fatal(err)
	}

	// creator key is pre-cached; repeated resolution must not unwrap
	for i := 0; i < 3; i++ {
		if _, rErr := alice.ResolveConversationKey(context.Background(), conversation.ConversationID); rErr != nil {
			t.Fatal(rErr)
		}
	}
	assert.Equal(t, 0, crypter.count())

	// after a cache clear the wrapped key must be unwrapped exactly once again
	alice.KeyCache().Clear()
	for i := 0; i < 3; i++ {
		if _, rErr := alice.ResolveConversationKey(context.Background(), conversation.ConversationID); rErr != nil {
			t.Fatal(rErr)
		}
	}
	assert.Equal(t, 1, crypter.count())
}

func TestSendAndReceiveEndToEnd(t *testing.T) {
	fs := newFakeServer(t)
	defer httpmock.DeactivateAndReset()

	alice, _ := newTestSession(t, "alice", NewCrypter())
	bob, _ := newTestSession(t, "bob", NewCrypter())

	conversation, err := alice.CreateConversation(context.Background(), []string{"bob"}, "")
	if err != nil {
		t.Fatal(err)
	}

	plaintext := "see you at the station at nine"
	sent, err := alice.SendMessage(context.Background(), conversation.ConversationID, plaintext)
	if err != nil {
		t.Fatal(err)
	}
	assert.NotEqual(t, plaintext, sent.Ciphertext)

	// the server side of the fake only ever saw ciphertext
	fs.mu.Lock()
	stored := fs.messages[conversation.ConversationID]
	fs.mu.Unlock()
	assert.Equal(t, 1, len(stored))
	assert.NotContains(t, stored[0].Ciphertext, plaintext)

	received, err := bob.LoadMessages(context.Background(), conversation.ConversationID, 0)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, len(received))
	assert.False(t, received[0].Failed)
	assert.Equal(t, plaintext, received[0].Text)
}

func TestTamperedMessageRendersPlaceholder(t *testing.T) {
	fs := newFakeServer(t)
	defer httpmock.DeactivateAndReset()

	alice, _ := newTestSession(t, "alice", NewCrypter())
	bob, _ := newTestSession(t, "bob", NewCrypter())

	conversation, err := alice.CreateConversation(context.Background(), []string{"bob"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, sErr := alice.SendMessage(context.Background(), conversation.ConversationID, "first"); sErr != nil {
		t.Fatal(sErr)
	}
	if _, sErr := alice.SendMessage(context.Background(), conversation.ConversationID, "second"); sErr != nil {
		t.Fatal(sErr)
	}

	// corrupt the first stored ciphertext server side
	fs.mu.Lock()
	fs.messages[conversation.ConversationID][0].Ciphertext = "QUJDREVG"
	fs.mu.Unlock()

	received, err := bob.LoadMessages(context.Background(), conversation.ConversationID, 0)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 2, len(received))
	assert.True(t, received[0].Failed)
	assert.Equal(t, decryptionFailedPlaceholder, received[0].Text)
	// a bad message never hides the rest of the batch
	assert.False(t, received[1].Failed)
	assert.Equal(t, "second", received[1].Text)
}

func TestClosedSessionDecryptsNothing(t *testing.T) {
	newFakeServer(t)
	defer httpmock.DeactivateAndReset()

	alice, _ := newTestSession(t, "alice", NewCrypter())
	conversation, err := alice.CreateConversation(context.Background(), nil, "")
	if err != nil {
		t.Fatal(err)
	}

	alice.Close()
	assert.Equal(t, 0, alice.KeyCache().Len())

	_, err = alice.ResolveConversationKey(context.Background(), conversation.ConversationID)
	assert.Equal(t, types.ErrNotAuthenticated, err)
	_, err = alice.SendMessage(context.Background(), conversation.ConversationID, "late message")
	assert.Equal(t, types.ErrNotAuthenticated, err)
}

func TestFirstLoginRegistersPublicKey(t *testing.T) {
	fs := newFakeServer(t)
	defer httpmock.DeactivateAndReset()

	apiClient := NewClient(serverURL)
	httpmock.ActivateNonDefault(apiClient.restyClient.GetClient())
	identityService := NewIdentityKeyService(filepath.Join(t.TempDir(), "alice.keystore"), []byte("passphrase-alice"))

	// the fake rejects unauthenticated key upserts and refuses login for a
	// user with no directory entry, so the first login must go through the
	// public registration endpoint
	session, err := loginWithCrypter(context.Background(), apiClient, identityService, "alice", NewCrypter())
	if err != nil {
		t.Fatal(err)
	}

	fs.mu.Lock()
	assert.Equal(t, 1, fs.registrations)
	assert.NotEmpty(t, fs.publicKeys["alice"])
	fs.mu.Unlock()

	// a later login finds the directory entry and skips registration
	session.Close()
	if _, err = loginWithCrypter(context.Background(), apiClient, identityService, "alice", NewCrypter()); err != nil {
		t.Fatal(err)
	}
	fs.mu.Lock()
	assert.Equal(t, 1, fs.registrations)
	fs.mu.Unlock()
}

func TestSubscriptionDeliversDecryptedMessages(t *testing.T) {
	fs := newFakeServer(t)
	defer httpmock.DeactivateAndReset()

	alice, _ := newTestSession(t, "alice", NewCrypter())
	bob, _ := newTestSession(t, "bob", NewCrypter())

	conversation, err := alice.CreateConversation(context.Background(), []string{"bob"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if _, sErr := alice.SendMessage(context.Background(), conversation.ConversationID, "hello"); sErr != nil {
		t.Fatal(sErr)
	}
	if _, sErr := alice.SendMessage(context.Background(), conversation.ConversationID, "second"); sErr != nil {
		t.Fatal(sErr)
	}

	// corrupt the second stored ciphertext server side before the stream replays it
	fs.mu.Lock()
	fs.messages[conversation.ConversationID][1].Ciphertext = "QUJDREVG"
	fs.mu.Unlock()

	received := make(chan *types.DecryptedMessage, 4)
	cancel, err := bob.SubscribeToMessages(context.Background(), conversation.ConversationID, 0, func(m *types.DecryptedMessage) {
		received <- m
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	var got []*types.DecryptedMessage
	for len(got) < 2 {
		select {
		case m := <-received:
			got = append(got, m)
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for subscription delivery")
		}
	}
	assert.False(t, got[0].Failed)
	assert.Equal(t, "hello", got[0].Text)
	// a tampered event renders the placeholder and never stops the stream
	assert.True(t, got[1].Failed)
	assert.Equal(t, decryptionFailedPlaceholder, got[1].Text)
}

func TestConversationListSubscription(t *testing.T) {
	newFakeServer(t)
	defer httpmock.DeactivateAndReset()

	alice, _ := newTestSession(t, "alice", NewCrypter())
	bob, _ := newTestSession(t, "bob", NewCrypter())

	conversation, err := alice.CreateConversation(context.Background(), []string{"bob"}, "launch plans")
	if err != nil {
		t.Fatal(err)
	}

	received := make(chan *types.Conversation, 1)
	cancel, err := bob.SubscribeToConversationList(context.Background(), func(c *types.Conversation) {
		received <- c
	})
	if err != nil {
		t.Fatal(err)
	}
	defer cancel()

	select {
	case c := <-received:
		assert.Equal(t, conversation.ConversationID, c.ConversationID)
		assert.Equal(t, "launch plans", c.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for conversation event")
	}
}
