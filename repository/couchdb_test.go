package repository

import (
	"context"
	"fmt"
	"testing"

	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
)

var url = "http://localhost:5689"

func InitMockDatabase(dbName string) (Repository, error) {
	httpmock.Activate()

	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s", url, "_all_dbs"),
		httpmock.NewStringResponder(200, `[]`))

	mr, mErr := httpmock.NewJsonResponder(201, types.OK{IsOK: true})
	if mErr != nil {
		return nil, mErr
	}
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s", url, dbName), mr)
	httpmock.RegisterResponder("HEAD", fmt.Sprintf("%s/%s", url, dbName), mr)
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s", url, dbName), mr)

	db, err := NewCouchDBRepository(url, dbName, "test", "test", true)
	if err != nil {
		return nil, err
	}
	return db, nil
}

func deactivateMock() {
	httpmock.DeactivateAndReset()
}

func TestInitNewDatabase(t *testing.T) {
	db, err := InitMockDatabase("test")
	defer deactivateMock()
	if err != nil {
		t.Fatal(err)
	}
	if db == nil {
		t.Fatal("db is nil")
	}
}

func TestGetByID(t *testing.T) {
	db, _ := InitMockDatabase("test")
	defer deactivateMock()

	mk, _ := httpmock.NewJsonResponder(201, types.OK{IsOK: true})
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s/%s", url, "test", "test"), mk)

	mk, _ = httpmock.NewJsonResponder(200, types.BaseDocument{ID: "test"})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/%s", url, "test", "test"), mk)

	db.Save(context.Background(), "test", &types.BaseDocument{
		ID: "test",
	})
	res, err := db.GetByID(context.Background(), "test")
	if err != nil {
		t.Fatal(err)
	}
	if res == nil {
		t.Fatal("res is nil")
	}
	var base types.BaseDocument
	if mErr := MapToObject(res, &base); mErr != nil {
		t.Fatal(mErr)
	}
	assert.Equal(t, "test", base.ID)
}

func TestGetByIDNotFound(t *testing.T) {
	db, _ := InitMockDatabase("publickeys")
	defer deactivateMock()

	mk, _ := httpmock.NewJsonResponder(404, types.CouchDBError{Error: "not_found", Reason: "missing"})
	httpmock.RegisterResponder("GET", fmt.Sprintf("%s/%s/%s", url, "publickeys", "ghost"), mk)

	_, err := db.GetByID(context.Background(), "ghost")
	assert.Equal(t, types.ErrNotFound, err)
}

func TestSaveConflict(t *testing.T) {
	db, _ := InitMockDatabase("publickeys")
	defer deactivateMock()

	mk, _ := httpmock.NewJsonResponder(409, types.CouchDBError{Error: "conflict", Reason: "document update conflict"})
	httpmock.RegisterResponder("PUT", fmt.Sprintf("%s/%s/%s", url, "publickeys", "alice"), mk)

	err := db.Save(context.Background(), "alice", &types.PublicKeyRecord{UserID: "alice", PublicKeyB64: "QUJD"})
	assert.Equal(t, types.ErrConflict, err)
}

func TestFind(t *testing.T) {
	db, _ := InitMockDatabase("messages")
	defer deactivateMock()

	findResponse := map[string]interface{}{
		"docs": []map[string]interface{}{
			{"messageId": "m1", "conversationId": "c1", "senderId": "alice", "ciphertext": "QUJD", "iv": "REVG", "created": 1},
			{"messageId": "m2", "conversationId": "c1", "senderId": "bob", "ciphertext": "R0hJ", "iv": "SktM", "created": 2},
		},
	}
	mk, _ := httpmock.NewJsonResponder(200, findResponse)
	httpmock.RegisterResponder("POST", fmt.Sprintf("%s/%s/_find", url, "messages"), mk)

	res, err := db.Find(context.Background(), map[string]interface{}{
		"selector": map[string]interface{}{"conversationId": "c1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	var messages []*types.EncryptedMessage
	if mErr := MapFindToList(res, &messages); mErr != nil {
		t.Fatal(mErr)
	}
	assert.Equal(t, 2, len(messages))
	assert.Equal(t, "m1", messages[0].MessageID)
	assert.Equal(t, "bob", messages[1].SenderID)
}

func TestChooseDBUnknown(t *testing.T) {
	selector := NewCouchDBSelector()
	_, err := selector.ChooseDB("nope")
	assert.NotNil(t, err)
}
