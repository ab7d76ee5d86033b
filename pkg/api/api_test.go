package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openmsn/gomsn/pkg/network"
	"github.com/openmsn/gomsn/pkg/storage"
)

func newTestServer(t *testing.T, archive *storage.Archive) *Server {
	t.Helper()
	session := network.NewSession(network.DefaultConfig("user@example.com", "secret"))
	return NewServer(session, archive, DefaultConfig())
}

func doJSON(server *Server, method, url string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, url, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	server.router.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(server, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "ok", response["status"])
	assert.Equal(t, false, response["signed_in"])
}

func TestGetStatus(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(server, "GET", "/api/v1/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response map[string]interface{}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "user@example.com", response["account"])
	assert.Equal(t, false, response["signed_in"])
}

func TestSetStatus(t *testing.T) {
	server := newTestServer(t, nil)

	t.Run("UnknownCode", func(t *testing.T) {
		w := doJSON(server, "PUT", "/api/v1/status", map[string]string{"status": "ZZZ"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("MissingBody", func(t *testing.T) {
		w := doJSON(server, "PUT", "/api/v1/status", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("NotSignedIn", func(t *testing.T) {
		w := doJSON(server, "PUT", "/api/v1/status", map[string]string{"status": "AWY"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestSendMessage(t *testing.T) {
	server := newTestServer(t, nil)

	t.Run("Validation", func(t *testing.T) {
		w := doJSON(server, "POST", "/api/v1/messages", map[string]string{"account": "alice@example.com"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("NotSignedIn", func(t *testing.T) {
		w := doJSON(server, "POST", "/api/v1/messages", map[string]string{
			"account": "alice@example.com",
			"body":    "hello",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestContacts(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(server, "GET", "/api/v1/contacts", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Contacts []contactView `json:"contacts"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Empty(t, response.Contacts)
}

func TestAddContact(t *testing.T) {
	server := newTestServer(t, nil)

	t.Run("ReverseListRejected", func(t *testing.T) {
		w := doJSON(server, "POST", "/api/v1/contacts", map[string]string{
			"account": "alice@example.com",
			"list":    "RL",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("BadListCode", func(t *testing.T) {
		w := doJSON(server, "POST", "/api/v1/contacts", map[string]string{
			"account": "alice@example.com",
			"list":    "XX",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("NotSignedIn", func(t *testing.T) {
		w := doJSON(server, "POST", "/api/v1/contacts", map[string]string{
			"account": "alice@example.com",
		})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestHistory(t *testing.T) {
	archive, err := storage.OpenArchive(filepath.Join(t.TempDir(), "archive.db"))
	assert.NoError(t, err)
	defer archive.Close()

	assert.NoError(t, archive.SaveIncoming("alice@example.com", "Alice", "hi"))
	assert.NoError(t, archive.SaveOutgoing("alice@example.com", "hello back"))

	server := newTestServer(t, archive)

	w := doJSON(server, "GET", "/api/v1/history/alice@example.com", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var response struct {
		Account  string                  `json:"account"`
		Messages []storage.StoredMessage `json:"messages"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	assert.Equal(t, "alice@example.com", response.Account)
	assert.Len(t, response.Messages, 2)
	assert.Equal(t, "hi", response.Messages[0].Body)

	t.Run("InvalidLimit", func(t *testing.T) {
		w := doJSON(server, "GET", "/api/v1/history/alice@example.com?limit=banana", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Peers", func(t *testing.T) {
		w := doJSON(server, "GET", "/api/v1/history", nil)
		assert.Equal(t, http.StatusOK, w.Code)

		var response struct {
			Peers []string `json:"peers"`
		}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
		assert.Equal(t, []string{"alice@example.com"}, response.Peers)
	})
}

func TestHistoryWithoutArchive(t *testing.T) {
	server := newTestServer(t, nil)

	w := doJSON(server, "GET", "/api/v1/history/alice@example.com", nil)
	assert.Equal(t, http.StatusNotImplemented, w.Code)
}
