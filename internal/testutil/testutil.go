// Package testutil provides common test utilities and helpers for PiDogd tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/PiDogd/internal/api"
	"github.com/BTreeMap/PiDogd/internal/behavior"
	"github.com/BTreeMap/PiDogd/internal/camera"
	"github.com/BTreeMap/PiDogd/internal/robot"
)

// TB is the part of testing.TB the assertion helpers use, so they can be tested themselves.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// TestRig bundles a server with the mock robot and supervisor behind it.
type TestRig struct {
	Server     *api.Server
	Dog        *robot.MockHandle
	Supervisor *behavior.Supervisor
}

// NewTestServer creates a test API server driving a mock robot.
// The supervisor is closed when the test ends.
func NewTestServer(t *testing.T, opts ...api.Option) *TestRig {
	t.Helper()
	dog := robot.NewMockHandle()
	sup := behavior.NewSupervisor(dog, behavior.WithStopTimeout(time.Second))
	t.Cleanup(sup.Close)
	return &TestRig{
		Server:     api.NewServer(sup, opts...),
		Dog:        dog,
		Supervisor: sup,
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// AssertCommands checks that the mock robot received exactly the given commands.
func AssertCommands(t TB, dog *robot.MockHandle, expected ...string) {
	t.Helper()
	if got := dog.Commands(); !slices.Equal(got, expected) {
		t.Errorf("robot commands: expected %v, got %v", expected, got)
	}
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// CreateJSONRequest creates an HTTP request with a raw JSON body, which may be malformed.
func CreateJSONRequest(t TB, method, url, jsonBody string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(jsonBody))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

// StubCamera is a camera whose frames are set by the test.
type StubCamera struct {
	mu     sync.Mutex
	mode   camera.Mode
	frame  camera.Frame
	has    bool
	frames int
}

// NewStubCamera creates a camera reporting mode and no frames.
func NewStubCamera(mode camera.Mode) *StubCamera {
	return &StubCamera{mode: mode}
}

// Mode implements api.Camera.
func (c *StubCamera) Mode() camera.Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Frame implements api.Camera.
func (c *StubCamera) Frame() (camera.Frame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	return c.frame, c.has
}

// SetFrame makes data the latest frame under the given sequence number.
func (c *StubCamera) SetFrame(seq uint64, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame = camera.Frame{Seq: seq, Timestamp: time.Now(), Data: data}
	c.has = true
}

// Polls reports how many times Frame was called.
func (c *StubCamera) Polls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}
