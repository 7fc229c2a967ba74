package api_test

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/PiDogd/internal/api"
	"github.com/BTreeMap/PiDogd/internal/behavior"
	"github.com/BTreeMap/PiDogd/internal/camera"
	"github.com/BTreeMap/PiDogd/internal/models"
	"github.com/BTreeMap/PiDogd/internal/testutil"
)

var (
	jpegOne = []byte{0xFF, 0xD8, 'o', 'n', 'e', 0xFF, 0xD9}
	jpegTwo = []byte{0xFF, 0xD8, 't', 'w', 'o', 0xFF, 0xD9}
)

func serve(s *api.Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func result(t *testing.T, resp map[string]interface{}) map[string]interface{} {
	t.Helper()
	m, ok := resp["result"].(map[string]interface{})
	if !ok {
		t.Fatalf("response has no result object: %v", resp)
	}
	return m
}

func TestStatusHandler(t *testing.T) {
	rig := testutil.NewTestServer(t, api.WithCamera(testutil.NewStubCamera(camera.ModeStream)))

	rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodGet, "/status", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /status")
	res := result(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if res["dog_initialized"] != true {
		t.Errorf("dog_initialized = %v", res["dog_initialized"])
	}
	if res["camera"] != "stream" {
		t.Errorf("camera = %v", res["camera"])
	}
	if b, _ := res["behavior"].(map[string]interface{}); b["running"] != false {
		t.Errorf("behavior = %v", res["behavior"])
	}

	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/status", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "POST /status")
	if rr.Header().Get("Allow") != http.MethodGet {
		t.Errorf("Allow = %q", rr.Header().Get("Allow"))
	}
}

func TestRobotNotInitialized(t *testing.T) {
	s := api.NewServer(nil)

	rr := serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/status", nil))
	res := result(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if res["dog_initialized"] != false || res["camera"] != "disabled" {
		t.Errorf("unexpected status without robot: %v", res)
	}

	requests := []struct {
		method, path string
		body         interface{}
	}{
		{http.MethodPost, "/action", models.ActionRequest{Name: "sit"}},
		{http.MethodPost, "/move", models.MoveRequest{Direction: models.MoveForward}},
		{http.MethodPost, "/move", models.MoveRequest{Direction: models.MoveStop}},
		{http.MethodPost, "/head", models.HeadRequest{Yaw: 10}},
		{http.MethodPost, "/behavior", models.BehaviorRequest{Name: "patrol"}},
		{http.MethodGet, "/behavior", nil},
		{http.MethodDelete, "/behavior", nil},
	}
	for _, tt := range requests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := serve(s, testutil.CreateHTTPRequest(t, tt.method, tt.path, tt.body))
			testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, tt.path)
			resp := testutil.AssertJSONResponse(t, rr, "error")
			if resp["message"] != "robot not initialized" {
				t.Errorf("message = %v", resp["message"])
			}
		})
	}

	// The listing does not need the robot.
	rr = serve(s, testutil.CreateHTTPRequest(t, http.MethodGet, "/behaviors", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /behaviors")
}

func TestActionHandler(t *testing.T) {
	rig := testutil.NewTestServer(t)

	rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/action", models.ActionRequest{Name: " sit "}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "POST /action")
	res := result(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if res["speed"] != float64(95) || res["steps"] != float64(1) {
		t.Errorf("expected default speed and steps, got %v", res)
	}
	testutil.AssertCommands(t, rig.Dog, "action:sit")

	tests := []struct {
		name string
		req  *http.Request
		code int
	}{
		{"invalid json", testutil.CreateJSONRequest(t, http.MethodPost, "/action", `{"name":`), http.StatusBadRequest},
		{"empty name", testutil.CreateHTTPRequest(t, http.MethodPost, "/action", models.ActionRequest{}), http.StatusBadRequest},
		{"bad speed", testutil.CreateHTTPRequest(t, http.MethodPost, "/action", models.ActionRequest{Name: "sit", Speed: 500}), http.StatusBadRequest},
		{"wrong method", testutil.CreateHTTPRequest(t, http.MethodGet, "/action", nil), http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := serve(rig.Server, tt.req)
			testutil.AssertHTTPStatus(t, tt.code, rr.Code, tt.name)
			testutil.AssertJSONResponse(t, rr, "error")
		})
	}
	if n := len(rig.Dog.Commands()); n != 1 {
		t.Errorf("rejected requests must not reach the robot, got %v", rig.Dog.Commands())
	}
}

func TestActionDriverFailure(t *testing.T) {
	rig := testutil.NewTestServer(t)
	rig.Dog.FailOn = "action:"

	rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/action", models.ActionRequest{Name: "sit"}))
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "failing driver")
	testutil.AssertJSONResponse(t, rr, "error")
}

func TestMoveHandler(t *testing.T) {
	rig := testutil.NewTestServer(t)

	rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/move", models.MoveRequest{Direction: "Turn_Left", Steps: 3}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "turn_left")
	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/move", models.MoveRequest{Direction: models.MoveStop}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "stop")
	testutil.AssertCommands(t, rig.Dog, "action:turn_left", "body_stop")

	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/move", models.MoveRequest{Direction: "moonwalk"}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "unknown direction")
}

func TestMoveStopEndsBehavior(t *testing.T) {
	rig := testutil.NewTestServer(t)
	if _, err := rig.Supervisor.Start(behavior.NameRest); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/move", models.MoveRequest{Direction: models.MoveStop}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "stop during behavior")
	if rig.Supervisor.IsRunning() {
		t.Error("stop should end the running behavior")
	}
	if rig.Dog.Count("body_stop") == 0 {
		t.Errorf("expected a body stop, got %v", rig.Dog.Commands())
	}
}

func TestHeadHandler(t *testing.T) {
	rig := testutil.NewTestServer(t)

	rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/head", models.HeadRequest{Yaw: 10, Pitch: -5}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "POST /head")
	testutil.AssertCommands(t, rig.Dog, "head:10,0,-5")

	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/head", models.HeadRequest{Roll: 120}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "out of range")
}

func TestBehaviorLifecycle(t *testing.T) {
	rig := testutil.NewTestServer(t)

	rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/behavior", models.BehaviorRequest{Name: "time to rest"}))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "start rest")
	res := result(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if res["behavior"] != behavior.NameRest || res["run_id"] == "" {
		t.Errorf("unexpected start result %v", res)
	}

	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodGet, "/behavior", nil))
	res = result(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if res["running"] != true {
		t.Errorf("expected running behavior, got %v", res)
	}

	// Direct control is refused while the behavior owns the robot.
	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/action", models.ActionRequest{Name: "sit"}))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "action during behavior")
	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/head", models.HeadRequest{}))
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "head during behavior")

	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodDelete, "/behavior", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "stop")
	res = result(t, testutil.AssertJSONResponse(t, rr, "ok"))
	if res["running"] != false {
		t.Errorf("expected idle after stop, got %v", res)
	}

	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/behavior/stop", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "second stop")

	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPut, "/behavior", nil))
	testutil.AssertHTTPStatus(t, http.StatusMethodNotAllowed, rr.Code, "PUT /behavior")
}

func TestBehaviorStartUnknown(t *testing.T) {
	rig := testutil.NewTestServer(t)

	rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/behavior", models.BehaviorRequest{Name: "moonwalk"}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "unknown behavior")
	resp := testutil.AssertJSONResponse(t, rr, "error")
	if msg, _ := resp["message"].(string); !strings.Contains(msg, "not supported") {
		t.Errorf("message = %q", msg)
	}
	if rig.Supervisor.IsRunning() {
		t.Error("unknown behavior must not start anything")
	}

	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodPost, "/behavior", models.BehaviorRequest{}))
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "empty behavior")
}

func TestBehaviorsHandler(t *testing.T) {
	rig := testutil.NewTestServer(t)

	rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodGet, "/behaviors", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "GET /behaviors")
	var resp struct {
		Status string                `json:"status"`
		Result []models.BehaviorInfo `json:"result"`
	}
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	names := map[string]bool{}
	for _, b := range resp.Result {
		names[b.Name] = true
	}
	for _, want := range []string{behavior.NameKidsPlay, behavior.NamePatrol, behavior.NameBallTrack, behavior.NameDemo} {
		if !names[want] {
			t.Errorf("%s missing from %v", want, resp.Result)
		}
	}
}

func TestCameraFrameHandler(t *testing.T) {
	t.Run("no camera", func(t *testing.T) {
		rig := testutil.NewTestServer(t)
		rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodGet, "/camera/frame", nil))
		testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "no camera")
	})

	t.Run("disabled", func(t *testing.T) {
		rig := testutil.NewTestServer(t, api.WithCamera(testutil.NewStubCamera(camera.ModeDisabled)))
		rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodGet, "/camera/frame", nil))
		testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "disabled")
		testutil.AssertJSONResponse(t, rr, "error")
	})

	t.Run("no frame yet", func(t *testing.T) {
		rig := testutil.NewTestServer(t, api.WithCamera(testutil.NewStubCamera(camera.ModeStream)))
		rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodGet, "/camera/frame", nil))
		testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "no frame")
	})

	t.Run("frame", func(t *testing.T) {
		cam := testutil.NewStubCamera(camera.ModeStream)
		cam.SetFrame(3, jpegOne)
		rig := testutil.NewTestServer(t, api.WithCamera(cam))
		rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodGet, "/camera/frame", nil))
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "frame")
		if ct := rr.Header().Get("Content-Type"); ct != "image/jpeg" {
			t.Errorf("Content-Type = %q", ct)
		}
		if rr.Header().Get("X-Frame-Seq") != "3" {
			t.Errorf("X-Frame-Seq = %q", rr.Header().Get("X-Frame-Seq"))
		}
		if !bytes.Equal(rr.Body.Bytes(), jpegOne) {
			t.Errorf("body = %x", rr.Body.Bytes())
		}
	})
}

func TestCameraStreamSkipsRepeatedFrames(t *testing.T) {
	cam := testutil.NewStubCamera(camera.ModeStream)
	cam.SetFrame(1, jpegOne)
	rig := testutil.NewTestServer(t, api.WithCamera(cam), api.WithStreamFPS(100))
	ts := httptest.NewServer(rig.Server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/camera/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /camera/stream: %v", err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/x-mixed-replace" {
		t.Fatalf("Content-Type = %q (%v)", resp.Header.Get("Content-Type"), err)
	}
	// Parts are framed by Content-Length, so each one can be read before the next arrives.
	tp := textproto.NewReader(bufio.NewReader(resp.Body))
	readPart := func() []byte {
		t.Helper()
		for {
			line, err := tp.ReadLine()
			if err != nil {
				t.Fatalf("reading boundary: %v", err)
			}
			if line == "--"+params["boundary"] {
				break
			}
		}
		hdr, err := tp.ReadMIMEHeader()
		if err != nil {
			t.Fatalf("reading part header: %v", err)
		}
		if hdr.Get("Content-Type") != "image/jpeg" {
			t.Errorf("part Content-Type = %q", hdr.Get("Content-Type"))
		}
		n, err := strconv.Atoi(hdr.Get("Content-Length"))
		if err != nil {
			t.Fatalf("part Content-Length = %q", hdr.Get("Content-Length"))
		}
		data := make([]byte, n)
		if _, err := io.ReadFull(tp.R, data); err != nil {
			t.Fatalf("reading part: %v", err)
		}
		return data
	}

	if got := readPart(); !bytes.Equal(got, jpegOne) {
		t.Fatalf("first part = %q", got)
	}
	// Let the handler poll the unchanged frame a few times before replacing it.
	deadline := time.Now().Add(2 * time.Second)
	for cam.Polls() < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cam.SetFrame(2, jpegTwo)
	if got := readPart(); !bytes.Equal(got, jpegTwo) {
		t.Fatalf("second part = %q, repeated frames must be skipped", got)
	}
}

func TestCameraStreamDisabled(t *testing.T) {
	rig := testutil.NewTestServer(t, api.WithCamera(testutil.NewStubCamera(camera.ModeDisabled)))
	rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodGet, "/camera/stream", nil))
	testutil.AssertHTTPStatus(t, http.StatusServiceUnavailable, rr.Code, "disabled stream")
}

func TestCORS(t *testing.T) {
	rig := testutil.NewTestServer(t)

	rr := serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodOptions, "/action", nil))
	testutil.AssertHTTPStatus(t, http.StatusNoContent, rr.Code, "preflight")
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("preflight missing CORS header: %v", rr.Header())
	}
	if len(rig.Dog.Commands()) != 0 {
		t.Errorf("preflight must not reach the robot: %v", rig.Dog.Commands())
	}

	rr = serve(rig.Server, testutil.CreateHTTPRequest(t, http.MethodGet, "/health", nil))
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("response missing CORS header: %v", rr.Header())
	}
}

func TestServeShutsDownWithOpenStream(t *testing.T) {
	cam := testutil.NewStubCamera(camera.ModeStream)
	cam.SetFrame(1, jpegOne)
	rig := testutil.NewTestServer(t, api.WithCamera(cam), api.WithShutdownTimeout(2*time.Second))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rig.Server.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/camera/stream")
	if err != nil {
		cancel()
		t.Fatalf("GET /camera/stream: %v", err)
	}
	defer resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestRunFailsOnBusyAddress(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	s := api.NewServer(nil, api.WithAddr(ln.Addr().String()))
	if s.Addr() != ln.Addr().String() {
		t.Errorf("Addr() = %s", s.Addr())
	}
	if err := s.Run(context.Background()); err == nil {
		t.Error("Run should fail when the address is taken")
	}
}
