package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/jpeg"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-walkie/pkg/camera"
	"github.com/teslashibe/go-walkie/pkg/hub"
	"github.com/teslashibe/go-walkie/pkg/msgs"
	"github.com/teslashibe/go-walkie/pkg/robot"
	"github.com/teslashibe/go-walkie/pkg/transport"
)

type fixture struct {
	srv *Server
	r   *robot.Robot
	tm  *transport.Mock
	cm  *camera.Mock
}

func newFixture(t *testing.T, connect bool) *fixture {
	t.Helper()
	tm := transport.NewMock()
	cm := camera.NewMock(camera.Head, camera.Left)
	r, err := robot.New(robot.DefaultConfig(),
		robot.WithTransportFactory(transport.MockFactory(tm)),
		robot.WithCameraFactory(camera.MockFactory(cm)),
	)
	if err != nil {
		t.Fatal(err)
	}
	if connect {
		if err := r.Connect(context.Background()); err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { r.Close() })
	}
	srv, err := NewServer(r, DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{srv: srv, r: r, tm: tm, cm: cm}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func odometry(x, y float64) msgs.Odometry {
	var odom msgs.Odometry
	odom.Pose.Pose.Position = msgs.Point{X: x, Y: y}
	odom.Pose.Pose.Orientation = msgs.EulerToQuaternion(0, 0, 0)
	odom.Twist.Twist.Linear = msgs.Vector3{X: 0.25}
	return odom
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"empty addr", func(c *Config) { c.Addr = "" }, true},
		{"zero rate", func(c *Config) { c.CommandRate = 0 }, true},
		{"negative deadman", func(c *Config) { c.Deadman = -time.Second }, true},
		{"quality too high", func(c *Config) { c.JPEGQuality = 101 }, true},
		{"zero camera interval", func(c *Config) { c.CameraInterval = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{robot.ErrNotConnected, http.StatusServiceUnavailable},
		{robot.ErrNoCamera, http.StatusServiceUnavailable},
		{camera.ErrNoFrame, http.StatusServiceUnavailable},
		{robot.ErrTimeout, http.StatusGatewayTimeout},
		{camera.ErrUnknownCamera, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusCode(tt.err); got != tt.want {
			t.Errorf("statusCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestStatus(t *testing.T) {
	f := newFixture(t, true)

	resp, body := f.do(t, http.MethodGet, "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var st StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatal(err)
	}
	if !st.Connected || st.IP != "localhost" || st.ROSProtocol != "rosbridge" {
		t.Errorf("status = %+v", st)
	}
	if len(st.Cameras) != 2 {
		t.Errorf("cameras = %v", st.Cameras)
	}
	if st.HasOdometry || st.LastUpdate != nil {
		t.Errorf("odometry reported before any message: %+v", st)
	}
}

func TestPoseAndVelocity(t *testing.T) {
	f := newFixture(t, true)

	if resp, _ := f.do(t, http.MethodGet, "/api/pose", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("pose before odometry: status %d", resp.StatusCode)
	}

	f.tm.Emit(robot.OdomTopic, odometry(1.5, -0.5))

	resp, body := f.do(t, http.MethodGet, "/api/pose", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var pose robot.Pose
	if err := json.Unmarshal(body, &pose); err != nil {
		t.Fatal(err)
	}
	if pose.X != 1.5 || pose.Y != -0.5 {
		t.Errorf("pose = %+v", pose)
	}

	resp, body = f.do(t, http.MethodGet, "/api/velocity", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var vel robot.Velocity
	if err := json.Unmarshal(body, &vel); err != nil {
		t.Fatal(err)
	}
	if vel.Linear != 0.25 {
		t.Errorf("velocity = %+v", vel)
	}
}

func TestGoTo(t *testing.T) {
	f := newFixture(t, true)

	resp, body := f.do(t, http.MethodPost, "/api/nav/goto", GoToRequest{X: 2, Y: 3, Heading: 1, Blocking: true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"SUCCEEDED"`) {
		t.Errorf("body = %s", body)
	}
	if n := len(f.tm.Actions()); n != 1 {
		t.Errorf("actions = %d, want 1", n)
	}
}

func TestGoToTimeout(t *testing.T) {
	f := newFixture(t, true)
	f.tm.CallActionFunc = func(ctx context.Context, _ string, _ json.RawMessage, _ transport.Handler) (*transport.ActionResult, error) {
		<-ctx.Done()
		return nil, errors.Join(transport.ErrTimeout, ctx.Err())
	}

	resp, body := f.do(t, http.MethodPost, "/api/nav/goto", GoToRequest{X: 1, Blocking: true, Timeout: 0.02})
	if resp.StatusCode != http.StatusGatewayTimeout {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"FAILED"`) {
		t.Errorf("body = %s", body)
	}
}

func TestGoToBadRequest(t *testing.T) {
	f := newFixture(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/nav/goto", strings.NewReader("{"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.App().Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}

	if resp, _ := f.do(t, http.MethodPost, "/api/nav/goto", GoToRequest{Timeout: -1}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("negative timeout: status %d", resp.StatusCode)
	}
}

func TestNotConnected(t *testing.T) {
	f := newFixture(t, false)

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodPost, "/api/nav/goto", GoToRequest{X: 1}},
		{http.MethodPost, "/api/nav/cancel", nil},
		{http.MethodPost, "/api/nav/stop", nil},
		{http.MethodPost, "/api/cmd_vel", CmdVelRequest{LinearX: 0.1}},
		{http.MethodPost, "/api/arm/joints", JointsRequest{Left: []float64{1}}},
		{http.MethodGet, "/api/camera/frame", nil},
	} {
		resp, body := f.do(t, tc.method, tc.path, tc.body)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s %s: status %d, want 503: %s", tc.method, tc.path, resp.StatusCode, body)
		}
		if !strings.Contains(string(body), `"error"`) {
			t.Errorf("%s %s: body %s has no error", tc.method, tc.path, body)
		}
	}
}

func TestCancelAndStop(t *testing.T) {
	f := newFixture(t, true)

	resp, body := f.do(t, http.MethodPost, "/api/nav/cancel", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "CANCELED") {
		t.Errorf("cancel: %d %s", resp.StatusCode, body)
	}

	f.srv.Velocity().SetTarget(r3.Vector{X: 0.5}, r3.Vector{})
	resp, body = f.do(t, http.MethodPost, "/api/nav/stop", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "STOPPED") {
		t.Errorf("stop: %d %s", resp.StatusCode, body)
	}
	if l, _ := f.srv.Velocity().Target(); l.X != 0 {
		t.Errorf("stop left velocity target %v", l)
	}
	if f.tm.Cancels() != 2 {
		t.Errorf("cancels = %d, want 2", f.tm.Cancels())
	}
}

func TestCmdVel(t *testing.T) {
	f := newFixture(t, true)

	resp, body := f.do(t, http.MethodPost, "/api/cmd_vel", CmdVelRequest{LinearX: 3, AngularZ: 0.5})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var got CmdVelRequest
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	// Clamped to the linear speed limit.
	if got.LinearX != robot.MaxLinearSpeed || got.AngularZ != 0.5 {
		t.Errorf("target = %+v", got)
	}
}

func TestArmJoints(t *testing.T) {
	f := newFixture(t, true)

	if resp, _ := f.do(t, http.MethodGet, "/api/arm/joints", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("joints before state: status %d", resp.StatusCode)
	}

	f.tm.Emit(robot.JointStatesTopic, msgs.JointState{Name: []string{"right_joint1"}, Position: []float64{0.75}})
	resp, body := f.do(t, http.MethodGet, "/api/arm/joints", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	var states robot.JointStates
	if err := json.Unmarshal(body, &states); err != nil {
		t.Fatal(err)
	}
	if len(states.RightArm.Positions) != 1 || states.RightArm.Positions[0] != 0.75 {
		t.Errorf("states = %+v", states)
	}

	resp, body = f.do(t, http.MethodPost, "/api/arm/joints", JointsRequest{Mode: "velocity", Left: []float64{0.1}})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("set joints: status %d: %s", resp.StatusCode, body)
	}
	if n := len(f.tm.PublishedOn(robot.ArmCommandsTopic)); n != 1 {
		t.Errorf("arm commands = %d, want 1", n)
	}

	if resp, _ := f.do(t, http.MethodPost, "/api/arm/joints", JointsRequest{Mode: "spin"}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad mode: status %d", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/arm/joints", JointsRequest{}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty command: status %d", resp.StatusCode)
	}
}

func TestArmGoals(t *testing.T) {
	f := newFixture(t, true)

	resp, body := f.do(t, http.MethodPost, "/api/arm/home", GroupRequest{Group: "left_arm"})
	if resp.StatusCode != http.StatusAccepted || !strings.Contains(string(body), "IN_PROGRESS") {
		t.Errorf("home: %d %s", resp.StatusCode, body)
	}
	resp, body = f.do(t, http.MethodPost, "/api/arm/gripper", GroupRequest{Group: "left_gripper", Position: 0.3})
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("gripper: %d %s", resp.StatusCode, body)
	}
	if resp, _ := f.do(t, http.MethodPost, "/api/arm/home", GroupRequest{}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing group: status %d", resp.StatusCode)
	}
}

func TestCameraFrame(t *testing.T) {
	f := newFixture(t, true)

	if resp, _ := f.do(t, http.MethodGet, "/api/camera/frame", nil); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("frame before data: status %d", resp.StatusCode)
	}

	f.cm.SetFrame(camera.Left, image.NewRGBA(image.Rect(0, 0, 32, 24)))
	resp, body := f.do(t, http.MethodGet, "/api/camera/frame?camera=left&quality=50", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
	img, err := jpeg.Decode(bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("bounds = %v", b)
	}

	if resp, _ := f.do(t, http.MethodGet, "/api/camera/frame?camera=tail", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown camera: status %d", resp.StatusCode)
	}
	if resp, _ := f.do(t, http.MethodGet, "/api/camera/frame?quality=0", nil); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad quality: status %d", resp.StatusCode)
	}
}

func TestWebSocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t, false)
	resp, _ := f.do(t, http.MethodGet, "/ws/telemetry", nil)
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("status = %d, want 426", resp.StatusCode)
	}
}

func TestTelemetryWebSocket(t *testing.T) {
	f := newFixture(t, true)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.srv.Serve(ctx, ln) }()
	defer func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("Serve did not return")
		}
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws/telemetry", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Wait for the client to join before emitting.
	deadline := time.Now().Add(2 * time.Second)
	for f.srv.TelemetryHub().ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client did not join the hub")
		}
		time.Sleep(5 * time.Millisecond)
	}
	f.tm.Emit(robot.OdomTopic, odometry(4, 2))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var ev hub.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatal(err)
	}
	var update TelemetryUpdate
	if err := json.Unmarshal(ev.Data, &update); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != "telemetry" || update.Pose.X != 4 || update.Pose.Y != 2 {
		t.Errorf("event = %s", data)
	}
}
