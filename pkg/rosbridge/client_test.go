package rosbridge_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/teslashibe/go-walkie/pkg/rosbridge"
	"github.com/teslashibe/go-walkie/pkg/rosbridge/rosbridgetest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newClient(t *testing.T, url string, mutate func(*rosbridge.Config)) *rosbridge.Client {
	t.Helper()
	cfg := rosbridge.DefaultConfig()
	cfg.URL = url
	cfg.PingInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := rosbridge.NewClient(cfg, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*rosbridge.Config)
		wantErr bool
	}{
		{"default", func(*rosbridge.Config) {}, false},
		{"cbor", func(c *rosbridge.Config) { c.Compression = "cbor" }, false},
		{"empty url", func(c *rosbridge.Config) { c.URL = "" }, true},
		{"http scheme", func(c *rosbridge.Config) { c.URL = "http://localhost:9090" }, true},
		{"no host", func(c *rosbridge.Config) { c.URL = "ws://" }, true},
		{"bad compression", func(c *rosbridge.Config) { c.Compression = "png" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := rosbridge.DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestURLFor(t *testing.T) {
	if got := rosbridge.URLFor("10.0.0.5", 0); got != "ws://10.0.0.5:9090" {
		t.Errorf("URLFor() = %q", got)
	}
	if got := rosbridge.URLFor("robot", 9191); got != "ws://robot:9191" {
		t.Errorf("URLFor() = %q", got)
	}
}

func TestNotConnected(t *testing.T) {
	c, err := rosbridge.NewClient(rosbridge.DefaultConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true before Connect")
	}
	if err := c.Publish("cmd_vel", "geometry_msgs/msg/Twist", struct{}{}); !errors.Is(err, rosbridge.ErrNotConnected) {
		t.Errorf("Publish() error = %v, want ErrNotConnected", err)
	}
	if _, err := c.Subscribe("odom", "nav_msgs/msg/Odometry", rosbridge.SubscribeOptions{}, func(json.RawMessage) {}); !errors.Is(err, rosbridge.ErrNotConnected) {
		t.Errorf("Subscribe() error = %v, want ErrNotConnected", err)
	}
	if _, err := c.CallService(context.Background(), "/srv", "", nil); !errors.Is(err, rosbridge.ErrNotConnected) {
		t.Errorf("CallService() error = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPublishAdvertisesOnce(t *testing.T) {
	srv := rosbridgetest.NewServer()
	defer srv.Close()
	c := newClient(t, srv.URL(), nil)

	for i := 0; i < 3; i++ {
		if err := c.Publish("/cmd_vel", "geometry_msgs/msg/Twist", map[string]any{"i": i}); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for srv.Count(rosbridge.OpPublish) < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if n := srv.Count(rosbridge.OpAdvertise); n != 1 {
		t.Errorf("advertise count = %d, want 1", n)
	}
	adv, _ := srv.WaitFor(rosbridge.OpAdvertise, "/cmd_vel", time.Second)
	if adv.Type != "geometry_msgs/msg/Twist" {
		t.Errorf("advertise type = %q", adv.Type)
	}
	if n := srv.Count(rosbridge.OpPublish); n != 3 {
		t.Errorf("publish count = %d, want 3", n)
	}
}

func TestSubscribeReceivesMessages(t *testing.T) {
	srv := rosbridgetest.NewServer()
	defer srv.Close()
	c := newClient(t, srv.URL(), nil)

	got := make(chan json.RawMessage, 4)
	id, err := c.Subscribe("/odom", "nav_msgs/msg/Odometry",
		rosbridge.SubscribeOptions{ThrottleRate: 100 * time.Millisecond, QueueLength: 1},
		func(msg json.RawMessage) { got <- msg })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	req, ok := srv.WaitFor(rosbridge.OpSubscribe, "/odom", time.Second)
	if !ok {
		t.Fatal("server never saw subscribe")
	}
	if req.ThrottleRate != 100 || req.QueueLength != 1 || req.Type != "nav_msgs/msg/Odometry" {
		t.Errorf("subscribe request = %+v", req)
	}
	if req.Compression != "" {
		t.Errorf("compression = %q, want none", req.Compression)
	}

	srv.Publish("/other", map[string]any{"x": 0})
	srv.Publish("/odom", map[string]any{"x": 1.5})

	select {
	case msg := <-got:
		var m map[string]float64
		json.Unmarshal(msg, &m)
		if m["x"] != 1.5 {
			t.Errorf("message = %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	if err := c.Unsubscribe(id); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if _, ok := srv.WaitFor(rosbridge.OpUnsubscribe, "/odom", time.Second); !ok {
		t.Error("server never saw unsubscribe")
	}
}

func TestSubscribeCBOR(t *testing.T) {
	srv := rosbridgetest.NewServer()
	defer srv.Close()
	c := newClient(t, srv.URL(), func(cfg *rosbridge.Config) { cfg.Compression = "cbor" })

	got := make(chan json.RawMessage, 1)
	if _, err := c.Subscribe("/joint_states", "sensor_msgs/msg/JointState", rosbridge.SubscribeOptions{},
		func(msg json.RawMessage) { got <- msg }); err != nil {
		t.Fatal(err)
	}
	req, _ := srv.WaitFor(rosbridge.OpSubscribe, "/joint_states", time.Second)
	if req.Compression != "cbor" {
		t.Errorf("compression = %q, want cbor", req.Compression)
	}

	srv.PublishCBOR("/joint_states", map[string]any{
		"name":     []string{"left_joint1"},
		"position": []float64{0.25},
	})

	select {
	case msg := <-got:
		var js struct {
			Name     []string  `json:"name"`
			Position []float64 `json:"position"`
		}
		if err := json.Unmarshal(msg, &js); err != nil {
			t.Fatalf("handler got invalid JSON: %v", err)
		}
		if len(js.Name) != 1 || js.Name[0] != "left_joint1" || js.Position[0] != 0.25 {
			t.Errorf("decoded = %+v", js)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no CBOR message delivered")
	}
}

func TestCallService(t *testing.T) {
	srv := rosbridgetest.NewServer()
	defer srv.Close()
	srv.ServiceFunc = func(req rosbridgetest.Request) (any, bool) {
		if req.Service == "/fail" {
			return "boom", false
		}
		return map[string]any{"sum": 3}, true
	}
	c := newClient(t, srv.URL(), nil)
	ctx := context.Background()

	values, err := c.CallService(ctx, "/add", "example/srv/Add", map[string]int{"a": 1, "b": 2})
	if err != nil {
		t.Fatalf("CallService() error = %v", err)
	}
	var resp map[string]int
	json.Unmarshal(values, &resp)
	if resp["sum"] != 3 {
		t.Errorf("response = %s", values)
	}

	_, err = c.CallService(ctx, "/fail", "", nil)
	var se *rosbridge.ServiceError
	if !errors.As(err, &se) || se.Message != "boom" {
		t.Errorf("CallService(/fail) error = %v, want ServiceError boom", err)
	}
}

func TestCallServiceContextTimeout(t *testing.T) {
	srv := rosbridgetest.NewServer()
	defer srv.Close()
	block := make(chan struct{})
	defer close(block)
	srv.ServiceFunc = func(req rosbridgetest.Request) (any, bool) {
		<-block
		return nil, true
	}
	c := newClient(t, srv.URL(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.CallService(ctx, "/slow", "", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("CallService() error = %v, want deadline exceeded", err)
	}
}

func TestActionGoalWithFeedback(t *testing.T) {
	srv := rosbridgetest.NewServer()
	defer srv.Close()
	srv.ActionFunc = func(ctx context.Context, req rosbridgetest.Request, feedback func(any)) (any, rosbridge.GoalStatus) {
		feedback(map[string]any{"distance_remaining": 1.0})
		return map[string]any{"ok": true}, rosbridge.GoalStatusSucceeded
	}
	c := newClient(t, srv.URL(), nil)

	var mu sync.Mutex
	var feedback []json.RawMessage
	g, err := c.SendActionGoal("/navigate_to_pose", "nav2_msgs/action/NavigateToPose",
		map[string]any{"pose": map[string]any{}},
		func(msg json.RawMessage) {
			mu.Lock()
			feedback = append(feedback, msg)
			mu.Unlock()
		})
	if err != nil {
		t.Fatalf("SendActionGoal() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := g.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !res.Succeeded || res.Status != rosbridge.GoalStatusSucceeded {
		t.Errorf("result = %+v", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(feedback) != 1 {
		t.Errorf("feedback count = %d, want 1", len(feedback))
	}

	req, _ := srv.WaitFor(rosbridge.OpSendActionGoal, "/navigate_to_pose", time.Second)
	if req.ActionType != "nav2_msgs/action/NavigateToPose" {
		t.Errorf("action_type = %q", req.ActionType)
	}
}

func TestCancelActionGoal(t *testing.T) {
	srv := rosbridgetest.NewServer()
	defer srv.Close()
	srv.ActionFunc = func(ctx context.Context, req rosbridgetest.Request, feedback func(any)) (any, rosbridge.GoalStatus) {
		<-ctx.Done()
		return map[string]any{}, rosbridge.GoalStatusCanceled
	}
	c := newClient(t, srv.URL(), nil)

	g, err := c.SendActionGoal("/navigate_to_pose", "nav2_msgs/action/NavigateToPose", map[string]any{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := srv.WaitFor(rosbridge.OpSendActionGoal, "", time.Second); !ok {
		t.Fatal("goal never reached server")
	}
	if err := c.CancelActionGoal(g.Action, g.ID); err != nil {
		t.Fatalf("CancelActionGoal() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := g.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res.Succeeded || res.Status != rosbridge.GoalStatusCanceled {
		t.Errorf("result = %+v, want canceled", res)
	}
}

func TestDroppedConnectionFailsPendingGoals(t *testing.T) {
	srv := rosbridgetest.NewServer()
	defer srv.Close()
	srv.ActionFunc = func(ctx context.Context, req rosbridgetest.Request, feedback func(any)) (any, rosbridge.GoalStatus) {
		<-ctx.Done()
		return nil, rosbridge.GoalStatusAborted
	}
	c := newClient(t, srv.URL(), nil)

	g, err := c.SendActionGoal("/long", "x/action/Long", map[string]any{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	srv.WaitFor(rosbridge.OpSendActionGoal, "/long", time.Second)
	srv.DropClients()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := g.Wait(ctx); !errors.Is(err, rosbridge.ErrClosed) {
		t.Errorf("Wait() error = %v, want ErrClosed", err)
	}

	deadline := time.Now().Add(time.Second)
	for c.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if c.IsConnected() {
		t.Error("client still reports connected after drop")
	}
}

func TestReconnectResubscribes(t *testing.T) {
	srv := rosbridgetest.NewServer()
	defer srv.Close()
	c := newClient(t, srv.URL(), nil)

	if _, err := c.Subscribe("/odom", "nav_msgs/msg/Odometry", rosbridge.SubscribeOptions{}, func(json.RawMessage) {}); err != nil {
		t.Fatal(err)
	}
	srv.WaitFor(rosbridge.OpSubscribe, "/odom", time.Second)
	srv.DropClients()

	deadline := time.Now().Add(time.Second)
	for c.IsConnected() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}

	deadline = time.Now().Add(2 * time.Second)
	for srv.Count(rosbridge.OpSubscribe) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := srv.Count(rosbridge.OpSubscribe); n != 2 {
		t.Errorf("subscribe count = %d, want 2 after reconnect", n)
	}
	if s := c.Stats(); s.ReconnectCount != 1 || !s.Connected {
		t.Errorf("stats = %+v", s)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := rosbridgetest.NewServer()
	defer srv.Close()
	c := newClient(t, srv.URL(), nil)

	if err := c.Close(); err != nil {
		t.Errorf("first Close() error = %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, rosbridge.ErrClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}
}
