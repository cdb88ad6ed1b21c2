package rpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ja7ad/policyd/pkg/engine"
	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/hal/haltest"
	"github.com/ja7ad/policyd/pkg/policy"
	"github.com/ja7ad/policyd/pkg/types"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type daemon struct {
	client *Client
	engine *engine.Engine
	hub    *Hub
	stop   func()
}

func startDaemon(t *testing.T, fx *haltest.Fixture) *daemon {
	t.Helper()
	// unix socket paths are short; t.TempDir can exceed the limit
	dir, err := os.MkdirTemp("", "policyd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s")

	hub := NewHub()
	e := engine.New(fx.Platform(), policy.Default(), nil, engine.Options{Logger: quiet, Notifier: hub, Version: "1.2.3"})
	srv := NewServer(sock, quiet)
	NewSurface(e, hub).Register(srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case err := <-done:
		t.Fatalf("serve: %v", err)
	}

	return &daemon{
		client: NewClient(sock),
		engine: e,
		hub:    hub,
		stop: func() {
			cancel()
			require.NoError(t, <-done)
			_, err := os.Stat(sock)
			assert.True(t, os.IsNotExist(err), "socket left behind")
		},
	}
}

func TestPlatformProperties(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := startDaemon(t, haltest.New())
	defer d.stop()
	ctx := context.Background()

	require.NoError(t, d.client.Set(ctx, engine.ObjectPlatform, string(types.PropChargeEndThreshold), 80))
	v, err := d.client.Get(ctx, engine.ObjectPlatform, string(types.PropChargeEndThreshold))
	require.NoError(t, err)
	assert.Equal(t, uint64(80), v)

	v, err = d.client.Get(ctx, engine.ObjectPlatform, string(types.PropThrottlePolicy))
	require.NoError(t, err)
	assert.Equal(t, "balanced", v)

	require.NoError(t, d.client.Set(ctx, engine.ObjectPlatform, string(types.PropThrottlePolicy), "quiet"))
	v, err = d.client.Get(ctx, engine.ObjectPlatform, string(types.PropVersion))
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v)
}

func TestTypedErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := haltest.New()
	fx.Charge = nil
	d := startDaemon(t, fx)
	defer d.stop()
	ctx := context.Background()

	_, err := d.client.Get(ctx, engine.ObjectPlatform, string(types.PropChargeEndThreshold))
	require.ErrorIs(t, err, hal.ErrUnsupported)
	var rerr *Error
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, CodeUnsupported, rerr.Code)

	err = d.client.Set(ctx, engine.ObjectPlatform, string(types.PropThrottlePolicy), "turbo")
	require.ErrorIs(t, err, hal.ErrInvalidArgument)

	_, err = d.client.Get(ctx, "fans/cpu", "speed")
	require.ErrorIs(t, err, hal.ErrInvalidArgument)

	err = d.client.do(ctx, Request{Action: "reboot"}, nil)
	require.ErrorIs(t, err, hal.ErrInvalidArgument)
}

func TestMethods(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := startDaemon(t, haltest.New())
	defer d.stop()
	ctx := context.Background()

	v, err := d.client.Call(ctx, engine.ObjectPlatform, MethodNextThrottlePolicy)
	require.NoError(t, err)
	assert.Equal(t, "performance", v)

	v, err = d.client.Call(ctx, engine.ObjectPlatform, MethodSupportedProperties)
	require.NoError(t, err)
	assert.Contains(t, v, string(types.PropChargeEndThreshold))

	require.NoError(t, d.client.Set(ctx, engine.ObjectPlatform, string(types.PropChargeEndThreshold), 60))
	_, err = d.client.Call(ctx, engine.ObjectPlatform, MethodOneShotFullCharge)
	require.NoError(t, err)
	v, err = d.client.Get(ctx, engine.ObjectPlatform, string(types.PropChargeEndThreshold))
	require.NoError(t, err)
	assert.Equal(t, uint64(100), v)

	_, err = d.client.Call(ctx, engine.ObjectPlatform, "self_destruct")
	require.ErrorIs(t, err, hal.ErrInvalidArgument)
}

func TestAttributeObjects(t *testing.T) {
	defer goleak.VerifyNone(t)
	fx := haltest.New()
	fx.AddAttribute(hal.Descriptor{
		Name:    types.PptPl1Spl,
		Default: types.Some[int32](45),
		Min:     types.Some[int32](5),
	}, 45)
	fx.AddAttribute(hal.Descriptor{Name: "boot_sound", Possible: []int32{0, 1}}, 0)
	d := startDaemon(t, fx)
	defer d.stop()
	ctx := context.Background()

	obj := engine.AttributeObject(types.PptPl1Spl)
	v, err := d.client.Get(ctx, obj, hal.FieldMax)
	require.NoError(t, err)
	assert.Nil(t, v)
	v, err = d.client.Get(ctx, obj, hal.FieldMin)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), v)
	v, err = d.client.Get(ctx, obj, PropAvailableAttrs)
	require.NoError(t, err)
	assert.Equal(t, []any{hal.FieldDefault, hal.FieldMin}, v)

	require.NoError(t, d.client.Set(ctx, obj, PropCurrentValue, "40"))
	v, err = d.client.Get(ctx, obj, PropCurrentValue)
	require.NoError(t, err)
	assert.Equal(t, uint64(40), v)

	require.ErrorIs(t, d.client.Set(ctx, obj, hal.FieldMin, 1), hal.ErrInvalidArgument)
	require.ErrorIs(t, d.client.Set(ctx, obj, PropCurrentValue, 1), hal.ErrInvalidArgument)

	v, err = d.client.Get(ctx, engine.AttributeObject("boot_sound"), hal.FieldPossible)
	require.NoError(t, err)
	assert.Equal(t, []any{uint64(0), uint64(1)}, v)

	objs, err := d.client.Objects(ctx)
	require.NoError(t, err)
	require.Len(t, objs, 3)
	assert.Equal(t, engine.ObjectPlatform, objs[0].Path)
	assert.Equal(t, obj, objs[1].Path)
	assert.Contains(t, objs[1].Properties, hal.FieldDefault)
}

func TestSubscribe_StreamsChanges(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := startDaemon(t, haltest.New())
	defer d.stop()

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan engine.Change, 8)
	done := make(chan error, 1)
	go func() {
		done <- d.client.Subscribe(ctx, func(c engine.Change) { changes <- c })
	}()
	require.Eventually(t, func() bool { return d.hub.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, d.client.Set(context.Background(), engine.ObjectPlatform, string(types.PropChargeEndThreshold), 70))
	select {
	case c := <-changes:
		assert.Equal(t, engine.Change{Object: engine.ObjectPlatform, Property: string(types.PropChargeEndThreshold), Value: uint64(70)}, c)
	case <-time.After(5 * time.Second):
		t.Fatal("no change streamed")
	}

	cancel()
	require.NoError(t, <-done)
	require.Eventually(t, func() bool { return d.hub.Subscribers() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestStats(t *testing.T) {
	defer goleak.VerifyNone(t)
	d := startDaemon(t, haltest.New())
	defer d.stop()

	st, err := d.client.Stats(context.Background())
	require.NoError(t, err)
	for _, k := range []string{"hardware_errors", "config_save_errors", "external_reloads", "events_handled", "notifications_dropped", "subscribers"} {
		assert.Contains(t, st, k)
	}
}

func TestHub_DropsForSlowSubscriber(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe()
	for range subscriberBuffer + 1 {
		h.Notify(engine.Change{Object: "platform"})
	}
	assert.Len(t, ch, subscriberBuffer)
	assert.Equal(t, uint64(1), h.Dropped())
	h.Unsubscribe(id)
	assert.Zero(t, h.Subscribers())
}

func TestErrorCodes(t *testing.T) {
	cases := []struct {
		err      error
		code     string
		sentinel error
	}{
		{hal.Unsupportedf("x"), CodeUnsupported, hal.ErrUnsupported},
		{hal.Invalidf("x"), CodeInvalidArgument, hal.ErrInvalidArgument},
		{hal.IOError("write", io.ErrShortWrite), CodeHardwareIO, hal.ErrHardwareIO},
		{policy.ErrConfigIO, CodeConfigIO, policy.ErrConfigIO},
		{policy.ErrParse, CodeParse, policy.ErrParse},
		{errors.New("boom"), CodeFailed, nil},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.code, codeOf(tc.err))
		wire := &Error{Code: tc.code, Message: tc.err.Error()}
		assert.Equal(t, tc.sentinel, wire.Unwrap())
	}
}
