package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/hal/haltest"
	"github.com/ja7ad/policyd/pkg/policy"
	"github.com/ja7ad/policyd/pkg/types"
)

type memPersister struct {
	mu    sync.Mutex
	saves []*policy.Store
	err   error
}

func (m *memPersister) Save(s *policy.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saves = append(m.saves, s.Clone())
	return nil
}

func (m *memPersister) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saves)
}

func (m *memPersister) last() *policy.Store {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves[len(m.saves)-1].Clone()
}

type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) Notify(c Change) {
	r.mu.Lock()
	r.changes = append(r.changes, c)
	r.mu.Unlock()
}

func (r *recorder) props() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Object + "." + c.Property
	}
	return out
}

type runner struct {
	mu   sync.Mutex
	cmds []string
}

func (r *runner) Start(cmdline string) error {
	r.mu.Lock()
	r.cmds = append(r.cmds, cmdline)
	r.mu.Unlock()
	return nil
}

type harness struct {
	*Engine
	fx   *haltest.Fixture
	file *memPersister
	rec  *recorder
	run  *runner
}

func newHarness(t *testing.T, fx *haltest.Fixture, s *policy.Store) *harness {
	t.Helper()
	if s == nil {
		s = policy.Default()
	}
	h := &harness{fx: fx, file: &memPersister{}, rec: &recorder{}, run: &runner{}}
	h.Engine = New(fx.Platform(), s, h.file, Options{
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Notifier: h.rec,
		Runner:   h.run,
		Version:  "test",
	})
	return h
}

func (h *harness) snapshot(t *testing.T) *policy.Store {
	t.Helper()
	s, err := h.Snapshot(context.Background())
	require.NoError(t, err)
	return s
}

var errEIO = hal.IOError("write", errors.New("input/output error"))

func TestSetChargeLimit_Range(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, haltest.New(), nil)

	for _, v := range []uint8{0, 19, 101, 255} {
		err := h.SetChargeLimit(ctx, v)
		require.ErrorIs(t, err, hal.ErrInvalidArgument, "limit %d", v)
	}
	assert.Zero(t, h.fx.Journal.Len())

	for _, v := range []uint8{20, 80, 100} {
		require.NoError(t, h.SetChargeLimit(ctx, v))
		assert.Equal(t, v, h.fx.Charge.Value())
		assert.Equal(t, v, h.snapshot(t).ChargeLimit)
	}
	assert.Equal(t, 3, h.file.count())
}

func TestSetChargeLimit_HardwareFailureLeavesStore(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, haltest.New(), nil)
	h.fx.Charge.FailWrites(errEIO)

	err := h.SetChargeLimit(ctx, 60)
	require.ErrorIs(t, err, hal.ErrHardwareIO)

	assert.Equal(t, uint8(100), h.snapshot(t).ChargeLimit)
	assert.Zero(t, h.file.count())
	assert.Empty(t, h.rec.props())
	assert.Equal(t, uint64(1), h.Stats().HardwareErrors.Load())
}

func TestSetChargeLimit_SaveFailureIsCounted(t *testing.T) {
	h := newHarness(t, haltest.New(), nil)
	h.file.err = errors.New("read-only file system")

	require.NoError(t, h.SetChargeLimit(context.Background(), 70))
	assert.Equal(t, uint8(70), h.snapshot(t).ChargeLimit)
	assert.Equal(t, uint64(1), h.Stats().ConfigSaveErrors.Load())
}

func TestSetChargeLimit_ClearsOneShot(t *testing.T) {
	ctx := context.Background()
	s := policy.Default()
	s.ChargeLimit = 80
	h := newHarness(t, haltest.New(), s)

	require.NoError(t, h.OneShotFullCharge(ctx))
	require.NoError(t, h.SetChargeLimit(ctx, 60))
	got := h.snapshot(t)
	assert.Equal(t, uint8(60), got.ChargeLimit)
	assert.Zero(t, got.BaseChargeLimit)
}

func TestReload_AppliesInOrderAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, haltest.New(), nil)

	require.NoError(t, h.Reload(ctx))
	want := []string{"charge=100", "epp=performance", "throttle=performance"}
	assert.Equal(t, want, h.fx.Journal.Writes())

	h.fx.Journal.Reset()
	require.NoError(t, h.Reload(ctx))
	assert.Equal(t, want, h.fx.Journal.Writes())
	assert.Equal(t, types.Performance, h.fx.Throttle.Value())
	assert.Equal(t, types.EPPPerformance, h.fx.CPU.EPP())
	assert.Zero(t, h.file.count())
}

func TestReload_RecordsPowerSource(t *testing.T) {
	fx := haltest.New()
	fx.Power.SetOnline(false)
	h := newHarness(t, fx, nil)

	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, types.Quiet, fx.Throttle.Value())
	assert.False(t, h.snapshot(t).LastPowerPlugged)
	assert.Equal(t, 1, h.file.count())
}

func TestReload_KeepsLivePolicyWhenGateClosed(t *testing.T) {
	fx := haltest.New()
	s := policy.Default()
	s.ChangePolicyOnAC = false
	h := newHarness(t, fx, s)

	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, types.Balanced, fx.Throttle.Value())
	assert.Equal(t, types.EPPBalancePerformance, fx.CPU.EPP())
}

func TestReload_ContinuesPastChargeFailure(t *testing.T) {
	fx := haltest.New()
	fx.Charge.FailWrites(errEIO)
	h := newHarness(t, fx, nil)

	require.NoError(t, h.Reload(context.Background()))
	assert.Equal(t, types.Performance, fx.Throttle.Value())
	assert.Equal(t, uint64(1), h.Stats().HardwareErrors.Load())
}

func TestNextThrottlePolicy_Cycles(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, haltest.New(), nil)

	want := []struct {
		p   types.ThrottlePolicy
		epp types.EnergyPreference
	}{
		{types.Performance, types.EPPPerformance},
		{types.Quiet, types.EPPPower},
		{types.Balanced, types.EPPBalancePerformance},
	}
	for _, w := range want {
		p, err := h.NextThrottlePolicy(ctx)
		require.NoError(t, err)
		assert.Equal(t, w.p, p)
		assert.Equal(t, w.p, h.fx.Throttle.Value())
		assert.Equal(t, w.epp, h.fx.CPU.EPP())
	}
}

func TestNextThrottlePolicy_Unsupported(t *testing.T) {
	fx := haltest.New()
	fx.Throttle = nil
	h := newHarness(t, fx, nil)

	_, err := h.NextThrottlePolicy(context.Background())
	require.ErrorIs(t, err, hal.ErrUnsupported)
}

func TestOneShotFullCharge_UnplugRestoresBase(t *testing.T) {
	ctx := context.Background()
	s := policy.Default()
	s.ChargeLimit = 80
	h := newHarness(t, haltest.New(), s)

	require.NoError(t, h.OneShotFullCharge(ctx))
	got := h.snapshot(t)
	assert.Equal(t, uint8(100), got.ChargeLimit)
	assert.Equal(t, uint8(80), got.BaseChargeLimit)
	assert.Equal(t, uint8(100), h.fx.Charge.Value())

	h.fx.Journal.Reset()
	require.NoError(t, h.PowerSourceChanged(ctx, false))
	assert.Equal(t, []string{"epp=power", "throttle=quiet", "charge=80"}, h.fx.Journal.Writes())

	got = h.snapshot(t)
	assert.Equal(t, uint8(80), got.ChargeLimit)
	assert.Zero(t, got.BaseChargeLimit)
	assert.False(t, got.LastPowerPlugged)
}

func TestOneShotFullCharge_NoopAtMax(t *testing.T) {
	h := newHarness(t, haltest.New(), nil)

	require.NoError(t, h.OneShotFullCharge(context.Background()))
	assert.Zero(t, h.fx.Journal.Len())
	assert.Zero(t, h.snapshot(t).BaseChargeLimit)
}

func TestOneShotFullCharge_HardwareFailure(t *testing.T) {
	s := policy.Default()
	s.ChargeLimit = 80
	h := newHarness(t, haltest.New(), s)
	h.fx.Charge.FailWrites(errEIO)

	require.ErrorIs(t, h.OneShotFullCharge(context.Background()), hal.ErrHardwareIO)
	got := h.snapshot(t)
	assert.Equal(t, uint8(80), got.ChargeLimit)
	assert.Zero(t, got.BaseChargeLimit)
}

func TestShutdown_RestoresBase(t *testing.T) {
	ctx := context.Background()
	s := policy.Default()
	s.ChargeLimit = 60
	h := newHarness(t, haltest.New(), s)

	require.NoError(t, h.OneShotFullCharge(ctx))
	require.NoError(t, h.Shutdown(ctx))
	assert.Equal(t, uint8(60), h.fx.Charge.Value())
	assert.Equal(t, uint8(60), h.file.last().ChargeLimit)
	assert.Zero(t, h.file.last().BaseChargeLimit)
}

func TestPowerSourceChanged_DuplicateIgnored(t *testing.T) {
	h := newHarness(t, haltest.New(), nil)

	require.NoError(t, h.PowerSourceChanged(context.Background(), true))
	assert.Zero(t, h.fx.Journal.Len())
	assert.Zero(t, h.file.count())
	assert.Empty(t, h.run.cmds)
}

func TestPowerSourceChanged_RunsCommand(t *testing.T) {
	ctx := context.Background()
	s := policy.Default()
	s.ACCommand = "/usr/bin/logger on-ac"
	s.BatteryCommand = "/usr/bin/logger on-battery"
	h := newHarness(t, haltest.New(), s)

	require.NoError(t, h.PowerSourceChanged(ctx, false))
	require.NoError(t, h.PowerSourceChanged(ctx, true))
	assert.Equal(t, []string{"/usr/bin/logger on-battery", "/usr/bin/logger on-ac"}, h.run.cmds)
}

func TestPowerSourceChanged_GateClosed(t *testing.T) {
	s := policy.Default()
	s.ChangePolicyOnBattery = false
	h := newHarness(t, haltest.New(), s)

	require.NoError(t, h.PowerSourceChanged(context.Background(), false))
	assert.Zero(t, h.fx.Journal.Len())
	assert.False(t, h.snapshot(t).LastPowerPlugged)
}

func TestSuspend_ResumeReappliesChargeFirst(t *testing.T) {
	ctx := context.Background()
	s := policy.Default()
	s.ChargeLimit = 70
	h := newHarness(t, haltest.New(), s)

	require.NoError(t, h.Suspend(ctx, true))
	assert.Zero(t, h.fx.Journal.Len())

	h.fx.Power.SetOnline(false)
	require.NoError(t, h.Suspend(ctx, false))
	writes := h.fx.Journal.Writes()
	require.NotEmpty(t, writes)
	assert.Contains(t, writes, "charge=70")
	assert.Equal(t, types.Quiet, h.fx.Throttle.Value())
	assert.False(t, h.snapshot(t).LastPowerPlugged)
}

func TestSetThrottlePolicy_GovernorFallback(t *testing.T) {
	fx := haltest.New()
	fx.CPU.UseGovernor(types.GovernorPerformance)
	h := newHarness(t, fx, nil)

	require.NoError(t, h.SetThrottlePolicy(context.Background(), types.Quiet))
	assert.Equal(t, []string{"governor=powersave", "epp=power", "throttle=quiet"}, fx.Journal.Writes())
}

func TestSetThrottlePolicy_EPPFailureIsNotFatal(t *testing.T) {
	fx := haltest.New()
	fx.CPU.FailWrites(errEIO)
	h := newHarness(t, fx, nil)

	require.NoError(t, h.SetThrottlePolicy(context.Background(), types.Performance))
	assert.Equal(t, types.Performance, fx.Throttle.Value())
}

func TestSetThrottlePolicy_FailureEmitsNothing(t *testing.T) {
	fx := haltest.New()
	fx.Throttle.FailWrites(errEIO)
	h := newHarness(t, fx, nil)

	err := h.SetThrottlePolicy(context.Background(), types.Quiet)
	require.ErrorIs(t, err, hal.ErrHardwareIO)
	assert.Empty(t, h.rec.props())
}

func TestProperties_Capabilities(t *testing.T) {
	ctx := context.Background()
	fx := haltest.New()
	fx.Charge = nil
	h := newHarness(t, fx, nil)

	_, err := h.GetProperty(ctx, types.PropChargeEndThreshold)
	require.ErrorIs(t, err, hal.ErrUnsupported)
	_, err = h.GetProperty(ctx, "fan_curve")
	require.ErrorIs(t, err, hal.ErrInvalidArgument)
	require.ErrorIs(t, h.SetProperty(ctx, types.PropVersion, "x"), hal.ErrInvalidArgument)

	v, err := h.GetProperty(ctx, types.PropVersion)
	require.NoError(t, err)
	assert.Equal(t, "test", v)

	assert.NotContains(t, h.SupportedProperties(), types.PropChargeEndThreshold)
	assert.Contains(t, h.SupportedProperties(), types.PropThrottlePolicy)
}

func TestSetProperty_Coercion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, haltest.New(), nil)

	require.NoError(t, h.SetProperty(ctx, types.PropChargeEndThreshold, uint64(75)))
	require.NoError(t, h.SetProperty(ctx, types.PropThrottleQuietEPP, "balance_power"))
	require.NoError(t, h.SetProperty(ctx, types.PropChangePolicyOnAC, false))
	require.ErrorIs(t, h.SetProperty(ctx, types.PropThrottlePolicy, int64(258)), hal.ErrInvalidArgument)
	require.ErrorIs(t, h.SetProperty(ctx, types.PropChargeEndThreshold, 80.5), hal.ErrInvalidArgument)

	got := h.snapshot(t)
	assert.Equal(t, uint8(75), got.ChargeLimit)
	assert.Equal(t, types.EPPBalancePower, got.EPP(types.Quiet))
	assert.False(t, got.ChangePolicyOnAC)

	v, err := h.GetProperty(ctx, types.PropThrottleQuietEPP)
	require.NoError(t, err)
	assert.Equal(t, types.EPPBalancePower, v)
}

func TestSetProperty_SourcePolicyAppliesWhenLive(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, haltest.New(), nil)

	require.NoError(t, h.SetProperty(ctx, types.PropThrottlePolicyOnBattery, "balanced"))
	assert.Zero(t, h.fx.Journal.Len())

	require.NoError(t, h.SetProperty(ctx, types.PropThrottlePolicyOnAC, "quiet"))
	assert.Equal(t, types.Quiet, h.fx.Throttle.Value())
}

func TestAttributes_ProfileScopedAndGeneric(t *testing.T) {
	ctx := context.Background()
	fx := haltest.New()
	fx.AddAttribute(hal.Descriptor{
		Name:    types.PptPl1Spl,
		Default: types.Some[int32](50),
		Min:     types.Some[int32](5),
		Max:     types.Some[int32](100),
	}, 50)
	fx.AddAttribute(hal.Descriptor{Name: "panel_od", Possible: []int32{0, 1}}, 0)
	h := newHarness(t, fx, nil)

	ppt, ok := h.Attributes().Get(types.PptPl1Spl)
	require.True(t, ok)
	od, ok := h.Attributes().Get("panel_od")
	require.True(t, ok)

	require.ErrorIs(t, ppt.SetCurrentValue(ctx, 101), hal.ErrInvalidArgument)
	require.ErrorIs(t, od.SetCurrentValue(ctx, 2), hal.ErrInvalidArgument)
	assert.Zero(t, fx.Journal.Len())

	require.NoError(t, ppt.SetCurrentValue(ctx, 40))
	require.NoError(t, od.SetCurrentValue(ctx, 1))

	got := h.snapshot(t)
	v, ok := got.Tuning(types.Balanced, types.PptPl1Spl)
	require.True(t, ok)
	assert.Equal(t, int32(40), v)
	assert.Equal(t, int32(1), got.AttributeSettings["panel_od"])
	_, ok = got.AttributeSettings[types.PptPl1Spl]
	assert.False(t, ok)

	require.NoError(t, h.SetThrottlePolicy(ctx, types.Performance))
	assert.Equal(t, int32(50), fx.Attrs[types.PptPl1Spl].Value())

	require.NoError(t, h.SetThrottlePolicy(ctx, types.Balanced))
	assert.Equal(t, int32(40), fx.Attrs[types.PptPl1Spl].Value())
	assert.Equal(t, int32(1), fx.Attrs["panel_od"].Value())
}

func TestAttributes_NoThrottleStoresUnderBalanced(t *testing.T) {
	fx := haltest.New()
	fx.Throttle = nil
	fx.AddAttribute(hal.Descriptor{Name: types.NvTempTarget}, 80)
	h := newHarness(t, fx, nil)

	a, ok := h.Attributes().Get(types.NvTempTarget)
	require.True(t, ok)
	require.NoError(t, a.SetCurrentValue(context.Background(), 75))

	v, ok := h.snapshot(t).Tuning(types.Balanced, types.NvTempTarget)
	require.True(t, ok)
	assert.Equal(t, int32(75), v)
}

func TestExternalConfigChanged_SingleWrite(t *testing.T) {
	ctx := context.Background()
	s := policy.Default()
	s.PolicyLinkedEPP = false
	h := newHarness(t, haltest.New(), s)

	cand := h.snapshot(t)
	cand.ThrottlePolicyOnAC = types.Quiet
	require.NoError(t, h.ExternalConfigChanged(ctx, cand, policy.Revision{}))

	assert.Equal(t, []string{"throttle=quiet"}, h.fx.Journal.Writes())
	assert.Equal(t, types.Quiet, h.snapshot(t).ThrottlePolicyOnAC)
	assert.Zero(t, h.file.count())
	assert.Equal(t, uint64(1), h.Stats().ExternalReloads.Load())
	assert.Contains(t, h.rec.props(), "platform.throttle_policy_on_ac")
}

func TestExternalConfigChanged_StoreOnlyFields(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, haltest.New(), nil)

	cand := h.snapshot(t)
	cand.ThrottlePolicyOnBattery = types.Balanced
	cand.BatteryCommand = "/usr/bin/true"
	require.NoError(t, h.ExternalConfigChanged(ctx, cand, policy.Revision{}))

	assert.Zero(t, h.fx.Journal.Len())
	got := h.snapshot(t)
	assert.Equal(t, types.Balanced, got.ThrottlePolicyOnBattery)
	assert.Equal(t, "/usr/bin/true", got.BatteryCommand)
}

func TestExternalConfigChanged_EchoIgnored(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, haltest.New(), nil)
	require.NoError(t, h.SetChargeLimit(ctx, 70))
	h.fx.Journal.Reset()

	require.NoError(t, h.ExternalConfigChanged(ctx, h.file.last(), policy.Revision{}))
	assert.Zero(t, h.fx.Journal.Len())
	assert.Zero(t, h.Stats().ExternalReloads.Load())
}

func TestExternalConfigChanged_IgnoresPowerSourceField(t *testing.T) {
	h := newHarness(t, haltest.New(), nil)

	cand := h.snapshot(t)
	cand.LastPowerPlugged = false
	require.NoError(t, h.ExternalConfigChanged(context.Background(), cand, policy.Revision{}))
	assert.True(t, h.snapshot(t).LastPowerPlugged)
	assert.Zero(t, h.Stats().ExternalReloads.Load())
}

func TestExternalConfigChanged_InvalidRejected(t *testing.T) {
	h := newHarness(t, haltest.New(), nil)

	cand := h.snapshot(t)
	cand.ChargeLimit = 5
	require.ErrorIs(t, h.ExternalConfigChanged(context.Background(), cand, policy.Revision{}), policy.ErrParse)
	assert.Equal(t, uint8(100), h.snapshot(t).ChargeLimit)
}

func TestExternalConfigChanged_ChargeFailureReverts(t *testing.T) {
	h := newHarness(t, haltest.New(), nil)
	h.fx.Charge.FailWrites(errEIO)

	cand := h.snapshot(t)
	cand.ChargeLimit = 60
	cand.ChangePolicyOnAC = false
	require.NoError(t, h.ExternalConfigChanged(context.Background(), cand, policy.Revision{}))

	got := h.snapshot(t)
	assert.Equal(t, uint8(100), got.ChargeLimit)
	assert.False(t, got.ChangePolicyOnAC)
}

func TestExternalConfigChanged_LiveTuning(t *testing.T) {
	fx := haltest.New()
	fx.AddAttribute(hal.Descriptor{Name: types.PptPl2Sppt}, 60)
	h := newHarness(t, fx, nil)

	cand := h.snapshot(t)
	cand.SetTuning(types.Balanced, types.PptPl2Sppt, 55)
	cand.SetTuning(types.Quiet, types.PptPl2Sppt, 30)
	require.NoError(t, h.ExternalConfigChanged(context.Background(), cand, policy.Revision{}))

	assert.Equal(t, []string{"attr:ppt_pl2_sppt=55"}, fx.Journal.Writes())
	v, ok := h.snapshot(t).Tuning(types.Quiet, types.PptPl2Sppt)
	require.True(t, ok)
	assert.Equal(t, int32(30), v)
}

func TestExternalConfigChanged_EditThenRevert(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, haltest.New(), nil)
	require.NoError(t, h.SetChargeLimit(ctx, 70))

	edited := h.snapshot(t)
	edited.ChargeLimit = 50
	require.NoError(t, h.ExternalConfigChanged(ctx, edited, policy.Revision{}))
	assert.Equal(t, uint8(50), h.fx.Charge.Value())

	// back to what the daemon itself saved earlier
	reverted := h.snapshot(t)
	reverted.ChargeLimit = 70
	require.NoError(t, h.ExternalConfigChanged(ctx, reverted, policy.Revision{}))

	assert.Equal(t, uint8(70), h.fx.Charge.Value())
	assert.Equal(t, uint8(70), h.snapshot(t).ChargeLimit)
	assert.Equal(t, uint64(2), h.Stats().ExternalReloads.Load())
}

func TestExternalConfigChanged_SupersededReadIgnored(t *testing.T) {
	ctx := context.Background()
	fx := haltest.New()
	file := policy.NewFile(filepath.Join(t.TempDir(), "policyd.yaml"))
	e := New(fx.Platform(), policy.Default(), file, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	require.NoError(t, e.SetChargeLimit(ctx, 70))
	stale, rev, err := file.LoadRevision()
	require.NoError(t, err)
	require.NoError(t, e.SetChargeLimit(ctx, 60))

	// a read taken before the second save arrives after it
	require.NoError(t, e.ExternalConfigChanged(ctx, stale, rev))
	live, err := e.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint8(60), live.ChargeLimit)
	assert.Equal(t, uint8(60), fx.Charge.Value())
	assert.Zero(t, e.Stats().ExternalReloads.Load())

	// an edit made after the last save is current and applies
	edited := live.Clone()
	edited.ChargeLimit = 55
	require.NoError(t, file.Save(edited))
	cand, rev, err := file.LoadRevision()
	require.NoError(t, err)
	require.NoError(t, e.ExternalConfigChanged(ctx, cand, rev))
	assert.Equal(t, uint8(55), fx.Charge.Value())
	assert.Equal(t, uint64(1), e.Stats().ExternalReloads.Load())
}

func TestThrottleDrifted_OwnWriteIgnored(t *testing.T) {
	fx := haltest.New()
	spl := fx.AddAttribute(hal.Descriptor{Name: types.PptPl1Spl, Default: types.Some[int32](45)}, 60)
	h := newHarness(t, fx, nil)
	ctx := context.Background()

	require.NoError(t, h.Reload(ctx))
	require.Equal(t, types.Performance, fx.Throttle.Value())
	fx.Journal.Reset()

	// the firmware signals the write Reload just made
	require.NoError(t, h.ThrottleDrifted(ctx))
	assert.Zero(t, fx.Journal.Len())
	assert.Equal(t, int32(60), spl.Value())

	// a real hotkey press still moves tunings to the new profile
	fx.Throttle.Drift(types.Quiet)
	require.NoError(t, h.ThrottleDrifted(ctx))
	assert.Equal(t, int32(45), spl.Value())
	assert.Equal(t, types.EPPPower, fx.CPU.EPP())
}

func TestThrottleDrifted_FollowsHotkey(t *testing.T) {
	h := newHarness(t, haltest.New(), nil)
	h.fx.Throttle.Drift(types.Quiet)

	require.NoError(t, h.ThrottleDrifted(context.Background()))
	assert.Equal(t, types.EPPPower, h.fx.CPU.EPP())
	assert.Equal(t, []string{"platform.throttle_policy"}, h.rec.props())
}

func TestAttributeDrifted_Notifies(t *testing.T) {
	fx := haltest.New()
	a := fx.AddAttribute(hal.Descriptor{Name: "panel_od"}, 0)
	h := newHarness(t, fx, nil)

	a.Drift(1)
	require.NoError(t, h.AttributeDrifted(context.Background(), "panel_od"))
	require.Len(t, h.rec.changes, 1)
	assert.Equal(t, Change{Object: "attributes/panel_od", Property: "current_value", Value: int32(1)}, h.rec.changes[0])
	assert.Empty(t, h.snapshot(t).AttributeSettings)

	require.ErrorIs(t, h.AttributeDrifted(context.Background(), "missing"), hal.ErrInvalidArgument)
}

func TestConcurrentWritesKeepStoreAndHardwareInStep(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, haltest.New(), nil)

	var wg sync.WaitGroup
	for i := range 40 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = h.SetChargeLimit(ctx, uint8(20+i))
			} else {
				_, _ = h.NextThrottlePolicy(ctx)
			}
		}()
	}
	wg.Wait()

	got := h.snapshot(t)
	assert.Equal(t, h.fx.Charge.Value(), got.ChargeLimit)
	assert.Equal(t, 20, h.file.count())
	assert.Equal(t, got.EPP(h.fx.Throttle.Value()), h.fx.CPU.EPP())
}

func TestConcurrentChargeLimitAndUnplug(t *testing.T) {
	ctx := context.Background()
	for i := range 50 {
		h := newHarness(t, haltest.New(), nil)
		require.NoError(t, h.SetChargeLimit(ctx, 70))
		require.NoError(t, h.OneShotFullCharge(ctx))

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.SetChargeLimit(ctx, 80))
		}()
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				assert.NoError(t, h.PowerSourceChanged(ctx, false))
			} else {
				h.Handle(ctx, PowerChanged{Plugged: false})
			}
		}()
		wg.Wait()

		got := h.snapshot(t)
		require.NoError(t, got.Validate())
		// in either order the explicit write lands last or cancels the override
		assert.Equal(t, uint8(80), got.ChargeLimit)
		assert.Zero(t, got.BaseChargeLimit)
		assert.Equal(t, got.ChargeLimit, h.fx.Charge.Value())
		assert.False(t, got.LastPowerPlugged)
	}
}

func TestDo_CanceledContext(t *testing.T) {
	h := newHarness(t, haltest.New(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, h.SetChargeLimit(ctx, 50), context.Canceled)
	assert.Zero(t, h.fx.Journal.Len())
}
