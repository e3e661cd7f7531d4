package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aionloyalty/aion/internal/config"
	"github.com/aionloyalty/aion/internal/model"
	"github.com/aionloyalty/aion/internal/repository"
	"github.com/aionloyalty/aion/internal/testutil"
	"github.com/aionloyalty/aion/pkg/errutil"
	"github.com/aionloyalty/aion/pkg/ntag"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	testMasterKey = "00112233445566778899aabbccddeeff"
	testTagUID    = "04a1b2c3d4e5f6"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type tapFixture struct {
	db       *gorm.DB
	tap      *TapService
	rewards  *RewardService
	devices  *repository.DeviceRepository
	events   *repository.SecurityEventRepository
	identity *Identity
	now      time.Time
}

func (f *tapFixture) Resolve(context.Context, string) *Identity {
	return f.identity
}

func newTapFixture(t *testing.T, mutate func(cfg *config.TapConfig)) *tapFixture {
	t.Helper()

	cfg := config.TapConfig{
		AllowDevMode:    true,
		MasterKeyHex:    testMasterKey,
		RateLimitWindow: time.Minute,
		ClaimTTL:        15 * time.Minute,
		StoreTimeout:    5 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	db := testutil.NewTestDB(t)
	log := zap.NewNop()
	f := &tapFixture{
		db:      db,
		devices: repository.NewDeviceRepository(db),
		events:  repository.NewSecurityEventRepository(db),
		now:     baseTime,
	}
	clock := func() time.Time { return f.now }

	txns := repository.NewTransactionRepository(db)
	f.rewards = NewRewardService(db, f.devices, txns, repository.NewLoyaltyRepository(db), repository.NewPendingRewardRepository(db), cfg, log)
	f.rewards.now = clock

	f.tap = NewTapService(f.devices, f.events, NewAuthenticityValidator(cfg), f, f.rewards, cfg, log)
	f.tap.now = clock

	return f
}

func (f *tapFixture) addDevice(t *testing.T, uid, deviceType string, status model.DeviceStatus) *model.NFCDevice {
	t.Helper()
	device := &model.NFCDevice{UIDHex: uid, DeviceType: deviceType, Status: status}
	require.NoError(t, f.devices.Create(context.Background(), device))
	return device
}

func (f *tapFixture) lastCounter(t *testing.T, uid string) int64 {
	t.Helper()
	device, err := f.devices.FindByUID(context.Background(), uid)
	require.NoError(t, err)
	return device.LastCounter
}

func (f *tapFixture) ledgerRows(t *testing.T, device *model.NFCDevice) int64 {
	t.Helper()
	n, err := repository.NewTransactionRepository(f.db).CountByDevice(context.Background(), device.ID)
	require.NoError(t, err)
	return n
}

func (f *tapFixture) count(t *testing.T, m any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(m).Count(&n).Error)
	return n
}

func (f *tapFixture) eventTypes(t *testing.T, device *model.NFCDevice) []model.SecurityEventType {
	t.Helper()
	events, err := f.events.ListByDevice(context.Background(), device.ID)
	require.NoError(t, err)
	types := make([]model.SecurityEventType, 0, len(events))
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func signedTap(t *testing.T, counter int64) model.TapEvent {
	t.Helper()
	verifier, err := ntag.NewVerifier(testMasterKey)
	require.NoError(t, err)
	mac, err := verifier.Sign(testTagUID, uint32(counter))
	require.NoError(t, err)
	return model.TapEvent{UID: testTagUID, Counter: counter, HasCounter: true, CMAC: mac, Mode: model.TapModeProd}
}

func devTap(uid string) model.TapEvent {
	return model.TapEvent{UID: uid, Mode: model.TapModeDev}
}

func TestDevTapAnonymousIsDeferred(t *testing.T) {
	f := newTapFixture(t, nil)
	f.addDevice(t, "PROTO_001", model.DeviceTypeQRMock, model.DeviceStatusActive)

	outcome, err := f.tap.Verify(context.Background(), devTap("PROTO_001"), "")
	require.NoError(t, err)
	require.Equal(t, model.TapStatusDeferred, outcome.Status)
	require.NotEmpty(t, outcome.ClaimToken)
	require.Equal(t, baseTime.Add(15*time.Minute), outcome.ClaimExpiresAt)

	require.Equal(t, int64(1), f.lastCounter(t, "PROTO_001"))
	require.Equal(t, int64(1), f.count(t, &model.PendingReward{}))
	require.Equal(t, int64(0), f.count(t, &model.LoyaltyTransaction{}))

	reward, err := repository.NewPendingRewardRepository(f.db).FindByTokenHash(context.Background(), HashClaimToken(outcome.ClaimToken))
	require.NoError(t, err)
	require.NotEqual(t, outcome.ClaimToken, reward.TokenHash)
}

func TestDevTapAuthenticatedIsAwarded(t *testing.T) {
	f := newTapFixture(t, nil)
	f.addDevice(t, "PROTO_001", model.DeviceTypeQRMock, model.DeviceStatusActive)
	f.identity = &Identity{UserID: uuid.New(), Email: "diner@example.com"}

	outcome, err := f.tap.Verify(context.Background(), devTap("PROTO_001"), "token")
	require.NoError(t, err)
	require.Equal(t, model.TapStatusAwarded, outcome.Status)
	require.Equal(t, 1, outcome.Stamps)

	require.Equal(t, int64(1), f.count(t, &model.LoyaltyTransaction{}))
	require.Equal(t, int64(0), f.count(t, &model.PendingReward{}))
}

func TestDevTapWithCounterAboveLastCounter(t *testing.T) {
	tests := []struct {
		name     string
		identity *Identity
		bearer   string
		status   model.TapStatus
		ledger   int64
		claims   int64
	}{
		{
			name:     "authenticated tap is awarded",
			identity: &Identity{UserID: uuid.New()},
			bearer:   "token",
			status:   model.TapStatusAwarded,
			ledger:   1,
		},
		{
			name:   "anonymous tap is deferred",
			status: model.TapStatusDeferred,
			claims: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTapFixture(t, nil)
			ctx := context.Background()
			device := &model.NFCDevice{UIDHex: "PROTO_001", DeviceType: model.DeviceTypeQRMock, Status: model.DeviceStatusActive, LastCounter: 3}
			require.NoError(t, f.devices.Create(ctx, device))
			f.identity = tt.identity
			ev := model.TapEvent{UID: "PROTO_001", Counter: 4, HasCounter: true, Mode: model.TapModeDev}

			outcome, err := f.tap.Verify(ctx, ev, tt.bearer)
			require.NoError(t, err)
			require.Equal(t, tt.status, outcome.Status)
			if tt.status == model.TapStatusAwarded {
				require.Equal(t, 1, outcome.Stamps)
				require.Empty(t, outcome.ClaimToken)
			} else {
				require.NotEmpty(t, outcome.ClaimToken)
			}
			require.Equal(t, int64(4), f.lastCounter(t, "PROTO_001"))
			require.Equal(t, tt.ledger, f.ledgerRows(t, device))
			require.Equal(t, tt.claims, f.count(t, &model.PendingReward{}))

			// Same request again, outside the rate limit window.
			f.now = baseTime.Add(2 * time.Minute)
			_, err = f.tap.Verify(ctx, ev, tt.bearer)
			require.ErrorIs(t, err, errutil.ErrReplayDetected)

			require.Equal(t, int64(4), f.lastCounter(t, "PROTO_001"))
			require.Equal(t, tt.ledger, f.ledgerRows(t, device))
			require.Equal(t, tt.claims, f.count(t, &model.PendingReward{}))
			require.Equal(t, []model.SecurityEventType{model.SecurityEventReplayAttack}, f.eventTypes(t, device))
		})
	}
}

func TestDevTapAtOrBelowLastCounterIsReplay(t *testing.T) {
	tests := []struct {
		name        string
		lastCounter int64
		counter     int64
	}{
		{name: "equal", lastCounter: 3, counter: 3},
		{name: "below", lastCounter: 3, counter: 2},
		{name: "zero on a fresh device", lastCounter: 0, counter: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTapFixture(t, nil)
			ctx := context.Background()
			device := &model.NFCDevice{UIDHex: "PROTO_001", DeviceType: model.DeviceTypeQRMock, Status: model.DeviceStatusActive, LastCounter: tt.lastCounter}
			require.NoError(t, f.devices.Create(ctx, device))
			f.identity = &Identity{UserID: uuid.New()}

			_, err := f.tap.Verify(ctx, model.TapEvent{UID: "PROTO_001", Counter: tt.counter, HasCounter: true, Mode: model.TapModeDev}, "token")
			require.ErrorIs(t, err, errutil.ErrReplayDetected)
			require.Equal(t, tt.lastCounter, f.lastCounter(t, "PROTO_001"))
			require.Zero(t, f.ledgerRows(t, device))
			require.Zero(t, f.count(t, &model.PendingReward{}))
		})
	}
}

func TestRateLimitAppliesToAnonymousTaps(t *testing.T) {
	f := newTapFixture(t, nil)
	f.addDevice(t, "PROTO_001", model.DeviceTypeQRMock, model.DeviceStatusActive)
	ctx := context.Background()

	_, err := f.tap.Verify(ctx, devTap("PROTO_001"), "")
	require.NoError(t, err)

	f.now = baseTime.Add(30 * time.Second)
	_, err = f.tap.Verify(ctx, devTap("PROTO_001"), "")
	require.ErrorIs(t, err, errutil.ErrRateLimited)
	require.Equal(t, int64(1), f.count(t, &model.PendingReward{}))
	require.Equal(t, int64(1), f.lastCounter(t, "PROTO_001"))

	f.now = baseTime.Add(61 * time.Second)
	outcome, err := f.tap.Verify(ctx, devTap("PROTO_001"), "")
	require.NoError(t, err)
	require.Equal(t, model.TapStatusDeferred, outcome.Status)
	require.Equal(t, int64(2), f.count(t, &model.PendingReward{}))
}

func TestRateLimitWindow(t *testing.T) {
	f := newTapFixture(t, nil)
	f.addDevice(t, "PROTO_001", model.DeviceTypeQRMock, model.DeviceStatusActive)
	f.identity = &Identity{UserID: uuid.New()}
	ctx := context.Background()

	_, err := f.tap.Verify(ctx, devTap("PROTO_001"), "token")
	require.NoError(t, err)

	f.now = baseTime.Add(30 * time.Second)
	_, err = f.tap.Verify(ctx, devTap("PROTO_001"), "token")
	require.ErrorIs(t, err, errutil.ErrRateLimited)
	require.Equal(t, int64(1), f.lastCounter(t, "PROTO_001"))

	f.now = baseTime.Add(61 * time.Second)
	outcome, err := f.tap.Verify(ctx, devTap("PROTO_001"), "token")
	require.NoError(t, err)
	require.Equal(t, 2, outcome.Stamps)
}

func TestProdTapReplayIsRejected(t *testing.T) {
	f := newTapFixture(t, nil)
	device := f.addDevice(t, testTagUID, model.DeviceTypeNTAG424, model.DeviceStatusActive)
	f.identity = &Identity{UserID: uuid.New()}
	ctx := context.Background()

	outcome, err := f.tap.Verify(ctx, signedTap(t, 5), "token")
	require.NoError(t, err)
	require.Equal(t, model.TapStatusAwarded, outcome.Status)
	require.Equal(t, int64(5), f.lastCounter(t, testTagUID))

	f.now = baseTime.Add(2 * time.Minute)
	_, err = f.tap.Verify(ctx, signedTap(t, 5), "token")
	require.ErrorIs(t, err, errutil.ErrReplayDetected)

	_, err = f.tap.Verify(ctx, signedTap(t, 4), "token")
	require.ErrorIs(t, err, errutil.ErrReplayDetected)

	require.Equal(t, int64(5), f.lastCounter(t, testTagUID))
	require.Equal(t, int64(1), f.count(t, &model.LoyaltyTransaction{}))
	require.Equal(t, []model.SecurityEventType{model.SecurityEventReplayAttack, model.SecurityEventReplayAttack}, f.eventTypes(t, device))

	outcome, err = f.tap.Verify(ctx, signedTap(t, 6), "token")
	require.NoError(t, err)
	require.Equal(t, 2, outcome.Stamps)
}

func TestProdTapInvalidSignatureMutatesNothing(t *testing.T) {
	f := newTapFixture(t, nil)
	device := f.addDevice(t, testTagUID, model.DeviceTypeNTAG424, model.DeviceStatusActive)
	f.identity = &Identity{UserID: uuid.New()}

	ev := signedTap(t, 9)
	ev.CMAC = "0000000000000000"
	_, err := f.tap.Verify(context.Background(), ev, "token")
	require.ErrorIs(t, err, errutil.ErrInvalidSignature)

	ev = signedTap(t, 9)
	ev.Counter = 10
	_, err = f.tap.Verify(context.Background(), ev, "token")
	require.ErrorIs(t, err, errutil.ErrInvalidSignature)

	require.Equal(t, int64(0), f.lastCounter(t, testTagUID))
	require.Equal(t, int64(0), f.count(t, &model.LoyaltyTransaction{}))
	require.Equal(t, int64(0), f.count(t, &model.PendingReward{}))
	require.Equal(t, []model.SecurityEventType{model.SecurityEventInvalidSignature, model.SecurityEventInvalidSignature}, f.eventTypes(t, device))
}

func TestProdTapRequiresCounterAndCMAC(t *testing.T) {
	f := newTapFixture(t, nil)
	f.addDevice(t, testTagUID, model.DeviceTypeNTAG424, model.DeviceStatusActive)

	_, err := f.tap.Verify(context.Background(), model.TapEvent{UID: testTagUID, Mode: model.TapModeProd, Counter: 1, HasCounter: true}, "")
	require.ErrorIs(t, err, errutil.ErrMissingParameter)

	_, err = f.tap.Verify(context.Background(), model.TapEvent{UID: testTagUID, Mode: model.TapModeProd, CMAC: "00"}, "")
	require.ErrorIs(t, err, errutil.ErrMissingParameter)
}

func TestProdTapWithoutMasterKeyFailsClosed(t *testing.T) {
	f := newTapFixture(t, func(cfg *config.TapConfig) { cfg.MasterKeyHex = "" })
	f.addDevice(t, testTagUID, model.DeviceTypeNTAG424, model.DeviceStatusActive)

	_, err := f.tap.Verify(context.Background(), signedTap(t, 1), "")
	require.ErrorIs(t, err, errutil.ErrInternal)
	require.Equal(t, int64(0), f.lastCounter(t, testTagUID))
}

func TestDevTapRejectedWhenDevModeDisabled(t *testing.T) {
	f := newTapFixture(t, func(cfg *config.TapConfig) { cfg.AllowDevMode = false })
	device := f.addDevice(t, "PROTO_001", model.DeviceTypeQRMock, model.DeviceStatusActive)
	f.identity = &Identity{UserID: uuid.New()}

	_, err := f.tap.Verify(context.Background(), devTap("PROTO_001"), "token")
	require.ErrorIs(t, err, errutil.ErrInvalidSignature)
	require.Equal(t, []model.SecurityEventType{model.SecurityEventDevModeRejected}, f.eventTypes(t, device))
	require.Equal(t, int64(0), f.lastCounter(t, "PROTO_001"))
}

func TestUnknownAndInactiveDevicesAreIndistinguishable(t *testing.T) {
	f := newTapFixture(t, nil)
	f.addDevice(t, "PROTO_002", model.DeviceTypeQRMock, model.DeviceStatusRevoked)
	f.addDevice(t, "PROTO_003", model.DeviceTypeQRMock, model.DeviceStatusInactive)

	for _, uid := range []string{"PROTO_404", "PROTO_002", "PROTO_003"} {
		_, err := f.tap.Verify(context.Background(), devTap(uid), "")
		require.ErrorIs(t, err, errutil.ErrDeviceNotFound, uid)
	}
	require.Equal(t, int64(0), f.count(t, &model.SecurityEvent{}))
}

func TestConcurrentTapsWithSameCounterAwardOnce(t *testing.T) {
	f := newTapFixture(t, nil)
	f.addDevice(t, testTagUID, model.DeviceTypeNTAG424, model.DeviceStatusActive)
	f.identity = &Identity{UserID: uuid.New()}
	ev := signedTap(t, 7)

	const taps = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < taps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.tap.Verify(context.Background(), ev, "token")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, successes)
	for _, err := range failures {
		reason := errutil.ReasonOf(err)
		require.Contains(t, []errutil.Reason{errutil.ReasonReplayDetected, errutil.ReasonRateLimited}, reason)
	}
	require.Equal(t, int64(7), f.lastCounter(t, testTagUID))
	require.Equal(t, int64(1), f.count(t, &model.LoyaltyTransaction{}))
}

func TestClaimRedeemsOnceBeforeExpiry(t *testing.T) {
	f := newTapFixture(t, nil)
	f.addDevice(t, "PROTO_001", model.DeviceTypeQRMock, model.DeviceStatusActive)
	ctx := context.Background()

	outcome, err := f.tap.Verify(ctx, devTap("PROTO_001"), "")
	require.NoError(t, err)

	userID := uuid.New()
	f.now = baseTime.Add(15*time.Minute - time.Second)
	stamps, err := f.rewards.Redeem(ctx, outcome.ClaimToken, userID)
	require.NoError(t, err)
	require.Equal(t, 1, stamps)

	_, err = f.rewards.Redeem(ctx, outcome.ClaimToken, userID)
	require.ErrorIs(t, err, errutil.ErrClaimInvalid)

	_, err = f.rewards.Redeem(ctx, outcome.ClaimToken, uuid.New())
	require.ErrorIs(t, err, errutil.ErrClaimInvalid)

	cards, err := f.rewards.Cards(ctx, userID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.Equal(t, 1, cards[0].CurrentStamps)
	require.Empty(t, cards[0].RestaurantID)
}

func TestClaimExpiresAfterTTL(t *testing.T) {
	f := newTapFixture(t, nil)
	f.addDevice(t, "PROTO_001", model.DeviceTypeQRMock, model.DeviceStatusActive)
	ctx := context.Background()

	outcome, err := f.tap.Verify(ctx, devTap("PROTO_001"), "")
	require.NoError(t, err)

	f.now = baseTime.Add(15 * time.Minute)
	_, err = f.rewards.Redeem(ctx, outcome.ClaimToken, uuid.New())
	require.ErrorIs(t, err, errutil.ErrClaimInvalid)
	require.Equal(t, int64(0), f.count(t, &model.LoyaltyTransaction{}))

	_, err = f.rewards.Redeem(ctx, "", uuid.New())
	require.ErrorIs(t, err, errutil.ErrClaimInvalid)
}

func TestAwardCreditsAssignedRestaurant(t *testing.T) {
	f := newTapFixture(t, nil)
	restaurantID := uuid.New()
	device := &model.NFCDevice{UIDHex: "PROTO_004", DeviceType: model.DeviceTypeQRMock, Status: model.DeviceStatusActive, AssignedRestaurantID: &restaurantID}
	require.NoError(t, f.devices.Create(context.Background(), device))
	userID := uuid.New()
	f.identity = &Identity{UserID: userID}

	_, err := f.tap.Verify(context.Background(), devTap("PROTO_004"), "token")
	require.NoError(t, err)

	cards, err := f.rewards.Cards(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, cards, 1)
	require.Equal(t, restaurantID.String(), cards[0].RestaurantID)
}
