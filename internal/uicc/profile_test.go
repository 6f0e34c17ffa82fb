package uicc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loadedSlot drives a slot to a fully loaded single-USIM card.
func loadedSlot(t *testing.T) (*Slot, *fakeRecordSource, *fakePrivilegeSource, *fakePublisher) {
	t.Helper()
	deps, recs, privs, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady))
	recs.flush()
	privs.flush()

	require.Equal(t, SimStateLoaded, pub.lastState(0))
	return slot, recs, privs, pub
}

func TestProfileNotReadyToReadyToLoaded(t *testing.T) {
	deps, recs, privs, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateDetected))
	assert.Equal(t, SimStateNotReady, pub.lastState(0))

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady))
	assert.Equal(t, SimStateReady, pub.lastState(0), "records still in flight")

	recs.flush()
	assert.Equal(t, SimStateReady, pub.lastState(0), "privilege rules still in flight")

	privs.flush()
	assert.Equal(t, SimStateLoaded, pub.lastState(0))

	assert.Equal(t,
		[]SimState{SimStateNotReady, SimStateReady, SimStateLoaded},
		pub.statesFor(0),
		"each state published exactly once, in order")
}

func TestProfileOperatorPropagationOnLoaded(t *testing.T) {
	_, _, _, pub := loadedSlot(t)

	assert.Equal(t, "31026", pub.numerics[0])
	assert.Equal(t, "us", pub.isos[0], "MCC 310 resolves to the US")
	assert.Equal(t, "TestCom", pub.names[0])
}

func TestProfileBrandOverrideWinsOverSpn(t *testing.T) {
	deps, recs, privs, pub := testDeps()
	deps.brands = fakeBrands{"89014103211118510720": "BrandX"}
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady))
	recs.flush()
	privs.flush()

	require.Equal(t, SimStateLoaded, pub.lastState(0))
	assert.Equal(t, "BrandX", pub.names[0])
}

func TestProfilePinLockGatedOnLockedRecords(t *testing.T) {
	deps, recs, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStatePin, func(st *CardStatus) {
		st.Applications[0].Pin1 = PinStateEnabledNotVerified
	}))

	// The lock must not surface before the locked records are readable.
	assert.Equal(t, SimStateNotReady, pub.lastState(0))

	recs.flush()
	assert.Equal(t, SimStatePinRequired, pub.lastState(0))

	pub.mu.Lock()
	last := pub.states[len(pub.states)-1]
	pub.mu.Unlock()
	assert.Equal(t, "PIN", last.reason)
}

func TestProfilePukLockGatedOnLockedRecords(t *testing.T) {
	deps, recs, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStatePuk))
	assert.Equal(t, SimStateNotReady, pub.lastState(0))

	recs.flush()
	assert.Equal(t, SimStatePukRequired, pub.lastState(0))
}

func TestProfileNetworkLockGatedOnRecords(t *testing.T) {
	deps, recs, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateSubscriptionPerso, func(st *CardStatus) {
		st.Applications[0].PersoSubState = PersoSubStateSimNetwork
	}))
	assert.Equal(t, SimStateNotReady, pub.lastState(0))

	recs.flush()
	assert.Equal(t, SimStateNetworkLocked, pub.lastState(0))
}

func TestProfileNonNetworkPersoStaysNotReady(t *testing.T) {
	deps, recs, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateSubscriptionPerso, func(st *CardStatus) {
		st.Applications[0].PersoSubState = PersoSubStateInProgress
	}))
	recs.flush()

	assert.Equal(t, SimStateNotReady, pub.lastState(0))
}

func TestProfilePermDisabledGatedOnLockedRecords(t *testing.T) {
	deps, recs, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStatePuk, func(st *CardStatus) {
		st.Applications[0].Pin1 = PinStateEnabledPermBlocked
	}))
	assert.Equal(t, SimStateNotReady, pub.lastState(0), "perm block waits for locked records")

	recs.flush()
	assert.Equal(t, SimStatePermDisabled, pub.lastState(0))
}

func TestProfilePin1ReplacedUsesUniversalPin(t *testing.T) {
	deps, recs, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStatePuk, func(st *CardStatus) {
		st.Applications[0].Pin1Replaced = true
		st.Applications[0].Pin1 = PinStateDisabled
		st.UniversalPinState = PinStateEnabledPermBlocked
	}))
	recs.flush()

	assert.Equal(t, SimStatePermDisabled, pub.lastState(0))
}

func TestProfileCardErrorStates(t *testing.T) {
	deps, _, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady, func(st *CardStatus) {
		st.CardState = CardStateError
	}))
	assert.Equal(t, SimStateCardIOError, pub.lastState(0))

	deps2, _, _, pub2 := testDeps()
	slot2 := newSlot(0, deps2)
	slot2.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady, func(st *CardStatus) {
		st.CardState = CardStateRestricted
	}))
	assert.Equal(t, SimStateCardRestricted, pub2.lastState(0))
}

func TestProfileNoCurrentApplicationIsNotReady(t *testing.T) {
	deps, _, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady, func(st *CardStatus) {
		st.GsmUmtsSubscriptionAppIndex = -1
	}))

	assert.Equal(t, SimStateNotReady, pub.lastState(0))
}

func TestProfileDuplicateApplicationIgnored(t *testing.T) {
	deps, recs, privs, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady, func(st *CardStatus) {
		st.Applications = append(st.Applications, AppStatus{
			AID:      "A0000000871002FF",
			AppType:  AppTypeUSIM,
			AppState: AppStateDetected,
		})
	}))
	recs.flush()
	privs.flush()

	// The stuck duplicate must not hold the ready check hostage.
	assert.Equal(t, SimStateLoaded, pub.lastState(0))

	profile := slot.Card().Profile()
	snap := profile.Snapshot()
	require.Len(t, snap.Applications, 2)
	assert.False(t, snap.Applications[0].Ignored)
	assert.True(t, snap.Applications[1].Ignored)
}

func TestProfileAidChangeRecreatesApplication(t *testing.T) {
	deps, recs, privs, _ := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady))
	recs.flush()
	privs.flush()

	firstReads := recs.readCount()

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady, func(st *CardStatus) {
		st.Applications[0].AID = "A0000000871004"
	}))

	profile := slot.Card().Profile()
	snap := profile.Snapshot()
	require.Len(t, snap.Applications, 1)
	assert.Equal(t, "A0000000871004", snap.Applications[0].AID)
	assert.Greater(t, recs.readCount(), firstReads, "the recreated application re-fetches its records")
}

func TestProfileApplicationListTruncated(t *testing.T) {
	deps, recs, privs, _ := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady, func(st *CardStatus) {
		for i := 0; i < MaxApps+2; i++ {
			st.Applications = append(st.Applications, AppStatus{
				AID:      "DEAD",
				AppType:  AppTypeISIM,
				AppState: AppStateDetected,
			})
		}
	}))
	recs.flush()
	privs.flush()

	snap := slot.Card().Profile().Snapshot()
	assert.Len(t, snap.Applications, MaxApps)
}

func TestProfileShrinkingListDisposesTail(t *testing.T) {
	deps, recs, privs, _ := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady, func(st *CardStatus) {
		st.Applications = append(st.Applications, AppStatus{
			AID:      "A000000003",
			AppType:  AppTypeISIM,
			AppState: AppStateDetected,
		})
	}))
	recs.flush()
	privs.flush()

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady))

	snap := slot.Card().Profile().Snapshot()
	assert.Len(t, snap.Applications, 1)
}

func TestProfileDisposalIsChildFirstAndFinal(t *testing.T) {
	slot, recs, _, pub := loadedSlot(t)

	card := slot.Card()
	profile := card.Profile()
	app := profile.Application(Family3GPP)
	require.NotNil(t, app)
	records := app.Records()
	require.True(t, records.RecordsLoaded())

	slot.UpdateFromCardStatus(0, RadioStateOn, absentStatus())

	assert.False(t, records.RecordsLoaded(), "records are torn down with the card")
	assert.Equal(t, SimStateAbsent, pub.lastState(0))

	// Late record completions against the disposed tree are dropped.
	recs.flush()
	assert.Equal(t, SimStateAbsent, pub.lastState(0))
}

func TestProfileEuiccWaitsForEid(t *testing.T) {
	deps, recs, privs, pub := testDeps()
	slot := newSlot(0, deps)

	euiccATR := func(st *CardStatus) { st.ATR = "3B802F8200" }

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady, euiccATR))
	recs.flush()
	privs.flush()

	assert.Empty(t, pub.statesFor(0), "no state until the EID resolves")

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady, euiccATR, func(st *CardStatus) {
		st.EID = "89049032000000000000000000012345"
	}))

	assert.NotEmpty(t, pub.statesFor(0))
	assert.Equal(t, SimStateLoaded, pub.lastState(0))
}

func TestProfileRegressionIsAllowed(t *testing.T) {
	slot, recs, privs, pub := loadedSlot(t)

	// The card falls back to PIN, e.g. after a subsystem restart.
	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStatePin))
	recs.flush()
	privs.flush()

	assert.Equal(t, SimStatePinRequired, pub.lastState(0))
}

func TestProfileCurrentFamilySwitch(t *testing.T) {
	deps, recs, privs, pub := testDeps()
	deps.cdmaSupported = true
	slot := newSlot(0, deps)

	status := usimStatus(AppStateReady, func(st *CardStatus) {
		st.Applications = append(st.Applications, AppStatus{
			AID:      "A000000002",
			AppType:  AppTypeCSIM,
			AppState: AppStateReady,
		})
		st.CdmaSubscriptionAppIndex = 1
	})
	slot.UpdateFromCardStatus(0, RadioStateOn, status)
	recs.flush()
	privs.flush()
	require.Equal(t, SimStateLoaded, pub.lastState(0))

	profile := slot.Card().Profile()
	assert.Equal(t, AppTypeUSIM, profile.Application(Family3GPP).Type())
	assert.Equal(t, AppTypeCSIM, profile.Application(Family3GPP2).Type())
	assert.Nil(t, profile.Application(FamilyIMS))

	profile.SetCurrentAppFamily(Family3GPP2)
	assert.Equal(t, SimStateLoaded, profile.State())
}
