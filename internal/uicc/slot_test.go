package uicc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotStartsUnknown(t *testing.T) {
	deps, _, _, _ := testDeps()
	slot := newSlot(0, deps)

	assert.True(t, slot.IsStateUnknown())
	assert.Equal(t, InvalidPhoneID, slot.PhoneID())
	assert.Nil(t, slot.Card())
}

func TestSlotCardCreatedOnPresent(t *testing.T) {
	deps, _, _, _ := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateDetected))

	require.NotNil(t, slot.Card())
	assert.False(t, slot.IsStateUnknown())
	assert.Equal(t, CardStatePresent, slot.CardState())
	assert.Equal(t, 0, slot.PhoneID())
	assert.Equal(t, "89014103211118510720", slot.ICCID())
}

func TestSlotCardUpdatedInPlace(t *testing.T) {
	deps, _, _, _ := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateDetected))
	card := slot.Card()

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateReady))
	assert.Same(t, card, slot.Card(), "present-to-present keeps the card instance")
}

func TestSlotAbsentDisposesCardAndPublishes(t *testing.T) {
	deps, _, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateDetected))
	require.NotNil(t, slot.Card())

	slot.UpdateFromCardStatus(0, RadioStateOn, absentStatus())

	assert.Nil(t, slot.Card())
	assert.Equal(t, CardStateAbsent, slot.CardState())
	assert.False(t, slot.IsStateUnknown(), "confirmed absence is not unknown")
	assert.Equal(t, SimStateAbsent, pub.lastState(0))
}

func TestSlotCardSignalRadioGating(t *testing.T) {
	tests := []struct {
		name       string
		radioPrev  RadioState
		radioNext  RadioState
		wantSignal bool
	}{
		{"on to on", RadioStateOn, RadioStateOn, true},
		{"off to on", RadioStateOff, RadioStateOn, false},
		{"on to off", RadioStateOn, RadioStateOff, false},
		{"off to off", RadioStateOff, RadioStateOff, false},
		{"unavailable to on", RadioStateUnavailable, RadioStateOn, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps, _, _, pub := testDeps()
			slot := newSlot(0, deps)

			// Prime lastRadioState with a non-transition update.
			slot.UpdateFromCardStatus(0, tt.radioPrev, absentStatus())
			before := pub.signalCount()

			// Insertion.
			slot.UpdateFromCardStatus(0, tt.radioNext, usimStatus(AppStateDetected))
			inserted := pub.signalCount() - before
			if tt.wantSignal {
				assert.Equal(t, 1, inserted, "insertion signal")
			} else {
				assert.Zero(t, inserted, "insertion signal suppressed")
			}

			// Prime again so the pre-removal radio state matches radioPrev.
			slot.UpdateFromCardStatus(0, tt.radioPrev, usimStatus(AppStateDetected))
			before = pub.signalCount()

			// Removal.
			slot.UpdateFromCardStatus(0, tt.radioNext, absentStatus())
			removed := pub.signalCount() - before
			if tt.wantSignal {
				assert.Equal(t, 1, removed, "removal signal")
			} else {
				assert.Zero(t, removed, "removal signal suppressed")
			}
		})
	}
}

func TestSlotRadioUnavailableResetsToUnknown(t *testing.T) {
	deps, _, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateDetected))
	require.NotNil(t, slot.Card())

	slot.HandleRadioUnavailable()

	assert.Nil(t, slot.Card())
	assert.True(t, slot.IsStateUnknown(), "identity is unknowable while the radio is down")
	assert.Equal(t, CardStateUnknown, slot.CardState())
	assert.Equal(t, SimStateAbsent, pub.lastState(0))
}

func TestSlotEuiccDetectionFromATR(t *testing.T) {
	deps, _, _, _ := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateDetected, func(st *CardStatus) {
		st.ATR = "3B802F8200"
		st.EID = "89049032000000000000000000012345"
	}))

	assert.True(t, slot.IsEuicc())
	require.NotNil(t, slot.Card())
	assert.True(t, slot.Card().IsEuicc())
	assert.Equal(t, "89049032000000000000000000012345", slot.Card().EID())
}

func TestSlotUnparseableATRIsIgnored(t *testing.T) {
	deps, _, _, _ := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateDetected, func(st *CardStatus) {
		st.ATR = "zz"
	}))

	assert.False(t, slot.IsEuicc())
	assert.NotNil(t, slot.Card())
}

func TestSlotStatusActivation(t *testing.T) {
	deps, _, _, _ := testDeps()
	slot := newSlot(1, deps)

	slot.UpdateFromSlotStatus(SlotStatus{
		Active:           true,
		CardState:        CardStatePresent,
		LogicalSlotIndex: 0,
		ICCID:            "8901410321111851072",
	}, RadioStateOn)

	assert.True(t, slot.IsActive())
	assert.Equal(t, 0, slot.PhoneID())
	assert.False(t, slot.IsStateUnknown())
	assert.Nil(t, slot.Card(), "card construction waits for the card status")
}

func TestSlotStatusDeactivationDisposesCard(t *testing.T) {
	deps, _, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromSlotStatus(SlotStatus{Active: true, CardState: CardStatePresent, LogicalSlotIndex: 0}, RadioStateOn)
	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateDetected))
	require.NotNil(t, slot.Card())

	slot.UpdateFromSlotStatus(SlotStatus{Active: false, CardState: CardStatePresent}, RadioStateOn)

	assert.Nil(t, slot.Card())
	assert.False(t, slot.IsActive())
	assert.Equal(t, InvalidPhoneID, slot.PhoneID())
	assert.Equal(t, SimStateAbsent, pub.lastState(0))
}

func TestSlotStatusAbsentDetection(t *testing.T) {
	deps, _, _, pub := testDeps()
	slot := newSlot(0, deps)

	slot.UpdateFromCardStatus(0, RadioStateOn, usimStatus(AppStateDetected))
	require.NotNil(t, slot.Card())

	slot.UpdateFromSlotStatus(SlotStatus{Active: true, CardState: CardStateAbsent, LogicalSlotIndex: 0}, RadioStateOn)

	assert.Nil(t, slot.Card())
	assert.Equal(t, SimStateAbsent, pub.lastState(0))
}
