package uicc

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// CardApplication is one SIM/USIM/CSIM/ISIM application on a card. It owns
// a Records store and tracks the application-level PIN/PUK/perso/ready
// state. Applications are owned exclusively by their Profile and all
// mutation happens under the slot hierarchy lock.
type CardApplication struct {
	lock *sync.Mutex

	phoneID       int
	aid           string
	label         string
	appType       AppType
	appState      AppState
	persoSubState PersoSubState
	pin1          PinState
	pin2          PinState
	pin1Replaced  bool

	// ignored excludes a duplicate-type application from all-ready checks
	// once another application of the same type has reached ready.
	ignored  bool
	disposed bool

	records *Records
}

func newCardApplication(lock *sync.Mutex, phoneID int, status AppStatus, source RecordSource) *CardApplication {
	app := &CardApplication{
		lock:    lock,
		phoneID: phoneID,
		aid:     status.AID,
		appType: status.AppType,
		records: newRecords(lock, phoneID, status.AID, status.AppType, source),
	}
	app.applyStatusLocked(status)
	return app
}

// updateLocked applies a fresh application status in place and reports
// whether anything changed. Caller holds the tree lock.
func (a *CardApplication) updateLocked(status AppStatus) bool {
	if a.disposed {
		log.Warn().Int("phone_id", a.phoneID).Msg("Update on disposed application")
		return false
	}
	changed := a.appState != status.AppState ||
		a.appType != status.AppType ||
		a.persoSubState != status.PersoSubState ||
		a.pin1 != status.Pin1 ||
		a.pin2 != status.Pin2
	a.applyStatusLocked(status)
	return changed
}

func (a *CardApplication) applyStatusLocked(status AppStatus) {
	oldState := a.appState

	a.label = status.Label
	a.appType = status.AppType
	a.appState = status.AppState
	a.persoSubState = status.PersoSubState
	a.pin1 = status.Pin1
	a.pin2 = status.Pin2
	a.pin1Replaced = status.Pin1Replaced

	if oldState == a.appState && a.records.recordsRequested {
		return
	}

	switch a.appState {
	case AppStateReady:
		a.records.requestRecordsLocked(lockedReasonNone)
	case AppStatePin, AppStatePuk:
		if !a.records.lockedRecordsLoadedLocked() {
			a.records.requestRecordsLocked(lockedReasonLocked)
		}
	case AppStateSubscriptionPerso:
		if a.persoSubState.IsNetworkLocked() && !a.records.networkLockedRecordsLoadedLocked() {
			a.records.requestRecordsLocked(lockedReasonNetwork)
		}
	}
}

// AID returns the application identifier.
func (a *CardApplication) AID() string {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.aid
}

// Type returns the application type.
func (a *CardApplication) Type() AppType {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.appType
}

// State returns the application state.
func (a *CardApplication) State() AppState {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.appState
}

// PersoState returns the personalization sub-state.
func (a *CardApplication) PersoState() PersoSubState {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.persoSubState
}

// Pin1State returns the PIN1 state, taking PIN1 replacement by the
// universal PIN into account at the profile level.
func (a *CardApplication) Pin1State() PinState {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.pin1
}

// Records returns the application's record store.
func (a *CardApplication) Records() *Records {
	return a.records
}

// Ignored reports whether this application is excluded from all-ready
// checks as a duplicate.
func (a *CardApplication) Ignored() bool {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.ignored
}

// disposeLocked tears down the application, records first. Caller holds the
// tree lock.
func (a *CardApplication) disposeLocked() {
	if a.disposed {
		return
	}
	a.records.Dispose()
	a.disposed = true
	log.Debug().
		Int("phone_id", a.phoneID).
		Str("app_type", a.appType.String()).
		Msg("Card application disposed")
}
