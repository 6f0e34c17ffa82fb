package uicc

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/uicc-server/uicc-server-pro/pkg/mcc"
)

// StatePublisher broadcasts SIM state and identity to the rest of the
// telephony stack. It is the only channel through which this package is
// visible to the host; implementations must not call back into the card
// tree.
type StatePublisher interface {
	UpdateInternalIccState(phoneID int, state SimState, reason string)
	SetSimOperatorNumeric(phoneID int, numeric string)
	SetSimOperatorName(phoneID int, name string)
	SetSimCountryISO(phoneID int, iso string)
	NotifyCarrierConfigReset(phoneID int)
	NotifyCardSignal(slotIndex int, added bool)
}

// BrandOverrideStore resolves persisted operator-brand overrides by ICCID.
type BrandOverrideStore interface {
	BrandOverride(iccid string) (string, bool)
}

// treeDeps bundles the collaborators handed down the slot hierarchy at
// construction time.
type treeDeps struct {
	publisher  StatePublisher
	records    RecordSource
	privileges PrivilegeSource
	brands     BrandOverrideStore

	cdmaSupported bool
}

// Profile is the per-logical-phone view of one card. It owns the
// application array, derives the externally visible SIM state and owns the
// carrier-privilege rules. The external state is not stored input: it is
// recomputed from scratch after every trigger and may regress.
type Profile struct {
	lock *sync.Mutex
	deps treeDeps

	phoneID  int
	disposed bool

	cardState         CardState
	universalPinState PinState
	currentFamily     AppFamily

	gsmIndex  int
	cdmaIndex int
	imsIndex  int

	apps [MaxApps]*CardApplication

	iccid    string
	isEuicc  bool
	eidReady bool

	externalState SimState
	privileges    *CarrierPrivileges

	privilegesLoadedReg *Registry[int]
}

func newProfile(lock *sync.Mutex, phoneID int, isEuicc bool, deps treeDeps) *Profile {
	return &Profile{
		lock:                lock,
		deps:                deps,
		phoneID:             phoneID,
		isEuicc:             isEuicc,
		currentFamily:       Family3GPP,
		gsmIndex:            -1,
		cdmaIndex:           -1,
		imsIndex:            -1,
		externalState:       SimStateUnknown,
		privilegesLoadedReg: NewStickyRegistry[int](),
	}
}

// updateLocked applies a fresh card status. Caller holds the tree lock.
func (p *Profile) updateLocked(phoneID int, status *CardStatus) {
	if p.disposed {
		log.Warn().Int("phone_id", phoneID).Msg("Update on disposed profile")
		return
	}

	p.phoneID = phoneID
	p.cardState = status.CardState
	p.universalPinState = status.UniversalPinState
	p.gsmIndex = status.GsmUmtsSubscriptionAppIndex
	p.cdmaIndex = status.CdmaSubscriptionAppIndex
	p.imsIndex = status.ImsSubscriptionAppIndex
	if status.ICCID != "" {
		p.iccid = status.ICCID
	}
	if p.isEuicc && status.EID != "" {
		p.eidReady = true
	}

	p.updateApplicationsLocked(status.Applications)
	p.updatePrivilegesLocked()
	p.recomputeAndPublishLocked(false)
}

// updateApplicationsLocked runs the index-matched application update
// protocol: position i is created if newly present, updated in place if
// still present and disposed when the new list is shorter. The modem
// contract assumes stable ordering across updates; a changed AID at the
// same index is treated as a missed swap and recreated with a warning.
func (p *Profile) updateApplicationsLocked(statuses []AppStatus) {
	n := len(statuses)
	if n > MaxApps {
		log.Warn().
			Int("phone_id", p.phoneID).
			Int("count", n).
			Msg("Card reports more applications than supported, truncating")
		n = MaxApps
	}

	for i := 0; i < n; i++ {
		st := statuses[i]
		switch {
		case p.apps[i] == nil:
			p.createApplicationLocked(i, st)
		case p.apps[i].aid != st.AID:
			log.Warn().
				Int("phone_id", p.phoneID).
				Int("index", i).
				Str("old_aid", p.apps[i].aid).
				Str("new_aid", st.AID).
				Msg("Application AID changed at index, recreating")
			p.apps[i].disposeLocked()
			p.createApplicationLocked(i, st)
		default:
			p.apps[i].updateLocked(st)
		}
	}
	for i := n; i < MaxApps; i++ {
		if p.apps[i] != nil {
			p.apps[i].disposeLocked()
			p.apps[i] = nil
		}
	}
}

func (p *Profile) createApplicationLocked(i int, st AppStatus) {
	app := newCardApplication(p.lock, p.phoneID, st, p.deps.records)
	p.apps[i] = app
	app.records.RegisterForRecordsLoaded(func(int) { p.onRecordsEventLocked() })
	app.records.RegisterForLockedRecordsLoaded(func(int) { p.onRecordsEventLocked() })
	app.records.RegisterForNetworkLockedRecordsLoaded(func(int) { p.onRecordsEventLocked() })
}

// onRecordsEventLocked re-derives the external state after a record-load
// event. Invoked with the tree lock held by the records completion path.
func (p *Profile) onRecordsEventLocked() {
	if p.disposed {
		return
	}
	p.recomputeAndPublishLocked(false)
}

// updatePrivilegesLocked creates the carrier-privilege rules lazily on the
// first present state and tears them down the moment the card leaves it.
func (p *Profile) updatePrivilegesLocked() {
	if p.cardState == CardStatePresent && p.privileges == nil {
		aid := ""
		if idx := p.gsmIndex; p.checkIndexLocked(idx) {
			aid = p.apps[idx].aid
		}
		p.privileges = newCarrierPrivileges(p.lock, p.phoneID, aid, p.deps.privileges, func() {
			if p.disposed {
				return
			}
			p.privilegesLoadedReg.Notify(p.phoneID)
			p.recomputeAndPublishLocked(false)
		})
	} else if p.cardState != CardStatePresent && p.privileges != nil {
		p.privileges.disposeLocked()
		p.privileges = nil
	}
}

// recomputeAndPublishLocked recomputes the external state and publishes it
// through the setter. override forces a re-broadcast even when the state is
// unchanged; it is used once, right after a refresh-driven reset.
func (p *Profile) recomputeAndPublishLocked(override bool) {
	state, ok := p.computeStateLocked()
	if !ok {
		return
	}
	if state == SimStateLoaded && p.externalState != SimStateLoaded {
		p.propagateOperatorLocked()
	}
	p.setExternalStateLocked(state, override)
}

// computeStateLocked is the exhaustive state derivation. Order matters: the
// early returns implement the precedence of card-level errors over
// application state over record readiness. The second return value is false
// when no decision can be made yet (eUICC EID unresolved) and the previous
// state must stand untouched.
func (p *Profile) computeStateLocked() (SimState, bool) {
	switch p.cardState {
	case CardStateError:
		return SimStateCardIOError, true
	case CardStateRestricted:
		return SimStateCardRestricted, true
	}
	if p.isEuicc && !p.eidReady {
		return SimStateUnknown, false
	}

	app := p.currentApplicationLocked()
	if app == nil {
		return SimStateNotReady, true
	}

	if p.effectivePin1Locked(app) == PinStateEnabledPermBlocked {
		if app.records.lockedRecordsLoadedLocked() {
			return SimStatePermDisabled, true
		}
		return SimStateNotReady, true
	}

	switch app.appState {
	case AppStatePin:
		if app.records.lockedRecordsLoadedLocked() {
			return SimStatePinRequired, true
		}
		return SimStateNotReady, true
	case AppStatePuk:
		if app.records.lockedRecordsLoadedLocked() {
			return SimStatePukRequired, true
		}
		return SimStateNotReady, true
	case AppStateSubscriptionPerso:
		if app.persoSubState.IsNetworkLocked() {
			if app.records.networkLockedRecordsLoadedLocked() {
				return SimStateNetworkLocked, true
			}
		}
		return SimStateNotReady, true
	case AppStateUnknown, AppStateDetected:
		// Transient and ambiguous; never conflated with absence.
		return SimStateNotReady, true
	case AppStateReady:
		p.markDuplicatesIgnoredLocked()
		if !p.allSupportedAppsReadyLocked() {
			return SimStateNotReady, true
		}
		if p.allRecordsLoadedLocked() && p.privilegeRulesLoadedLocked() {
			return SimStateLoaded, true
		}
		return SimStateReady, true
	}
	return SimStateNotReady, true
}

// effectivePin1Locked resolves PIN1 replacement by the universal PIN.
func (p *Profile) effectivePin1Locked(app *CardApplication) PinState {
	if app.pin1Replaced {
		return p.universalPinState
	}
	return app.pin1
}

// markDuplicatesIgnoredLocked flags not-yet-ready duplicates of a type that
// already has a ready application, so parallel USIM/ISIM instances do not
// hold the all-ready check hostage.
func (p *Profile) markDuplicatesIgnoredLocked() {
	var readyTypes [AppTypeISIM + 1]bool
	for _, app := range p.apps {
		if app != nil && app.appState == AppStateReady {
			readyTypes[app.appType] = true
		}
	}
	for _, app := range p.apps {
		if app == nil || app.ignored {
			continue
		}
		if app.appState != AppStateReady && readyTypes[app.appType] {
			app.ignored = true
			log.Debug().
				Int("phone_id", p.phoneID).
				Str("app_type", app.appType.String()).
				Msg("Duplicate application ignored")
		}
	}
}

// isSupportedLocked reports whether an application type participates in the
// all-ready and all-loaded checks on this device.
func (p *Profile) isSupportedLocked(t AppType) bool {
	switch t {
	case AppTypeSIM, AppTypeUSIM:
		return true
	case AppTypeRUIM, AppTypeCSIM:
		return p.deps.cdmaSupported
	default:
		return false
	}
}

func (p *Profile) allSupportedAppsReadyLocked() bool {
	seen := false
	for _, app := range p.apps {
		if app == nil || app.ignored || !p.isSupportedLocked(app.appType) {
			continue
		}
		seen = true
		if app.appState != AppStateReady {
			return false
		}
	}
	return seen
}

func (p *Profile) allRecordsLoadedLocked() bool {
	for _, app := range p.apps {
		if app == nil || app.ignored || !p.isSupportedLocked(app.appType) {
			continue
		}
		if !app.records.RecordsLoaded() {
			return false
		}
	}
	return true
}

func (p *Profile) privilegeRulesLoadedLocked() bool {
	return p.privileges != nil && p.privileges.rulesLoadedLocked()
}

// propagateOperatorLocked is the single place where the SIM identity becomes
// visible to the rest of the stack, run once on entering Loaded.
func (p *Profile) propagateOperatorLocked() {
	app := p.currentApplicationLocked()
	if app == nil {
		return
	}

	numeric := app.records.operatorNumeric
	if len(numeric) >= 5 {
		p.deps.publisher.SetSimOperatorNumeric(p.phoneID, numeric)
		if iso := mcc.CountryISO(numeric[:3]); iso != "" {
			p.deps.publisher.SetSimCountryISO(p.phoneID, iso)
		}
	}

	name := app.records.spn
	if p.deps.brands != nil && p.iccid != "" {
		if brand, ok := p.deps.brands.BrandOverride(p.iccid); ok {
			name = brand
		}
	}
	if name != "" {
		p.deps.publisher.SetSimOperatorName(p.phoneID, name)
	}

	log.Info().
		Int("phone_id", p.phoneID).
		Str("operator", numeric).
		Msg("SIM identity propagated")
}

// setExternalStateLocked is the only writer of externalState. It is a no-op
// when the state is unchanged unless override is set.
func (p *Profile) setExternalStateLocked(state SimState, override bool) {
	if !override && state == p.externalState {
		return
	}
	old := p.externalState
	p.externalState = state
	log.Info().
		Int("phone_id", p.phoneID).
		Str("old", string(old)).
		Str("new", string(state)).
		Msg("SIM state changed")
	p.deps.publisher.UpdateInternalIccState(p.phoneID, state, state.LockedReason())
}

// currentApplicationLocked resolves the current application of the active
// technology family, or nil.
func (p *Profile) currentApplicationLocked() *CardApplication {
	return p.applicationForFamilyLocked(p.currentFamily)
}

func (p *Profile) applicationForFamilyLocked(family AppFamily) *CardApplication {
	idx := -1
	switch family {
	case Family3GPP:
		idx = p.gsmIndex
	case Family3GPP2:
		idx = p.cdmaIndex
	case FamilyIMS:
		idx = p.imsIndex
	}
	if !p.checkIndexLocked(idx) {
		return nil
	}
	return p.apps[idx]
}

func (p *Profile) checkIndexLocked(idx int) bool {
	return idx >= 0 && idx < MaxApps && p.apps[idx] != nil
}

// resetAppsWithAIDLocked handles a RESET/INIT sim refresh: applications
// matching aid (empty = all) are disposed (reset) or re-initialized. The
// follow-up recompute is forced so an unchanged state is still
// re-broadcast. Reports whether anything matched.
func (p *Profile) resetAppsWithAIDLocked(aid string, reset bool) bool {
	changed := false
	for i, app := range p.apps {
		if app == nil || (aid != "" && app.aid != aid) {
			continue
		}
		changed = true
		if reset {
			app.disposeLocked()
			p.apps[i] = nil
		} else {
			app.records.requestRecordsLocked(app.records.requestReason)
		}
	}
	if changed {
		p.recomputeAndPublishLocked(true)
	}
	return changed
}

// onRefreshFileUpdateLocked forwards a FILE_UPDATE refresh to the current
// application's records.
func (p *Profile) onRefreshFileUpdateLocked(aid string) {
	app := p.currentApplicationLocked()
	if app == nil {
		return
	}
	if aid != "" && app.aid != aid {
		// Mismatched application id: silently ignored.
		return
	}
	app.records.onRefreshLocked()
}

// disposeLocked tears the profile down child-first: records, then
// applications, then privilege rules, then the profile's own registrant
// lists. Caller holds the tree lock.
func (p *Profile) disposeLocked() {
	if p.disposed {
		return
	}
	for i, app := range p.apps {
		if app != nil {
			app.disposeLocked()
			p.apps[i] = nil
		}
	}
	if p.privileges != nil {
		p.privileges.disposeLocked()
		p.privileges = nil
	}
	p.privilegesLoadedReg.Clear()
	p.disposed = true
	log.Debug().Int("phone_id", p.phoneID).Msg("Profile disposed")
}

// State returns the externally visible SIM state.
func (p *Profile) State() SimState {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.externalState
}

// ICCID returns the card identity as last reported.
func (p *Profile) ICCID() string {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.iccid
}

// Application returns the application serving family, or nil.
func (p *Profile) Application(family AppFamily) *CardApplication {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.applicationForFamilyLocked(family)
}

// SetCurrentAppFamily switches the technology family whose application
// drives the external state, re-deriving it immediately.
func (p *Profile) SetCurrentAppFamily(family AppFamily) {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.disposed || p.currentFamily == family {
		return
	}
	p.currentFamily = family
	p.recomputeAndPublishLocked(false)
}

// CarrierPrivileges returns the rule object, or nil while the card is not
// present.
func (p *Profile) CarrierPrivileges() *CarrierPrivileges {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.privileges
}

// RegisterForCarrierPrivilegesLoaded registers fn for rule-load completion,
// replaying synchronously if the rules are already loaded.
func (p *Profile) RegisterForCarrierPrivilegesLoaded(fn func(phoneID int)) {
	p.privilegesLoadedReg.Register(fn)
}

// AppSnapshot is a read-only view of one application for the API layer.
type AppSnapshot struct {
	AID           string   `json:"aid"`
	Label         string   `json:"label,omitempty"`
	Type          AppType  `json:"-"`
	TypeName      string   `json:"type"`
	State         AppState `json:"-"`
	StateName     string   `json:"state"`
	Ignored       bool     `json:"ignored"`
	RecordsLoaded bool     `json:"recordsLoaded"`
}

// ProfileSnapshot is a read-only view of a profile for the API layer.
type ProfileSnapshot struct {
	State            SimState      `json:"state"`
	ICCID            string        `json:"iccid,omitempty"`
	OperatorNumeric  string        `json:"operatorNumeric,omitempty"`
	PrivilegesLoaded bool          `json:"privilegesLoaded"`
	Applications     []AppSnapshot `json:"applications"`
}

// Snapshot captures the profile state for external consumers.
func (p *Profile) Snapshot() ProfileSnapshot {
	p.lock.Lock()
	defer p.lock.Unlock()

	snap := ProfileSnapshot{
		State:            p.externalState,
		ICCID:            p.iccid,
		PrivilegesLoaded: p.privilegeRulesLoadedLocked(),
	}
	if app := p.currentApplicationLocked(); app != nil {
		snap.OperatorNumeric = app.records.operatorNumeric
	}
	for _, app := range p.apps {
		if app == nil {
			continue
		}
		snap.Applications = append(snap.Applications, AppSnapshot{
			AID:           app.aid,
			Label:         app.label,
			Type:          app.appType,
			TypeName:      app.appType.String(),
			State:         app.appState,
			StateName:     app.appState.String(),
			Ignored:       app.ignored,
			RecordsLoaded: app.records.RecordsLoaded(),
		})
	}
	return snap
}
