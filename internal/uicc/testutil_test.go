package uicc

import (
	"sync"
)

// fakeRecordSource queues record reads and auth requests. Sources are
// invoked while the tree lock is held and their callbacks take it again, so
// delivery must happen from flush, after the triggering call has returned.
type fakeRecordSource struct {
	mu      sync.Mutex
	values  map[string]string
	errs    map[string]error
	reads   []string
	pending []func()

	authResponse string
	authErr      error
}

func newFakeRecordSource() *fakeRecordSource {
	return &fakeRecordSource{
		values: map[string]string{
			"iccid": "89014103211118510720",
			"imsi":  "310260123456789",
			"ad":    "00000002",
			"spn":   "TestCom",
		},
		errs: make(map[string]error),
	}
}

func (f *fakeRecordSource) ReadRecord(phoneID int, aid, name string, done func(value string, err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads = append(f.reads, name)
	value := f.values[name]
	err := f.errs[name]
	f.pending = append(f.pending, func() { done(value, err) })
}

func (f *fakeRecordSource) RequestSimAuthentication(phoneID int, aid string, authContext int, data string, done func(response string, err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp, err := f.authResponse, f.authErr
	f.pending = append(f.pending, func() { done(resp, err) })
}

// flush delivers every queued callback. Delivery may queue further reads
// (a refresh re-request), so it loops until the queue drains.
func (f *fakeRecordSource) flush() {
	for {
		f.mu.Lock()
		pending := f.pending
		f.pending = nil
		f.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, fn := range pending {
			fn()
		}
	}
}

func (f *fakeRecordSource) readCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reads)
}

// fakePrivilegeSource queues carrier rule loads for flush-style delivery.
type fakePrivilegeSource struct {
	mu      sync.Mutex
	raw     []byte
	err     error
	pending []func()
}

func (f *fakePrivilegeSource) LoadRules(phoneID int, aid string, done func(raw []byte, err error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := f.raw, f.err
	f.pending = append(f.pending, func() { done(raw, err) })
}

func (f *fakePrivilegeSource) flush() {
	f.mu.Lock()
	pending := f.pending
	f.pending = nil
	f.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

type publishedState struct {
	phoneID int
	state   SimState
	reason  string
}

type cardSignal struct {
	slotIndex int
	added     bool
}

// fakePublisher records everything published by the card tree.
type fakePublisher struct {
	mu       sync.Mutex
	states   []publishedState
	numerics map[int]string
	names    map[int]string
	isos     map[int]string
	resets   []int
	signals  []cardSignal
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{
		numerics: make(map[int]string),
		names:    make(map[int]string),
		isos:     make(map[int]string),
	}
}

func (f *fakePublisher) UpdateInternalIccState(phoneID int, state SimState, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, publishedState{phoneID: phoneID, state: state, reason: reason})
}

func (f *fakePublisher) SetSimOperatorNumeric(phoneID int, numeric string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.numerics[phoneID] = numeric
}

func (f *fakePublisher) SetSimOperatorName(phoneID int, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.names[phoneID] = name
}

func (f *fakePublisher) SetSimCountryISO(phoneID int, iso string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isos[phoneID] = iso
}

func (f *fakePublisher) NotifyCarrierConfigReset(phoneID int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets = append(f.resets, phoneID)
}

func (f *fakePublisher) NotifyCardSignal(slotIndex int, added bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, cardSignal{slotIndex: slotIndex, added: added})
}

func (f *fakePublisher) lastState(phoneID int) SimState {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.states) - 1; i >= 0; i-- {
		if f.states[i].phoneID == phoneID {
			return f.states[i].state
		}
	}
	return ""
}

func (f *fakePublisher) statesFor(phoneID int) []SimState {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []SimState
	for _, s := range f.states {
		if s.phoneID == phoneID {
			out = append(out, s.state)
		}
	}
	return out
}

func (f *fakePublisher) signalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.signals)
}

// fakeBrands is a map-backed BrandOverrideStore.
type fakeBrands map[string]string

func (f fakeBrands) BrandOverride(iccid string) (string, bool) {
	brand, ok := f[iccid]
	return brand, ok
}

// fakeModem implements CardStatusSource against canned responses.
type fakeModem struct {
	mu             sync.Mutex
	cardStatuses   map[int]*CardStatus
	cardErr        error
	slotStatuses   []SlotStatus
	slotErr        error
	slotCalls      int
	radioPowerLog  []bool
	radioPowerErr  error
	radioPowerFor  []int
}

func newFakeModem() *fakeModem {
	return &fakeModem{cardStatuses: make(map[int]*CardStatus)}
}

func (f *fakeModem) GetCardStatus(phoneID int) (*CardStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cardErr != nil {
		return nil, f.cardErr
	}
	return f.cardStatuses[phoneID], nil
}

func (f *fakeModem) GetSlotStatus() ([]SlotStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slotCalls++
	if f.slotErr != nil {
		return nil, f.slotErr
	}
	return f.slotStatuses, nil
}

func (f *fakeModem) SetRadioPower(phoneID int, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.radioPowerFor = append(f.radioPowerFor, phoneID)
	f.radioPowerLog = append(f.radioPowerLog, on)
	return f.radioPowerErr
}

// testDeps builds a fake dependency bundle for slot and profile tests.
func testDeps() (treeDeps, *fakeRecordSource, *fakePrivilegeSource, *fakePublisher) {
	recs := newFakeRecordSource()
	privs := &fakePrivilegeSource{}
	pub := newFakePublisher()
	deps := treeDeps{
		publisher:  pub,
		records:    recs,
		privileges: privs,
		brands:     fakeBrands{},
	}
	return deps, recs, privs, pub
}

// usimStatus builds a single-application card status in the given state.
func usimStatus(appState AppState, mutate ...func(*CardStatus)) *CardStatus {
	st := &CardStatus{
		PhysicalSlotIndex:           0,
		CardState:                   CardStatePresent,
		UniversalPinState:           PinStateDisabled,
		GsmUmtsSubscriptionAppIndex: 0,
		CdmaSubscriptionAppIndex:    -1,
		ImsSubscriptionAppIndex:     -1,
		ICCID:                       "89014103211118510720",
		Applications: []AppStatus{
			{
				AID:      "A0000000871002",
				AppType:  AppTypeUSIM,
				AppState: appState,
				Pin1:     PinStateDisabled,
				Pin2:     PinStateDisabled,
			},
		},
	}
	for _, fn := range mutate {
		fn(st)
	}
	return st
}

func absentStatus() *CardStatus {
	return &CardStatus{
		PhysicalSlotIndex:           0,
		CardState:                   CardStateAbsent,
		GsmUmtsSubscriptionAppIndex: -1,
		CdmaSubscriptionAppIndex:    -1,
		ImsSubscriptionAppIndex:     -1,
	}
}
