package uicc

import (
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// RecordSource reads elementary files and runs SIM authentication against
// the modem. Implementations deliver results asynchronously on their own
// goroutines; callbacks may fire at any time after the request, including
// after an error.
type RecordSource interface {
	ReadRecord(phoneID int, aid, name string, done func(value string, err error))
	RequestSimAuthentication(phoneID int, aid string, authContext int, data string, done func(response string, err error))
}

// lockedReason classifies why records were last requested.
type lockedReason int

const (
	lockedReasonNone lockedReason = iota // full fetch for a ready application
	lockedReasonLocked
	lockedReasonNetwork
)

// Record names requested from the modem. The full set is fetched once the
// application reaches ready; locked applications only get the subset needed
// to act on the lock.
var (
	fullRecordNames   = []string{"iccid", "imsi", "ad", "spn"}
	lockedRecordNames = []string{"iccid"}
)

// Records is the per-application record store. Every load request increments
// recordsToLoad before the request is issued and the completion handler
// decrements it unconditionally, so the counter always returns to zero.
//
// All mutation runs under the slot hierarchy lock handed down at
// construction. The loaded flag is additionally atomic so state queries do
// not need the lock.
type Records struct {
	lock *sync.Mutex

	phoneID int
	aid     string
	appType AppType
	source  RecordSource

	recordsToLoad    int
	recordsRequested bool
	requestReason    lockedReason
	loaded           atomic.Bool
	disposed         bool

	iccid           string
	imsi            string
	operatorNumeric string
	spn             string

	recordsLoadedReg        *Registry[int]
	lockedRecordsReg        *Registry[int]
	networkLockedRecordsReg *Registry[int]

	authWaiters []*authWait
}

type authWait struct {
	ch   chan string
	once sync.Once
}

func (w *authWait) resolve(resp string) {
	w.once.Do(func() { w.ch <- resp })
}

func newRecords(lock *sync.Mutex, phoneID int, aid string, appType AppType, source RecordSource) *Records {
	return &Records{
		lock:                    lock,
		phoneID:                 phoneID,
		aid:                     aid,
		appType:                 appType,
		source:                  source,
		recordsLoadedReg:        NewStickyRegistry[int](),
		lockedRecordsReg:        NewStickyRegistry[int](),
		networkLockedRecordsReg: NewStickyRegistry[int](),
	}
}

// requestRecordsLocked issues the loads appropriate for reason. Caller holds
// the tree lock. Re-requesting with a new reason restarts the protocol.
func (r *Records) requestRecordsLocked(reason lockedReason) {
	if r.disposed {
		return
	}
	r.requestReason = reason
	r.recordsRequested = true
	r.loaded.Store(false)
	if reason == lockedReasonNone {
		r.recordsLoadedReg.Reset()
	}

	names := fullRecordNames
	if reason != lockedReasonNone {
		names = lockedRecordNames
	}
	for _, name := range names {
		r.recordsToLoad++
		n := name
		r.source.ReadRecord(r.phoneID, r.aid, n, func(value string, err error) {
			r.lock.Lock()
			defer r.lock.Unlock()
			r.onRecordLoadedLocked(n, value, err)
		})
	}
}

// onRecordLoadedLocked is the generic completion handler. It decrements the
// pending counter even on error so the counter always reaches exactly zero.
func (r *Records) onRecordLoadedLocked(name, value string, err error) {
	if r.recordsToLoad == 0 {
		log.Error().
			Int("phone_id", r.phoneID).
			Str("record", name).
			Msg("Record load completion with no pending loads")
		return
	}
	r.recordsToLoad--

	if err != nil {
		log.Warn().Err(err).
			Int("phone_id", r.phoneID).
			Str("record", name).
			Msg("Record load failed")
	} else if !r.disposed {
		switch name {
		case "iccid":
			r.iccid = value
		case "imsi":
			r.imsi = value
			if r.operatorNumeric == "" && len(value) >= 5 {
				// MCC+MNC prefix of the IMSI, 5 digits unless AD says 6.
				r.operatorNumeric = value[:5]
			}
		case "ad":
			if len(value) >= 8 && value[7] == '6' && len(r.imsi) >= 6 {
				r.operatorNumeric = r.imsi[:6]
			}
		case "spn":
			r.spn = value
		}
	}

	if r.recordsToLoad == 0 && r.recordsRequested {
		r.onAllRecordsLoadedLocked()
	}
}

func (r *Records) onAllRecordsLoadedLocked() {
	switch r.requestReason {
	case lockedReasonNone:
		r.loaded.Store(true)
		log.Info().
			Int("phone_id", r.phoneID).
			Str("app_type", r.appType.String()).
			Msg("Records loaded")
		r.recordsLoadedReg.Notify(r.phoneID)
	case lockedReasonLocked:
		r.lockedRecordsReg.Notify(r.phoneID)
	case lockedReasonNetwork:
		r.networkLockedRecordsReg.Notify(r.phoneID)
	}
}

// RecordsLoaded reports whether a full fetch was requested and every
// outstanding load has completed.
func (r *Records) RecordsLoaded() bool {
	return r.loaded.Load()
}

// LockedRecordsLoaded reports whether the records needed to act on a
// PIN/PUK lock are available.
func (r *Records) LockedRecordsLoaded() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.lockedRecordsLoadedLocked()
}

func (r *Records) lockedRecordsLoadedLocked() bool {
	return r.recordsRequested && r.recordsToLoad == 0 && r.requestReason == lockedReasonLocked
}

// NetworkLockedRecordsLoaded is LockedRecordsLoaded for network locks.
func (r *Records) NetworkLockedRecordsLoaded() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.networkLockedRecordsLoadedLocked()
}

func (r *Records) networkLockedRecordsLoadedLocked() bool {
	return r.recordsRequested && r.recordsToLoad == 0 && r.requestReason == lockedReasonNetwork
}

// RegisterForRecordsLoaded registers fn for the records-loaded event. If the
// records are already loaded fn fires synchronously before registration
// returns.
func (r *Records) RegisterForRecordsLoaded(fn func(phoneID int)) {
	r.recordsLoadedReg.Register(fn)
}

// RegisterForLockedRecordsLoaded registers fn for the locked-records-loaded
// event, with the same replay semantics as RegisterForRecordsLoaded.
func (r *Records) RegisterForLockedRecordsLoaded(fn func(phoneID int)) {
	r.lockedRecordsReg.Register(fn)
}

// RegisterForNetworkLockedRecordsLoaded registers fn for the
// network-locked-records-loaded event.
func (r *Records) RegisterForNetworkLockedRecordsLoaded(fn func(phoneID int)) {
	r.networkLockedRecordsReg.Register(fn)
}

// ICCID returns the loaded ICCID, or "".
func (r *Records) ICCID() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.iccid
}

// IMSI returns the loaded IMSI, or "".
func (r *Records) IMSI() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.imsi
}

// OperatorNumeric returns the MCC+MNC derived from the loaded records, or "".
func (r *Records) OperatorNumeric() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.operatorNumeric
}

// ServiceProviderName returns the loaded SPN, or "".
func (r *Records) ServiceProviderName() string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.spn
}

// onRefreshLocked handles a FILE_UPDATE sim refresh by re-fetching. Caller
// holds the tree lock.
func (r *Records) onRefreshLocked() {
	if r.disposed || !r.recordsRequested {
		return
	}
	r.requestRecordsLocked(r.requestReason)
}

// GetSimChallengeResponse runs a challenge/response authentication round
// trip against the modem and blocks until the response arrives or the store
// is disposed. Both an error response and a dispose wake-up return ""; the
// caller must not distinguish the two.
func (r *Records) GetSimChallengeResponse(authContext int, data string) string {
	w := &authWait{ch: make(chan string, 1)}

	r.lock.Lock()
	if r.disposed {
		r.lock.Unlock()
		return ""
	}
	r.authWaiters = append(r.authWaiters, w)
	r.lock.Unlock()

	r.source.RequestSimAuthentication(r.phoneID, r.aid, authContext, data, func(resp string, err error) {
		r.lock.Lock()
		r.removeAuthWaiterLocked(w)
		r.lock.Unlock()
		if err != nil {
			log.Warn().Err(err).Int("phone_id", r.phoneID).Msg("SIM authentication failed")
			w.resolve("")
			return
		}
		w.resolve(resp)
	})

	return <-w.ch
}

func (r *Records) removeAuthWaiterLocked(w *authWait) {
	for i, cand := range r.authWaiters {
		if cand == w {
			r.authWaiters = append(r.authWaiters[:i], r.authWaiters[i+1:]...)
			return
		}
	}
}

// Dispose tears the store down. It is idempotent, resets the loaded flag and
// wakes any caller blocked in GetSimChallengeResponse with an empty
// response. Caller holds the tree lock.
func (r *Records) Dispose() {
	if r.disposed {
		return
	}
	r.disposed = true
	r.loaded.Store(false)
	r.recordsLoadedReg.Clear()
	r.lockedRecordsReg.Clear()
	r.networkLockedRecordsReg.Clear()
	for _, w := range r.authWaiters {
		w.resolve("")
	}
	r.authWaiters = nil
}
