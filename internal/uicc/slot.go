package uicc

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Slot represents one physical (or virtual eUICC) card receptacle. Slots
// are created by the controller the first time their index is observed and
// live for the whole process; only the contained Card comes and goes. The
// slot owns the lock that serializes its entire card/profile/application
// hierarchy.
type Slot struct {
	lock *sync.Mutex
	deps treeDeps

	slotIndex int
	phoneID   int
	active    bool

	cardState      CardState
	stateIsUnknown bool
	iccid          string
	eid            string
	atr            *AnswerToReset

	card *Card

	// lastRadioState gates the user-facing card added/removed signals: a
	// signal fires only when the radio was ON both before and after the
	// transition, which suppresses spurious hot-swap prompts while radio
	// power cycles at boot.
	lastRadioState RadioState
}

func newSlot(slotIndex int, deps treeDeps) *Slot {
	return &Slot{
		lock:           &sync.Mutex{},
		deps:           deps,
		slotIndex:      slotIndex,
		phoneID:        InvalidPhoneID,
		stateIsUnknown: true,
		lastRadioState: RadioStateUnavailable,
	}
}

// UpdateFromCardStatus applies a card status notification for phoneID.
func (s *Slot) UpdateFromCardStatus(phoneID int, radioState RadioState, status *CardStatus) {
	s.lock.Lock()
	defer s.lock.Unlock()

	oldState := s.cardState
	s.cardState = status.CardState
	s.stateIsUnknown = false
	s.phoneID = phoneID
	s.active = true
	if status.ICCID != "" {
		s.iccid = status.ICCID
	}
	if status.EID != "" {
		s.eid = status.EID
	}
	s.parseATRLocked(status.ATR)

	absent := status.CardState == CardStateAbsent
	switch {
	case absent && (oldState != CardStateAbsent || s.card != nil):
		s.onAbsentLocked(phoneID, radioState)
	case !absent && (oldState == CardStateUnknown || oldState == CardStateAbsent || s.card == nil):
		if s.card != nil {
			// A held card across an absent gap means we missed the
			// absent transition.
			log.Warn().Int("slot", s.slotIndex).Msg("Disposing stale card before replacement")
			s.card.disposeLocked()
			s.card = nil
		}
		euicc := s.atr != nil && s.atr.IsEuiccSupported()
		s.card = newCardLocked(s.lock, phoneID, s.slotIndex, euicc, s.deps, status)
		if s.lastRadioState == RadioStateOn && radioState == RadioStateOn {
			s.deps.publisher.NotifyCardSignal(s.slotIndex, true)
		}
	case !absent:
		s.card.updateLocked(phoneID, status)
	}

	s.lastRadioState = radioState
}

// onAbsentLocked runs the absent transition: dispose the held card,
// propagate ABSENT and, radio-gated, signal the removal.
func (s *Slot) onAbsentLocked(phoneID int, radioState RadioState) {
	if s.card != nil {
		s.card.disposeLocked()
		s.card = nil
	}
	log.Info().Int("slot", s.slotIndex).Int("phone_id", phoneID).Msg("Card absent")
	s.deps.publisher.UpdateInternalIccState(phoneID, SimStateAbsent, "")
	if s.lastRadioState == RadioStateOn && radioState == RadioStateOn {
		s.deps.publisher.NotifyCardSignal(s.slotIndex, false)
	}
}

// UpdateFromSlotStatus applies a slot status entry: activation, logical
// index remapping and the same absent detection as the card status path.
// Card construction itself always waits for the next card status.
func (s *Slot) UpdateFromSlotStatus(status SlotStatus, radioState RadioState) {
	s.lock.Lock()
	defer s.lock.Unlock()

	oldState := s.cardState
	oldPhoneID := s.phoneID
	wasActive := s.active

	s.stateIsUnknown = false
	s.cardState = status.CardState
	if status.ICCID != "" {
		s.iccid = status.ICCID
	}
	if status.EID != "" {
		s.eid = status.EID
	}
	s.parseATRLocked(status.ATR)

	if status.CardState == CardStateAbsent && (oldState != CardStateAbsent || s.card != nil) {
		s.onAbsentLocked(oldPhoneID, radioState)
	}

	s.active = status.Active
	if status.Active {
		s.phoneID = status.LogicalSlotIndex
	} else {
		if wasActive && s.card != nil {
			// Deactivation releases the card; modem-side state is gone.
			s.card.disposeLocked()
			s.card = nil
			s.deps.publisher.UpdateInternalIccState(oldPhoneID, SimStateAbsent, "")
		}
		s.phoneID = InvalidPhoneID
	}

	s.lastRadioState = radioState
	log.Debug().
		Int("slot", s.slotIndex).
		Bool("active", s.active).
		Int("phone_id", s.phoneID).
		Str("card_state", s.cardState.String()).
		Msg("Slot status applied")
}

// HandleRadioUnavailable disposes the card and returns the slot to the
// absent-but-unknown state: the card identity can no longer be told apart
// from absence until the modem reports again.
func (s *Slot) HandleRadioUnavailable() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.card != nil {
		s.card.disposeLocked()
		s.card = nil
		s.deps.publisher.UpdateInternalIccState(s.phoneID, SimStateAbsent, "")
	}
	s.cardState = CardStateUnknown
	s.stateIsUnknown = true
	s.lastRadioState = RadioStateUnavailable
}

func (s *Slot) parseATRLocked(atr string) {
	if atr == "" || (s.atr != nil && s.atr.String() == atr) {
		return
	}
	parsed, err := ParseATR(atr)
	if err != nil {
		log.Warn().Err(err).Int("slot", s.slotIndex).Str("atr", atr).Msg("ATR unparseable")
		return
	}
	s.atr = parsed
}

// IsStateUnknown distinguishes "confirmed no card" from "have not heard from
// the modem yet": true only while the state is unknown-or-absent and no
// concrete status has arrived since the last reset.
func (s *Slot) IsStateUnknown() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return (s.cardState == CardStateUnknown || s.cardState == CardStateAbsent) && s.stateIsUnknown
}

// CardState returns the last observed physical card state.
func (s *Slot) CardState() CardState {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.cardState
}

// Card returns the held card, or nil.
func (s *Slot) Card() *Card {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.card
}

// PhoneID returns the logical phone mapped to this slot, or InvalidPhoneID.
func (s *Slot) PhoneID() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.phoneID
}

// IsActive reports whether the slot is enabled by the hardware multiplexing.
func (s *Slot) IsActive() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.active
}

// IsEuicc reports whether the ATR marked the slot's card as an eUICC.
func (s *Slot) IsEuicc() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.atr != nil && s.atr.IsEuiccSupported()
}

// ICCID returns the card identity as last reported.
func (s *Slot) ICCID() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.iccid
}

// SlotSnapshot is a read-only view of a slot for the API layer.
type SlotSnapshot struct {
	SlotIndex    int       `json:"slotIndex"`
	PhoneID      int       `json:"phoneId"`
	Active       bool      `json:"active"`
	CardState    CardState `json:"-"`
	CardStateStr string    `json:"cardState"`
	StateUnknown bool      `json:"stateUnknown"`
	ICCID        string    `json:"iccid,omitempty"`
	EID          string    `json:"eid,omitempty"`
	IsEuicc      bool      `json:"isEuicc"`

	Profile *ProfileSnapshot `json:"profile,omitempty"`
}

// Snapshot captures the slot state for external consumers.
func (s *Slot) Snapshot() SlotSnapshot {
	s.lock.Lock()
	snap := SlotSnapshot{
		SlotIndex:    s.slotIndex,
		PhoneID:      s.phoneID,
		Active:       s.active,
		CardState:    s.cardState,
		CardStateStr: s.cardState.String(),
		StateUnknown: s.stateIsUnknown,
		ICCID:        s.iccid,
		EID:          s.eid,
		IsEuicc:      s.atr != nil && s.atr.IsEuiccSupported(),
	}
	card := s.card
	s.lock.Unlock()

	if card != nil {
		ps := card.Profile().Snapshot()
		snap.Profile = &ps
	}
	return snap
}
