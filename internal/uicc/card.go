package uicc

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Card is one inserted SIM identity at a slot. It is a thin owner of
// exactly one Profile and is disposed whenever the slot determines the card
// removed, the radio goes unavailable, or a new card replaces it.
type Card struct {
	lock *sync.Mutex

	slotIndex int
	phoneID   int
	euicc     bool
	eid       string
	disposed  bool

	profile *Profile
}

// newCardLocked builds the card and its profile from the first status.
// Caller holds the tree lock.
func newCardLocked(lock *sync.Mutex, phoneID, slotIndex int, euicc bool, deps treeDeps, status *CardStatus) *Card {
	c := &Card{
		lock:      lock,
		slotIndex: slotIndex,
		phoneID:   phoneID,
		euicc:     euicc,
		profile:   newProfile(lock, phoneID, euicc, deps),
	}
	c.updateLocked(phoneID, status)
	log.Info().
		Int("slot", slotIndex).
		Int("phone_id", phoneID).
		Bool("euicc", euicc).
		Msg("Card created")
	return c
}

// updateLocked forwards a status refresh into the held profile, preserving
// application and registrant state. Caller holds the tree lock.
func (c *Card) updateLocked(phoneID int, status *CardStatus) {
	if c.disposed {
		log.Warn().Int("slot", c.slotIndex).Msg("Update on disposed card")
		return
	}
	c.phoneID = phoneID
	if c.euicc && status.EID != "" {
		c.eid = status.EID
	}
	c.profile.updateLocked(phoneID, status)
}

// resetAppsWithAIDLocked forwards a RESET/INIT sim refresh. Caller holds the
// tree lock.
func (c *Card) resetAppsWithAIDLocked(aid string, reset bool) bool {
	if c.disposed {
		return false
	}
	return c.profile.resetAppsWithAIDLocked(aid, reset)
}

// disposeLocked tears the card down, profile first. Idempotent; caller
// holds the tree lock.
func (c *Card) disposeLocked() {
	if c.disposed {
		return
	}
	c.profile.disposeLocked()
	c.disposed = true
	log.Info().Int("slot", c.slotIndex).Int("phone_id", c.phoneID).Msg("Card disposed")
}

// Profile returns the card's profile.
func (c *Card) Profile() *Profile {
	return c.profile
}

// IsEuicc reports whether the card is an eUICC.
func (c *Card) IsEuicc() bool {
	return c.euicc
}

// EID returns the eUICC identifier once resolved, or "".
func (c *Card) EID() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.eid
}
