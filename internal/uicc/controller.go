package uicc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrSlotStatusUnsupported is returned by a CardStatusSource whose modem
// does not implement the slot status request. The controller downgrades the
// feature permanently and never retries.
var ErrSlotStatusUnsupported = errors.New("slot status not supported")

// CardStatusSource is the modem command channel. Queries are synchronous
// from the caller's point of view; notifications arrive through the
// controller's On* entry points from the source's own delivery goroutines.
type CardStatusSource interface {
	GetCardStatus(phoneID int) (*CardStatus, error)
	GetSlotStatus() ([]SlotStatus, error)
	SetRadioPower(phoneID int, on bool) error
}

// ControllerConfig sizes and configures the controller.
type ControllerConfig struct {
	PhoneCount    int
	PhysicalSlots int
	CdmaSupported bool

	// RadioOffOnRefreshReset powers the radio down after a refresh-driven
	// application reset, forcing a clean re-attach.
	RadioOffOnRefreshReset bool
}

// controllerConstructed enforces the construct-exactly-once contract at the
// composition root. A second construction is a fatal misuse.
var controllerConstructed atomic.Bool

// Controller routes modem notifications to the correct slot, maps logical
// phone indices to physical slot indices and republishes a global
// icc-changed event. There is exactly one per process.
type Controller struct {
	mu  sync.Mutex
	cfg ControllerConfig

	source CardStatusSource
	deps   treeDeps

	slots       []*Slot
	phoneToSlot []int
	radioState  []RadioState

	lastSlotStatuses    []SlotStatus
	slotStatusSupported bool

	iccChangedReg *Registry[int]
}

// NewController constructs the process-wide controller. Constructing a
// second one panics.
func NewController(cfg ControllerConfig, source CardStatusSource, records RecordSource, privileges PrivilegeSource, publisher StatePublisher, brands BrandOverrideStore) *Controller {
	if !controllerConstructed.CompareAndSwap(false, true) {
		panic("uicc: controller constructed twice")
	}
	if cfg.PhoneCount <= 0 {
		panic("uicc: controller needs at least one phone")
	}

	slotCount := cfg.PhysicalSlots
	if cfg.PhoneCount > slotCount {
		slotCount = cfg.PhoneCount
	}

	c := &Controller{
		cfg:    cfg,
		source: source,
		deps: treeDeps{
			publisher:     publisher,
			records:       records,
			privileges:    privileges,
			brands:        brands,
			cdmaSupported: cfg.CdmaSupported,
		},
		slots:               make([]*Slot, slotCount),
		phoneToSlot:         make([]int, cfg.PhoneCount),
		radioState:          make([]RadioState, cfg.PhoneCount),
		slotStatusSupported: true,
		iccChangedReg:       NewRegistry[int](),
	}
	for i := range c.phoneToSlot {
		c.phoneToSlot[i] = -1
	}
	log.Info().
		Int("phones", cfg.PhoneCount).
		Int("slots", slotCount).
		Bool("cdma", cfg.CdmaSupported).
		Msg("UICC controller created")
	return c
}

// resetConstructedGuard re-arms the singleton check. Test use only.
func resetConstructedGuard() {
	controllerConstructed.Store(false)
}

// OnCardStatus routes a card status response or notification for phoneID.
// An error response is logged and dropped; the prior slot state is retained
// unchanged.
func (c *Controller) OnCardStatus(phoneID int, status *CardStatus, err error) {
	if err != nil {
		log.Error().Err(err).Int("phone_id", phoneID).Msg("Card status query failed, keeping previous state")
		return
	}

	c.mu.Lock()
	c.mustValidPhoneLocked(phoneID)

	slotIdx := status.PhysicalSlotIndex
	if slotIdx < 0 || slotIdx >= len(c.slots) {
		slotIdx = phoneID
	}
	slot := c.slotLocked(slotIdx)
	c.phoneToSlot[phoneID] = slotIdx
	radio := c.radioState[phoneID]
	c.mu.Unlock()

	slot.UpdateFromCardStatus(phoneID, radio, status)
	c.iccChangedReg.Notify(phoneID)
}

// OnSlotStatus routes a slot status response or notification. It is
// idempotent: a list identical to the last seen snapshot is a complete
// no-op. Invariant violations in the list are fatal; they indicate a modem
// contract violation.
func (c *Controller) OnSlotStatus(statuses []SlotStatus, err error) {
	if err != nil {
		if errors.Is(err, ErrSlotStatusUnsupported) {
			c.mu.Lock()
			c.slotStatusSupported = false
			c.mu.Unlock()
			log.Warn().Msg("Slot status unsupported by modem, disabling")
			return
		}
		log.Error().Err(err).Msg("Slot status query failed, keeping previous state")
		return
	}

	c.mu.Lock()
	if slotStatusesEqual(c.lastSlotStatuses, statuses) {
		c.mu.Unlock()
		log.Debug().Msg("Slot status unchanged, ignoring")
		return
	}
	c.validateSlotStatusesLocked(statuses)

	type pending struct {
		slot   *Slot
		status SlotStatus
		radio  RadioState
	}
	var updates []pending
	var changedPhones []int

	for i, st := range statuses {
		if i >= len(c.slots) {
			log.Warn().Int("index", i).Msg("Slot status for slot beyond configured range, ignoring")
			break
		}
		slot := c.slotLocked(i)
		radio := RadioStateUnavailable
		if st.Active {
			c.phoneToSlot[st.LogicalSlotIndex] = i
			radio = c.radioState[st.LogicalSlotIndex]
			changedPhones = append(changedPhones, st.LogicalSlotIndex)
		}
		updates = append(updates, pending{slot: slot, status: st, radio: radio})
	}
	// Mappings pointing at a slot the snapshot deactivated or handed to
	// another phone are stale; drop them so phone-indexed lookups stop
	// answering for a slot that no longer serves the phone.
	for phoneID, idx := range c.phoneToSlot {
		if idx < 0 || idx >= len(statuses) {
			continue
		}
		if st := statuses[idx]; !st.Active || st.LogicalSlotIndex != phoneID {
			c.phoneToSlot[phoneID] = -1
			changedPhones = append(changedPhones, phoneID)
		}
	}
	c.lastSlotStatuses = append([]SlotStatus(nil), statuses...)
	c.mu.Unlock()

	for _, u := range updates {
		u.slot.UpdateFromSlotStatus(u.status, u.radio)
	}
	for _, phoneID := range changedPhones {
		c.iccChangedReg.Notify(phoneID)
	}
}

// validateSlotStatusesLocked enforces the modem contract: every active
// slot's logical index must be a valid phone index, and logical indices
// must be pairwise distinct.
func (c *Controller) validateSlotStatusesLocked(statuses []SlotStatus) {
	seen := make(map[int]int, len(statuses))
	for i, st := range statuses {
		if !st.Active {
			continue
		}
		if st.LogicalSlotIndex < 0 || st.LogicalSlotIndex >= c.cfg.PhoneCount {
			panic(fmt.Sprintf("uicc: slot %d reports logical index %d outside phone range %d",
				i, st.LogicalSlotIndex, c.cfg.PhoneCount))
		}
		if prev, dup := seen[st.LogicalSlotIndex]; dup {
			panic(fmt.Sprintf("uicc: slots %d and %d both claim logical index %d",
				prev, i, st.LogicalSlotIndex))
		}
		seen[st.LogicalSlotIndex] = i
	}
}

// OnRadioStateChanged records the radio power state for phoneID. A
// transition to unavailable tears the phone's card down and marks its slot
// state unknown.
func (c *Controller) OnRadioStateChanged(phoneID int, state RadioState) {
	c.mu.Lock()
	c.mustValidPhoneLocked(phoneID)
	c.radioState[phoneID] = state
	var slot *Slot
	if state == RadioStateUnavailable {
		if idx := c.phoneToSlot[phoneID]; idx >= 0 && c.slots[idx] != nil {
			slot = c.slots[idx]
		}
	}
	c.mu.Unlock()

	if slot != nil {
		slot.HandleRadioUnavailable()
		c.iccChangedReg.Notify(phoneID)
	}
}

// OnRadioUnavailable is shorthand for the unavailable radio transition.
func (c *Controller) OnRadioUnavailable(phoneID int) {
	c.OnRadioStateChanged(phoneID, RadioStateUnavailable)
}

// OnSimRefresh routes a sim refresh notification. RESET and INIT reset the
// matching applications; a RESET that changed anything triggers a carrier
// config reset and, config-gated, a radio power-off. FILE_UPDATE is
// forwarded to the current application's records.
func (c *Controller) OnSimRefresh(phoneID int, refresh SimRefresh) {
	c.mu.Lock()
	c.mustValidPhoneLocked(phoneID)
	slot := c.slotForPhoneLocked(phoneID)
	c.mu.Unlock()

	if slot == nil {
		log.Debug().Int("phone_id", phoneID).Msg("Sim refresh for phone without slot, ignoring")
		return
	}
	card := slot.Card()
	if card == nil {
		log.Debug().Int("phone_id", phoneID).Msg("Sim refresh without card, ignoring")
		return
	}

	log.Info().
		Int("phone_id", phoneID).
		Str("result", refresh.Result.String()).
		Str("aid", refresh.AID).
		Msg("Sim refresh")

	switch refresh.Result {
	case RefreshResultReset, RefreshResultInit:
		slot.lock.Lock()
		changed := card.resetAppsWithAIDLocked(refresh.AID, refresh.Result == RefreshResultReset)
		slot.lock.Unlock()
		if changed && refresh.Result == RefreshResultReset {
			c.deps.publisher.NotifyCarrierConfigReset(phoneID)
			if c.cfg.RadioOffOnRefreshReset {
				if err := c.source.SetRadioPower(phoneID, false); err != nil {
					log.Error().Err(err).Int("phone_id", phoneID).Msg("Radio power off after refresh failed")
				}
			}
		}
		if changed {
			c.iccChangedReg.Notify(phoneID)
		}
	case RefreshResultFileUpdate:
		slot.lock.Lock()
		card.profile.onRefreshFileUpdateLocked(refresh.AID)
		slot.lock.Unlock()
	}
}

// RefreshCardStatus re-queries the card status for phoneID and routes the
// answer. Used after notifications that carry no payload.
func (c *Controller) RefreshCardStatus(phoneID int) {
	status, err := c.source.GetCardStatus(phoneID)
	c.OnCardStatus(phoneID, status, err)
}

// RefreshSlotStatus re-queries the slot status and routes the answer, if
// the modem still supports the request.
func (c *Controller) RefreshSlotStatus() {
	if !c.SlotStatusSupported() {
		return
	}
	statuses, err := c.source.GetSlotStatus()
	c.OnSlotStatus(statuses, err)
}

// RegisterForIccChanged registers fn for the global icc-changed event,
// fired with the affected phone ID after every routed update.
func (c *Controller) RegisterForIccChanged(fn func(phoneID int)) uuid.UUID {
	return c.iccChangedReg.Register(fn)
}

// UnregisterForIccChanged removes a previously registered callback.
func (c *Controller) UnregisterForIccChanged(id uuid.UUID) {
	c.iccChangedReg.Unregister(id)
}

// Slot returns the slot at index, or nil if it was never observed.
func (c *Controller) Slot(index int) *Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.slots) {
		return nil
	}
	return c.slots[index]
}

// SlotForPhone returns the slot currently mapped to phoneID, or nil.
func (c *Controller) SlotForPhone(phoneID int) *Slot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if phoneID < 0 || phoneID >= len(c.phoneToSlot) {
		return nil
	}
	return c.slotForPhoneLocked(phoneID)
}

// CardForPhone returns the card for phoneID, or nil.
func (c *Controller) CardForPhone(phoneID int) *Card {
	slot := c.SlotForPhone(phoneID)
	if slot == nil {
		return nil
	}
	return slot.Card()
}

// ProfileForPhone returns the profile for phoneID, or nil.
func (c *Controller) ProfileForPhone(phoneID int) *Profile {
	card := c.CardForPhone(phoneID)
	if card == nil {
		return nil
	}
	return card.Profile()
}

// SimStateForPhone returns the externally visible SIM state for phoneID.
// Resource absence surfaces as a state, never as an error.
func (c *Controller) SimStateForPhone(phoneID int) SimState {
	slot := c.SlotForPhone(phoneID)
	if slot == nil {
		return SimStateUnknown
	}
	card := slot.Card()
	if card == nil {
		if slot.IsStateUnknown() {
			return SimStateUnknown
		}
		return SimStateAbsent
	}
	return card.Profile().State()
}

// SlotStatusSupported reports whether the modem answers slot status
// queries.
func (c *Controller) SlotStatusSupported() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slotStatusSupported
}

// PhoneCount returns the number of logical phones.
func (c *Controller) PhoneCount() int {
	return c.cfg.PhoneCount
}

// SlotCount returns the size of the slot array.
func (c *Controller) SlotCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.slots)
}

// SlotSnapshots captures all observed slots for the API layer.
func (c *Controller) SlotSnapshots() []SlotSnapshot {
	c.mu.Lock()
	slots := append([]*Slot(nil), c.slots...)
	c.mu.Unlock()

	snaps := make([]SlotSnapshot, 0, len(slots))
	for i, s := range slots {
		if s == nil {
			snaps = append(snaps, SlotSnapshot{SlotIndex: i, PhoneID: InvalidPhoneID, CardStateStr: CardStateUnknown.String(), StateUnknown: true})
			continue
		}
		snaps = append(snaps, s.Snapshot())
	}
	return snaps
}

func (c *Controller) slotLocked(index int) *Slot {
	if c.slots[index] == nil {
		c.slots[index] = newSlot(index, c.deps)
		log.Debug().Int("slot", index).Msg("Slot created")
	}
	return c.slots[index]
}

func (c *Controller) slotForPhoneLocked(phoneID int) *Slot {
	idx := c.phoneToSlot[phoneID]
	if idx < 0 || idx >= len(c.slots) {
		return nil
	}
	return c.slots[idx]
}

func (c *Controller) mustValidPhoneLocked(phoneID int) {
	if phoneID < 0 || phoneID >= c.cfg.PhoneCount {
		panic(fmt.Sprintf("uicc: phone id %d outside configured range %d", phoneID, c.cfg.PhoneCount))
	}
}

func slotStatusesEqual(a, b []SlotStatus) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
