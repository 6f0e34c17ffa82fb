package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/uicc-server/uicc-server-pro/internal/models"
	"github.com/uicc-server/uicc-server-pro/internal/storage"
	"github.com/uicc-server/uicc-server-pro/internal/uicc"
)

// PhoneState is the externally visible telephony view of one phone
type PhoneState struct {
	PhoneID         int           `json:"phoneId"`
	SimState        uicc.SimState `json:"simState"`
	Reason          string        `json:"reason,omitempty"`
	OperatorNumeric string        `json:"operatorNumeric,omitempty"`
	OperatorName    string        `json:"operatorName,omitempty"`
	CountryISO      string        `json:"countryIso,omitempty"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// Publisher fans SIM state changes out to NATS and the event log. It is
// invoked from inside the card tree, so every method returns quickly and
// store writes happen on their own goroutine.
type Publisher struct {
	nc    *nats.Conn
	store storage.Store

	mu     sync.Mutex
	phones map[int]*PhoneState
}

// NewPublisher creates a telephony publisher
func NewPublisher(nc *nats.Conn, store storage.Store) *Publisher {
	return &Publisher{
		nc:     nc,
		store:  store,
		phones: make(map[int]*PhoneState),
	}
}

func (p *Publisher) phoneLocked(phoneID int) *PhoneState {
	st, ok := p.phones[phoneID]
	if !ok {
		st = &PhoneState{PhoneID: phoneID, SimState: uicc.SimStateUnknown}
		p.phones[phoneID] = st
	}
	return st
}

// PhoneState returns a copy of the last published state for phoneID
func (p *Publisher) PhoneState(phoneID int) PhoneState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.phoneLocked(phoneID)
}

// UpdateInternalIccState publishes a SIM state change
func (p *Publisher) UpdateInternalIccState(phoneID int, state uicc.SimState, reason string) {
	p.mu.Lock()
	st := p.phoneLocked(phoneID)
	st.SimState = state
	st.Reason = reason
	st.UpdatedAt = time.Now().UTC()
	snapshot := *st
	p.mu.Unlock()

	log.Info().
		Int("phone_id", phoneID).
		Str("state", string(state)).
		Str("reason", reason).
		Msg("SIM state published")

	p.publish(fmt.Sprintf("telephony.sim.%d.state", phoneID), snapshot)

	p.logEvent(&models.EventLog{
		PhoneID:     &phoneID,
		Type:        models.EventTypeSimState,
		Level:       models.EventLevelInfo,
		Description: fmt.Sprintf("SIM state changed to %s", state),
		Details: models.Variables{
			"state":  string(state),
			"reason": reason,
		},
	})
}

// SetSimOperatorNumeric publishes the MCC+MNC of the loaded SIM
func (p *Publisher) SetSimOperatorNumeric(phoneID int, numeric string) {
	p.mu.Lock()
	st := p.phoneLocked(phoneID)
	st.OperatorNumeric = numeric
	st.UpdatedAt = time.Now().UTC()
	snapshot := *st
	p.mu.Unlock()

	p.publish(fmt.Sprintf("telephony.sim.%d.operator", phoneID), snapshot)

	p.logEvent(&models.EventLog{
		PhoneID:     &phoneID,
		Type:        models.EventTypeOperator,
		Level:       models.EventLevelInfo,
		Description: fmt.Sprintf("Operator numeric set to %s", numeric),
		Details: models.Variables{
			"numeric": numeric,
		},
	})
}

// SetSimOperatorName publishes the display name of the loaded SIM
func (p *Publisher) SetSimOperatorName(phoneID int, name string) {
	p.mu.Lock()
	st := p.phoneLocked(phoneID)
	st.OperatorName = name
	st.UpdatedAt = time.Now().UTC()
	snapshot := *st
	p.mu.Unlock()

	p.publish(fmt.Sprintf("telephony.sim.%d.operator", phoneID), snapshot)
}

// SetSimCountryISO publishes the country of the loaded SIM
func (p *Publisher) SetSimCountryISO(phoneID int, iso string) {
	p.mu.Lock()
	st := p.phoneLocked(phoneID)
	st.CountryISO = iso
	st.UpdatedAt = time.Now().UTC()
	snapshot := *st
	p.mu.Unlock()

	p.publish(fmt.Sprintf("telephony.sim.%d.operator", phoneID), snapshot)
}

// NotifyCarrierConfigReset announces that carrier configuration for
// phoneID must be rebuilt from scratch
func (p *Publisher) NotifyCarrierConfigReset(phoneID int) {
	log.Info().Int("phone_id", phoneID).Msg("Carrier config reset")

	p.publish(fmt.Sprintf("telephony.sim.%d.carrier.reset", phoneID), struct {
		PhoneID int `json:"phoneId"`
	}{PhoneID: phoneID})
}

// NotifyCardSignal announces a physical card arrival or removal
func (p *Publisher) NotifyCardSignal(slotIndex int, added bool) {
	eventType := models.EventTypeCardAdded
	subject := fmt.Sprintf("telephony.slot.%d.card.added", slotIndex)
	description := fmt.Sprintf("Card detected in slot %d", slotIndex)
	if !added {
		eventType = models.EventTypeCardRemoved
		subject = fmt.Sprintf("telephony.slot.%d.card.removed", slotIndex)
		description = fmt.Sprintf("Card removed from slot %d", slotIndex)
	}

	log.Info().
		Int("slot", slotIndex).
		Bool("added", added).
		Msg("Card signal")

	p.publish(subject, struct {
		SlotIndex int  `json:"slotIndex"`
		Added     bool `json:"added"`
	}{SlotIndex: slotIndex, Added: added})

	p.logEvent(&models.EventLog{
		SlotIndex:   &slotIndex,
		Type:        eventType,
		Level:       models.EventLevelInfo,
		Description: description,
	})
}

func (p *Publisher) publish(subject string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to marshal telephony event")
		return
	}
	if err := p.nc.Publish(subject, data); err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to publish telephony event")
	}
}

func (p *Publisher) logEvent(event *models.EventLog) {
	go func() {
		if err := p.store.CreateEventLog(context.Background(), event); err != nil {
			log.Error().Err(err).Str("type", string(event.Type)).Msg("Failed to create event log")
		}
	}()
}
