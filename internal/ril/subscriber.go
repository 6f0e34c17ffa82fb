package ril

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/uicc-server/uicc-server-pro/internal/uicc"
)

// Subscriber routes unsolicited modem notifications into the controller
type Subscriber struct {
	nc         *nats.Conn
	controller *uicc.Controller
	subs       []*nats.Subscription
}

// NewSubscriber creates a modem notification subscriber
func NewSubscriber(nc *nats.Conn, controller *uicc.Controller) *Subscriber {
	return &Subscriber{
		nc:         nc,
		controller: controller,
		subs:       make([]*nats.Subscription, 0),
	}
}

// Start starts subscriptions and blocks until ctx is cancelled
func (s *Subscriber) Start(ctx context.Context) error {
	// Unsolicited card status changes
	sub1, err := s.nc.Subscribe("ril.*.card.status", s.handleCardStatus)
	if err != nil {
		return fmt.Errorf("subscribe card status: %w", err)
	}
	s.subs = append(s.subs, sub1)

	// Unsolicited slot status changes
	sub2, err := s.nc.Subscribe("ril.slot.status", s.handleSlotStatus)
	if err != nil {
		return fmt.Errorf("subscribe slot status: %w", err)
	}
	s.subs = append(s.subs, sub2)

	// Radio state changes
	sub3, err := s.nc.Subscribe("ril.*.radio.state", s.handleRadioState)
	if err != nil {
		return fmt.Errorf("subscribe radio state: %w", err)
	}
	s.subs = append(s.subs, sub3)

	// SIM refresh notifications
	sub4, err := s.nc.Subscribe("ril.*.sim.refresh", s.handleSimRefresh)
	if err != nil {
		return fmt.Errorf("subscribe sim refresh: %w", err)
	}
	s.subs = append(s.subs, sub4)

	// Bare icc-changed notifications carry no payload; re-query the modem
	sub5, err := s.nc.Subscribe("ril.*.icc.changed", s.handleIccChanged)
	if err != nil {
		return fmt.Errorf("subscribe icc changed: %w", err)
	}
	s.subs = append(s.subs, sub5)

	log.Info().
		Int("subscriptions", len(s.subs)).
		Msg("RIL subscriber started")

	<-ctx.Done()

	// Unsubscribe
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}

	return ctx.Err()
}

// phoneIDFromSubject extracts the phone ID token from subjects such as
// ril.<phone>.card.status.
func phoneIDFromSubject(subject string) (int, error) {
	parts := strings.Split(subject, ".")
	if len(parts) < 2 {
		return 0, fmt.Errorf("subject %q has no phone token", subject)
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("subject %q: phone token not numeric", subject)
	}
	return id, nil
}

// handleCardStatus handles unsolicited card status messages. An empty
// payload means "status changed, ask me again".
func (s *Subscriber) handleCardStatus(msg *nats.Msg) {
	phoneID, err := phoneIDFromSubject(msg.Subject)
	if err != nil {
		log.Error().Err(err).Msg("Bad card status subject")
		return
	}

	log.Debug().
		Str("subject", msg.Subject).
		Int("size", len(msg.Data)).
		Msg("Received card status")

	if len(msg.Data) == 0 {
		s.controller.RefreshCardStatus(phoneID)
		return
	}

	var status uicc.CardStatus
	if err := json.Unmarshal(msg.Data, &status); err != nil {
		log.Error().Err(err).Int("phone_id", phoneID).Msg("Failed to unmarshal card status")
		return
	}
	s.controller.OnCardStatus(phoneID, &status, nil)
}

// handleSlotStatus handles unsolicited slot status messages
func (s *Subscriber) handleSlotStatus(msg *nats.Msg) {
	log.Debug().
		Int("size", len(msg.Data)).
		Msg("Received slot status")

	if len(msg.Data) == 0 {
		s.controller.RefreshSlotStatus()
		return
	}

	var statuses []uicc.SlotStatus
	if err := json.Unmarshal(msg.Data, &statuses); err != nil {
		log.Error().Err(err).Msg("Failed to unmarshal slot status")
		return
	}
	s.controller.OnSlotStatus(statuses, nil)
}

// handleRadioState handles radio state change messages
func (s *Subscriber) handleRadioState(msg *nats.Msg) {
	phoneID, err := phoneIDFromSubject(msg.Subject)
	if err != nil {
		log.Error().Err(err).Msg("Bad radio state subject")
		return
	}

	var stateMsg struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(msg.Data, &stateMsg); err != nil {
		log.Error().Err(err).Int("phone_id", phoneID).Msg("Failed to unmarshal radio state")
		return
	}

	switch strings.ToUpper(stateMsg.State) {
	case "ON":
		s.controller.OnRadioStateChanged(phoneID, uicc.RadioStateOn)
	case "OFF":
		s.controller.OnRadioStateChanged(phoneID, uicc.RadioStateOff)
	case "UNAVAILABLE":
		s.controller.OnRadioUnavailable(phoneID)
	default:
		log.Warn().
			Int("phone_id", phoneID).
			Str("state", stateMsg.State).
			Msg("Unknown radio state")
	}
}

// handleSimRefresh handles SIM refresh notifications
func (s *Subscriber) handleSimRefresh(msg *nats.Msg) {
	phoneID, err := phoneIDFromSubject(msg.Subject)
	if err != nil {
		log.Error().Err(err).Msg("Bad sim refresh subject")
		return
	}

	var refresh uicc.SimRefresh
	if err := json.Unmarshal(msg.Data, &refresh); err != nil {
		log.Error().Err(err).Int("phone_id", phoneID).Msg("Failed to unmarshal sim refresh")
		return
	}

	log.Info().
		Int("phone_id", phoneID).
		Str("result", refresh.Result.String()).
		Str("aid", refresh.AID).
		Msg("SIM refresh received")

	s.controller.OnSimRefresh(phoneID, refresh)
}

// handleIccChanged handles bare icc-changed notifications
func (s *Subscriber) handleIccChanged(msg *nats.Msg) {
	phoneID, err := phoneIDFromSubject(msg.Subject)
	if err != nil {
		log.Error().Err(err).Msg("Bad icc changed subject")
		return
	}
	s.controller.RefreshCardStatus(phoneID)
}
