package ril

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/uicc-server/uicc-server-pro/internal/uicc"
)

// Client is the modem command channel over NATS request/reply. It
// implements uicc.CardStatusSource, uicc.RecordSource and
// uicc.PrivilegeSource.
//
// Queries (GetCardStatus, GetSlotStatus, SetRadioPower) block the caller.
// Record reads, sim auth and privilege rule loads are issued while the
// caller holds the card tree lock, so their requests run on a fresh
// goroutine and the completion callback is delivered from there.
type Client struct {
	nc      *nats.Conn
	timeout time.Duration
}

// NewClient creates a modem client
func NewClient(nc *nats.Conn, timeout time.Duration) *Client {
	return &Client{
		nc:      nc,
		timeout: timeout,
	}
}

type cardStatusReply struct {
	Error  string           `json:"error,omitempty"`
	Status *uicc.CardStatus `json:"status,omitempty"`
}

type slotStatusReply struct {
	Error       string            `json:"error,omitempty"`
	Unsupported bool              `json:"unsupported,omitempty"`
	Statuses    []uicc.SlotStatus `json:"statuses,omitempty"`
}

type recordReadRequest struct {
	AID  string `json:"aid"`
	Name string `json:"name"`
}

type recordReadReply struct {
	Error string `json:"error,omitempty"`
	Value string `json:"value"`
}

type simAuthRequest struct {
	AID         string `json:"aid"`
	AuthContext int    `json:"authContext"`
	Data        string `json:"data"`
}

type simAuthReply struct {
	Error    string `json:"error,omitempty"`
	Response string `json:"response"`
}

type carrierRulesRequest struct {
	AID string `json:"aid"`
}

type carrierRulesReply struct {
	Error string `json:"error,omitempty"`
	Rules []byte `json:"rules,omitempty"`
}

type radioPowerRequest struct {
	On bool `json:"on"`
}

type radioPowerReply struct {
	Error string `json:"error,omitempty"`
}

// GetCardStatus queries the modem for the card status of phoneID
func (c *Client) GetCardStatus(phoneID int) (*uicc.CardStatus, error) {
	msg, err := c.nc.Request(fmt.Sprintf("ril.%d.card.status.get", phoneID), nil, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("card status request: %w", err)
	}

	var reply cardStatusReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal card status: %w", err)
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("modem: %s", reply.Error)
	}
	if reply.Status == nil {
		return nil, fmt.Errorf("modem returned empty card status")
	}
	return reply.Status, nil
}

// GetSlotStatus queries the modem for the status of all physical slots
func (c *Client) GetSlotStatus() ([]uicc.SlotStatus, error) {
	msg, err := c.nc.Request("ril.slot.status.get", nil, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("slot status request: %w", err)
	}

	var reply slotStatusReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal slot status: %w", err)
	}
	if reply.Unsupported {
		return nil, uicc.ErrSlotStatusUnsupported
	}
	if reply.Error != "" {
		return nil, fmt.Errorf("modem: %s", reply.Error)
	}
	return reply.Statuses, nil
}

// SetRadioPower switches the radio for phoneID on or off
func (c *Client) SetRadioPower(phoneID int, on bool) error {
	data, err := json.Marshal(radioPowerRequest{On: on})
	if err != nil {
		return err
	}

	msg, err := c.nc.Request(fmt.Sprintf("ril.%d.radio.power", phoneID), data, c.timeout)
	if err != nil {
		return fmt.Errorf("radio power request: %w", err)
	}

	var reply radioPowerReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return fmt.Errorf("unmarshal radio power reply: %w", err)
	}
	if reply.Error != "" {
		return fmt.Errorf("modem: %s", reply.Error)
	}
	return nil
}

// ReadRecord reads one elementary file from the application identified by
// aid and delivers the result through done on a separate goroutine.
func (c *Client) ReadRecord(phoneID int, aid, name string, done func(value string, err error)) {
	go func() {
		data, err := json.Marshal(recordReadRequest{AID: aid, Name: name})
		if err != nil {
			done("", err)
			return
		}

		msg, err := c.nc.Request(fmt.Sprintf("ril.%d.record.read", phoneID), data, c.timeout)
		if err != nil {
			done("", fmt.Errorf("record read request: %w", err))
			return
		}

		var reply recordReadReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			done("", fmt.Errorf("unmarshal record read reply: %w", err))
			return
		}
		if reply.Error != "" {
			done("", fmt.Errorf("modem: %s", reply.Error))
			return
		}
		done(reply.Value, nil)
	}()
}

// RequestSimAuthentication forwards an authentication challenge to the
// card application and delivers the base64 response through done.
func (c *Client) RequestSimAuthentication(phoneID int, aid string, authContext int, challenge string, done func(response string, err error)) {
	go func() {
		data, err := json.Marshal(simAuthRequest{AID: aid, AuthContext: authContext, Data: challenge})
		if err != nil {
			done("", err)
			return
		}

		msg, err := c.nc.Request(fmt.Sprintf("ril.%d.sim.auth", phoneID), data, c.timeout)
		if err != nil {
			done("", fmt.Errorf("sim auth request: %w", err))
			return
		}

		var reply simAuthReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			done("", fmt.Errorf("unmarshal sim auth reply: %w", err))
			return
		}
		if reply.Error != "" {
			done("", fmt.Errorf("modem: %s", reply.Error))
			return
		}
		done(reply.Response, nil)
	}()
}

// LoadRules fetches the raw carrier privilege rules (BER-TLV) from the
// access rule application and delivers them through done.
func (c *Client) LoadRules(phoneID int, aid string, done func(raw []byte, err error)) {
	go func() {
		data, err := json.Marshal(carrierRulesRequest{AID: aid})
		if err != nil {
			done(nil, err)
			return
		}

		msg, err := c.nc.Request(fmt.Sprintf("ril.%d.carrier.rules", phoneID), data, c.timeout)
		if err != nil {
			done(nil, fmt.Errorf("carrier rules request: %w", err))
			return
		}

		var reply carrierRulesReply
		if err := json.Unmarshal(msg.Data, &reply); err != nil {
			done(nil, fmt.Errorf("unmarshal carrier rules reply: %w", err))
			return
		}
		if reply.Error != "" {
			done(nil, fmt.Errorf("modem: %s", reply.Error))
			return
		}
		log.Debug().Int("phone_id", phoneID).Int("size", len(reply.Rules)).Msg("Carrier rules fetched")
		done(reply.Rules, nil)
	}()
}
