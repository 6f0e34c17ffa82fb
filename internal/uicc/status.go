package uicc

// CardStatus is the modem's answer to a card status query and the payload of
// an icc-status-changed notification.
type CardStatus struct {
	// PhysicalSlotIndex addresses the slot this status belongs to.
	// -1 means unspecified; the controller falls back to the phone ID.
	PhysicalSlotIndex int       `json:"physicalSlotIndex"`
	CardState         CardState `json:"cardState"`
	UniversalPinState PinState  `json:"universalPinState"`

	// Family indices point into Applications. -1 means no application
	// for that family.
	GsmUmtsSubscriptionAppIndex int `json:"gsmUmtsSubscriptionAppIndex"`
	CdmaSubscriptionAppIndex    int `json:"cdmaSubscriptionAppIndex"`
	ImsSubscriptionAppIndex     int `json:"imsSubscriptionAppIndex"`

	ATR   string `json:"atr,omitempty"`
	ICCID string `json:"iccid,omitempty"`
	EID   string `json:"eid,omitempty"`

	Applications []AppStatus `json:"applications"`
}

// AppStatus describes one application inside a CardStatus.
type AppStatus struct {
	AID           string        `json:"aid"`
	Label         string        `json:"label,omitempty"`
	AppType       AppType       `json:"appType"`
	AppState      AppState      `json:"appState"`
	PersoSubState PersoSubState `json:"persoSubState"`
	Pin1Replaced  bool          `json:"pin1Replaced"`
	Pin1          PinState      `json:"pin1"`
	Pin2          PinState      `json:"pin2"`
}

// SlotStatus is one entry of the modem's answer to a slot status query.
type SlotStatus struct {
	Active           bool      `json:"active"`
	CardState        CardState `json:"cardState"`
	LogicalSlotIndex int       `json:"logicalSlotIndex"`
	ATR              string    `json:"atr,omitempty"`
	ICCID            string    `json:"iccid,omitempty"`
	EID              string    `json:"eid,omitempty"`
}

// RefreshResult classifies a sim-refresh notification.
type RefreshResult int

const (
	RefreshResultFileUpdate RefreshResult = iota
	RefreshResultInit
	RefreshResultReset
)

func (r RefreshResult) String() string {
	switch r {
	case RefreshResultInit:
		return "INIT"
	case RefreshResultReset:
		return "RESET"
	default:
		return "FILE_UPDATE"
	}
}

// SimRefresh is the payload of a sim-refresh notification. An empty AID
// addresses all applications on the card.
type SimRefresh struct {
	Result RefreshResult `json:"result"`
	EFID   int           `json:"efId,omitempty"`
	AID    string        `json:"aid,omitempty"`
}
