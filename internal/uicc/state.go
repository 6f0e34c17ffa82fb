package uicc

// InvalidPhoneID marks a slot that is not mapped to any logical phone.
const InvalidPhoneID = -1

// MaxApps is the size of the per-profile application array. The modem
// addresses applications by position inside this array.
const MaxApps = 8

// CardState represents the physical state of a card at a slot.
type CardState int

const (
	CardStateUnknown CardState = iota
	CardStateAbsent
	CardStatePresent
	CardStateError
	CardStateRestricted
)

func (s CardState) String() string {
	switch s {
	case CardStateAbsent:
		return "ABSENT"
	case CardStatePresent:
		return "PRESENT"
	case CardStateError:
		return "ERROR"
	case CardStateRestricted:
		return "RESTRICTED"
	default:
		return "UNKNOWN"
	}
}

// RadioState represents the power state of the radio for one phone.
type RadioState int

const (
	RadioStateUnavailable RadioState = iota
	RadioStateOff
	RadioStateOn
)

func (s RadioState) String() string {
	switch s {
	case RadioStateOff:
		return "OFF"
	case RadioStateOn:
		return "ON"
	default:
		return "UNAVAILABLE"
	}
}

// AppType identifies a card application technology.
type AppType int

const (
	AppTypeUnknown AppType = iota
	AppTypeSIM
	AppTypeUSIM
	AppTypeRUIM
	AppTypeCSIM
	AppTypeISIM
)

func (t AppType) String() string {
	switch t {
	case AppTypeSIM:
		return "SIM"
	case AppTypeUSIM:
		return "USIM"
	case AppTypeRUIM:
		return "RUIM"
	case AppTypeCSIM:
		return "CSIM"
	case AppTypeISIM:
		return "ISIM"
	default:
		return "UNKNOWN"
	}
}

// AppState represents the lifecycle state of one card application.
type AppState int

const (
	AppStateUnknown AppState = iota
	AppStateDetected
	AppStatePin
	AppStatePuk
	AppStateSubscriptionPerso
	AppStateReady
)

func (s AppState) String() string {
	switch s {
	case AppStateDetected:
		return "DETECTED"
	case AppStatePin:
		return "PIN"
	case AppStatePuk:
		return "PUK"
	case AppStateSubscriptionPerso:
		return "SUBSCRIPTION_PERSO"
	case AppStateReady:
		return "READY"
	default:
		return "UNKNOWN"
	}
}

// PinState represents the state of PIN1 or PIN2 for an application.
type PinState int

const (
	PinStateUnknown PinState = iota
	PinStateDisabled
	PinStateEnabledNotVerified
	PinStateEnabledVerified
	PinStateEnabledBlocked
	PinStateEnabledPermBlocked
)

func (s PinState) String() string {
	switch s {
	case PinStateDisabled:
		return "DISABLED"
	case PinStateEnabledNotVerified:
		return "ENABLED_NOT_VERIFIED"
	case PinStateEnabledVerified:
		return "ENABLED_VERIFIED"
	case PinStateEnabledBlocked:
		return "ENABLED_BLOCKED"
	case PinStateEnabledPermBlocked:
		return "ENABLED_PERM_BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// PersoSubState represents the personalization sub-state of an application
// in AppStateSubscriptionPerso.
type PersoSubState int

const (
	PersoSubStateUnknown PersoSubState = iota
	PersoSubStateInProgress
	PersoSubStateReady
	PersoSubStateSimNetwork
	PersoSubStateSimNetworkSubset
	PersoSubStateSimCorporate
	PersoSubStateSimServiceProvider
	PersoSubStateSimSim
	PersoSubStateSimNetworkPuk
	PersoSubStateSimNetworkSubsetPuk
	PersoSubStateSimCorporatePuk
	PersoSubStateSimServiceProviderPuk
	PersoSubStateSimSimPuk
)

// IsNetworkLocked reports whether the sub-state is one of the network lock
// categories that must be surfaced to the user as NETWORK_LOCKED.
func (s PersoSubState) IsNetworkLocked() bool {
	switch s {
	case PersoSubStateSimNetwork, PersoSubStateSimNetworkSubset,
		PersoSubStateSimCorporate, PersoSubStateSimServiceProvider,
		PersoSubStateSimSim, PersoSubStateSimNetworkPuk,
		PersoSubStateSimNetworkSubsetPuk, PersoSubStateSimCorporatePuk,
		PersoSubStateSimServiceProviderPuk, PersoSubStateSimSimPuk:
		return true
	default:
		return false
	}
}

// AppFamily groups application types by technology family.
type AppFamily int

const (
	Family3GPP AppFamily = iota
	Family3GPP2
	FamilyIMS
)

// SimState is the externally visible state of a SIM, published to the rest
// of the telephony stack. It is fully recomputed after every trigger and is
// allowed to regress.
type SimState string

const (
	SimStateUnknown        SimState = "UNKNOWN"
	SimStateAbsent         SimState = "ABSENT"
	SimStateCardIOError    SimState = "CARD_IO_ERROR"
	SimStateCardRestricted SimState = "CARD_RESTRICTED"
	SimStateNotReady       SimState = "NOT_READY"
	SimStatePinRequired    SimState = "PIN_REQUIRED"
	SimStatePukRequired    SimState = "PUK_REQUIRED"
	SimStateNetworkLocked  SimState = "NETWORK_LOCKED"
	SimStatePermDisabled   SimState = "PERM_DISABLED"
	SimStateReady          SimState = "READY"
	SimStateLoaded         SimState = "LOADED"
)

// LockedReason returns the reason string attached to a published state
// change, or "" for states that carry no reason.
func (s SimState) LockedReason() string {
	switch s {
	case SimStatePinRequired:
		return "PIN"
	case SimStatePukRequired:
		return "PUK"
	case SimStateNetworkLocked:
		return "NETWORK"
	case SimStatePermDisabled:
		return "PERM_DISABLED"
	case SimStateCardIOError:
		return "IO_ERROR"
	case SimStateCardRestricted:
		return "RESTRICTED"
	default:
		return ""
	}
}
