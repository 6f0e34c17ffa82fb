package uicc

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/moov-io/bertlv"
	"github.com/rs/zerolog/log"
)

// PrivilegeSource loads the raw BER-TLV carrier access rules for a card.
// The result is delivered asynchronously on the source's goroutine.
type PrivilegeSource interface {
	LoadRules(phoneID int, aid string, done func(raw []byte, err error))
}

// AccessRule grants carrier privileges to the application signed with
// CertificateHash, optionally restricted to PackageName.
type AccessRule struct {
	CertificateHash []byte `json:"certificateHash"`
	PackageName     string `json:"packageName,omitempty"`
}

// CarrierPrivileges owns the carrier access rules of one profile. It is
// created lazily the first time the card is present and torn down when the
// card leaves the present state. Loading is asynchronous; completion
// re-triggers the profile's state recomputation through onLoaded.
type CarrierPrivileges struct {
	lock *sync.Mutex

	phoneID  int
	loading  bool
	rules    []AccessRule
	disposed bool
}

// newCarrierPrivileges starts an asynchronous rule load. onLoaded runs with
// the tree lock held once loading finishes, successfully or not.
func newCarrierPrivileges(lock *sync.Mutex, phoneID int, aid string, source PrivilegeSource, onLoaded func()) *CarrierPrivileges {
	cp := &CarrierPrivileges{
		lock:    lock,
		phoneID: phoneID,
		loading: true,
	}
	source.LoadRules(phoneID, aid, func(raw []byte, err error) {
		cp.lock.Lock()
		defer cp.lock.Unlock()
		if cp.disposed {
			return
		}
		cp.loading = false
		if err != nil {
			// An error still counts as loaded: the card simply grants
			// no privileges.
			log.Warn().Err(err).Int("phone_id", phoneID).Msg("Carrier privilege rule load failed")
		} else if rules, perr := parseAccessRules(raw); perr != nil {
			log.Warn().Err(perr).Int("phone_id", phoneID).Msg("Carrier privilege rules undecodable")
		} else {
			cp.rules = rules
			log.Info().Int("phone_id", phoneID).Int("rules", len(rules)).Msg("Carrier privilege rules loaded")
		}
		onLoaded()
	})
	return cp
}

// rulesLoadedLocked reports whether loading has finished. Caller holds the
// tree lock.
func (cp *CarrierPrivileges) rulesLoadedLocked() bool {
	return !cp.loading
}

// RulesLoaded reports whether the asynchronous load has finished.
func (cp *CarrierPrivileges) RulesLoaded() bool {
	cp.lock.Lock()
	defer cp.lock.Unlock()
	return cp.rulesLoadedLocked()
}

// HasPrivileges reports whether certHash matches one of the loaded rules.
func (cp *CarrierPrivileges) HasPrivileges(certHash []byte) bool {
	cp.lock.Lock()
	defer cp.lock.Unlock()
	for _, r := range cp.rules {
		if bytes.Equal(r.CertificateHash, certHash) {
			return true
		}
	}
	return false
}

// Rules returns a copy of the loaded access rules.
func (cp *CarrierPrivileges) Rules() []AccessRule {
	cp.lock.Lock()
	defer cp.lock.Unlock()
	out := make([]AccessRule, len(cp.rules))
	copy(out, cp.rules)
	return out
}

// disposeLocked detaches the rule object; a late load completion becomes a
// no-op. Caller holds the tree lock.
func (cp *CarrierPrivileges) disposeLocked() {
	cp.disposed = true
	cp.rules = nil
}

// Access rule encoding (GlobalPlatform SEAC / ARA-M response):
//
//   E2 (REF-AR-DO)
//     E1 (REF-DO)
//       C1 <sha hash of signer certificate>
//       CA <package name, ASCII>          optional
//     E3 (AR-DO)                          ignored here
//
// parseAccessRules decodes a concatenation of REF-AR-DOs.
func parseAccessRules(raw []byte) ([]AccessRule, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	packets, err := bertlv.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("bertlv decode: %w", err)
	}

	var rules []AccessRule
	for _, p := range packets {
		if !strings.EqualFold(p.Tag, "E2") {
			continue
		}
		rule, ok, err := parseRefArDo(p)
		if err != nil {
			return nil, err
		}
		if ok {
			rules = append(rules, rule)
		}
	}
	return rules, nil
}

func parseRefArDo(p bertlv.TLV) (AccessRule, bool, error) {
	children := p.TLVs
	if len(children) == 0 {
		var err error
		children, err = bertlv.Decode(p.Value)
		if err != nil {
			return AccessRule{}, false, fmt.Errorf("decode REF-AR-DO: %w", err)
		}
	}
	for _, c := range children {
		if !strings.EqualFold(c.Tag, "E1") {
			continue
		}
		refs := c.TLVs
		if len(refs) == 0 {
			var err error
			refs, err = bertlv.Decode(c.Value)
			if err != nil {
				return AccessRule{}, false, fmt.Errorf("decode REF-DO: %w", err)
			}
		}
		var rule AccessRule
		for _, ref := range refs {
			switch strings.ToUpper(ref.Tag) {
			case "C1":
				rule.CertificateHash = ref.Value
			case "CA":
				rule.PackageName = string(ref.Value)
			}
		}
		if len(rule.CertificateHash) > 0 {
			return rule, true, nil
		}
	}
	return AccessRule{}, false, nil
}
