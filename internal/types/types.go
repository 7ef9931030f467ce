// Package types defines the core domain models for hydra-pay (hpd).
// It contains the head lifecycle status, the lifecycle request/response
// shapes used on the wire, and the transaction and UTxO records exchanged
// with the external cardano tooling.
package types

import "encoding/json"

// Version is the current version of hpd
const Version = "0.1.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// Status represents the lifecycle status of a head. Transitions move
// forward only; the monitor derives them from node event messages.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInit      Status = "init"
	StatusCommiting Status = "commiting"
	StatusOpen      Status = "open"
	StatusClosed    Status = "closed"
	StatusFanout    Status = "fanout"
)

// TxType distinguishes reserved fuel outputs from ordinary spendable funds.
type TxType string

const (
	TxFuel  TxType = "fuel"
	TxFunds TxType = "funds"
)

// KeyInfo holds the on-disk key material for one proxy address: a cardano
// payment keypair and a hydra keypair, stored as file paths. Exactly one
// KeyInfo exists per owner address; keys are never rotated.
type KeyInfo struct {
	CardanoSigningKey      string `json:"cardano_signing_key"`
	CardanoVerificationKey string `json:"cardano_verification_key"`
	HydraSigningKey        string `json:"hydra_signing_key"`
	HydraVerificationKey   string `json:"hydra_verification_key"`
}

// ProxyInfo is the cached registry entry for one owner address.
type ProxyInfo struct {
	Address string  `json:"address"` // custodial proxy address derived from the cardano verification key
	Keys    KeyInfo `json:"keys"`
}

// HeadRecord is the authoritative in-process record of one head.
type HeadRecord struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"` // owner addresses
	Status       Status   `json:"status"`
}

// Transaction is the opaque payload produced by cardano-cli. The three
// JSON keys match the tool's output file format exactly.
type Transaction struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	CborHex     string `json:"cborHex"`
}

// HeadCreate is the request shape for creating a head.
type HeadCreate struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
	StartNetwork bool     `json:"startNetwork"`
}

// HeadInit is the request shape for initializing a head.
type HeadInit struct {
	Name        string `json:"name"`
	Participant string `json:"participant"`
}

// HeadCommit is the request shape for committing funds into a head.
type HeadCommit struct {
	Name        string `json:"name"`
	Participant string `json:"participant"`
}

// HeadStatus is the response shape reporting one head's state.
type HeadStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
	Status  Status `json:"status"`
}

// TxBuild is the request shape for building a funding or fuel transaction.
type TxBuild struct {
	TxType  TxType `json:"txType"`
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// TxOutValue carries the value of one unspent output: its lovelace plus any
// native assets, keyed by policy id. Asset bundles are kept opaque; the
// control plane never spends them, only carries them through.
type TxOutValue struct {
	Lovelace uint64
	Assets   map[string]json.RawMessage
}

// HasAssets reports whether the output carries native assets besides lovelace.
func (v TxOutValue) HasAssets() bool {
	return len(v.Assets) > 0
}

func (v *TxOutValue) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	v.Lovelace = 0
	v.Assets = nil
	for key, val := range raw {
		if key == "lovelace" {
			if err := json.Unmarshal(val, &v.Lovelace); err != nil {
				return err
			}
			continue
		}
		if v.Assets == nil {
			v.Assets = make(map[string]json.RawMessage)
		}
		v.Assets[key] = val
	}
	return nil
}

func (v TxOutValue) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(v.Assets)+1)
	lovelace, err := json.Marshal(v.Lovelace)
	if err != nil {
		return nil, err
	}
	out["lovelace"] = lovelace
	for key, val := range v.Assets {
		out[key] = val
	}
	return json.Marshal(out)
}

// TxOut is one unspent output as reported by `cardano-cli query utxo`.
type TxOut struct {
	Address   string     `json:"address"`
	Value     TxOutValue `json:"value"`
	DatumHash string     `json:"datumhash,omitempty"`
}

// UTxOSet maps "txid#index" references to outputs.
type UTxOSet map[string]TxOut

// WithoutDatumHash returns the subset of outputs not tagged with the given
// datum hash. Used to exclude reserved fuel outputs from spendable funds.
func (u UTxOSet) WithoutDatumHash(hash string) UTxOSet {
	out := make(UTxOSet, len(u))
	for ref, txOut := range u {
		if txOut.DatumHash == hash {
			continue
		}
		out[ref] = txOut
	}
	return out
}

// OnlyLovelace returns the subset of outputs carrying no native assets.
// Only these are safe to spend into a lovelace-only output.
func (u UTxOSet) OnlyLovelace() UTxOSet {
	out := make(UTxOSet, len(u))
	for ref, txOut := range u {
		if txOut.Value.HasAssets() {
			continue
		}
		out[ref] = txOut
	}
	return out
}

// TotalLovelace sums the lovelace value across all outputs in the set.
func (u UTxOSet) TotalLovelace() uint64 {
	var total uint64
	for _, txOut := range u {
		total += txOut.Value.Lovelace
	}
	return total
}
