// Package certificate defines the raw and canonical certificate shapes and
// the normalization between them.
package certificate

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	apperrors "secregistry/internal/errors"
)

// Raw is a certificate record as persisted at issuance time. Historical
// records differ in which energy field they carry and occasionally store
// numbers as quoted strings, so the numeric fields are kept as json.Number
// and coerced during normalization.
type Raw struct {
	ID             json.Number `json:"id"`
	Owner          string      `json:"owner"`
	EnergyKwh      json.Number `json:"energyKwh,omitempty"`
	EnergyWh       json.Number `json:"energyWh,omitempty"`
	EnergyProduced json.Number `json:"energyProduced,omitempty"`
	Timestamp      json.Number `json:"timestamp"`
	TxHash         *string     `json:"txHash"`
}

// Canonical is the single normalized shape returned by every read endpoint.
type Canonical struct {
	ID             int64   `json:"id"`
	Owner          string  `json:"owner"`
	EnergyKwh      float64 `json:"energyKwh"`
	EnergyWh       int64   `json:"energyWh"`
	Timestamp      int64   `json:"timestamp"`
	TimestampHuman string  `json:"timestampHuman"`
	TxHash         *string `json:"txHash"`
}

// NewRaw builds the record the issuer appends to the store. The energy value
// is kept at full precision; rounding happens only during normalization.
func NewRaw(id int64, owner string, energyKwh float64, timestamp int64, txHash *string) Raw {
	return Raw{
		ID:        json.Number(strconv.FormatInt(id, 10)),
		Owner:     owner,
		EnergyKwh: json.Number(strconv.FormatFloat(energyKwh, 'f', -1, 64)),
		Timestamp: json.Number(strconv.FormatInt(timestamp, 10)),
		TxHash:    txHash,
	}
}

// IDInt64 coerces the stored id to an integer, accepting float encodings
// such as 12.0. Every consumer of a raw id goes through this so records with
// float-encoded ids behave the same on every read path.
func (r Raw) IDInt64() (int64, error) {
	return asInt(r.ID)
}

const humanTimeLayout = "2006-01-02 15:04:05"

// Normalize maps a raw record into the canonical shape. Energy resolution
// prefers energyKwh, then energyWh, then the legacy energyProduced field
// (both Wh-denominated). The canonical energyWh is derived from the rounded
// kWh so energyWh == round(energyKwh*1000) holds exactly.
func Normalize(raw Raw) (Canonical, error) {
	id, err := asInt(raw.ID)
	if err != nil {
		return Canonical{}, apperrors.Wrap(apperrors.CodeValidation, "certificate id is missing or not numeric", err)
	}
	ts, err := asInt(raw.Timestamp)
	if err != nil {
		return Canonical{}, apperrors.Wrap(apperrors.CodeValidation, "certificate timestamp is missing or not numeric", err)
	}

	kwh, err := resolveKwh(raw)
	if err != nil {
		return Canonical{}, apperrors.Wrap(apperrors.CodeValidation, "certificate energy is not numeric", err)
	}

	wh := math.Round(kwh * 1000)
	return Canonical{
		ID:             id,
		Owner:          raw.Owner,
		EnergyKwh:      wh / 1000,
		EnergyWh:       int64(wh),
		Timestamp:      ts,
		TimestampHuman: time.Unix(ts, 0).UTC().Format(humanTimeLayout),
		TxHash:         raw.TxHash,
	}, nil
}

// AsRaw re-expresses a canonical certificate as a raw record, used when a
// canonical-shaped document is fed back through normalization.
func (c Canonical) AsRaw() Raw {
	return NewRaw(c.ID, c.Owner, c.EnergyKwh, c.Timestamp, c.TxHash)
}

func resolveKwh(raw Raw) (float64, error) {
	if raw.EnergyKwh != "" {
		return raw.EnergyKwh.Float64()
	}
	whField := raw.EnergyWh
	if whField == "" {
		whField = raw.EnergyProduced
	}
	if whField == "" {
		// Records with no energy field at all normalize to zero.
		return 0, nil
	}
	wh, err := whField.Float64()
	if err != nil {
		return 0, err
	}
	return wh / 1000.0, nil
}

// asInt coerces a stored number to an integer, accepting float encodings
// such as 12.0 the way the original records carried them.
func asInt(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
