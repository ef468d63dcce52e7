package chain

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// identityData is the JSON shape of a pallet Data field:
// {"raw":"0x…"}, {"none":null} or a hash variant we ignore.
type identityData map[string]json.RawMessage

type identityFields struct {
	Display identityData `json:"display"`
	Legal   identityData `json:"legal"`
	Web     identityData `json:"web"`
	Email   identityData `json:"email"`
	Twitter identityData `json:"twitter"`
	Riot    identityData `json:"riot"`
	Matrix  identityData `json:"matrix"`
}

type registration struct {
	Info identityFields `json:"info"`
}

// decodeRegistration accepts a registration object or the newer
// [registration, username] tuple.
func decodeRegistration(raw json.RawMessage) (*registration, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var tuple []json.RawMessage
		if err := json.Unmarshal(raw, &tuple); err != nil {
			return nil, err
		}
		if len(tuple) == 0 {
			return nil, nil
		}
		raw = tuple[0]
	}
	var reg registration
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

func (f identityFields) toInfo() IdentityInfo {
	chat := decodeData(f.Matrix)
	if chat == "" {
		chat = decodeData(f.Riot)
	}
	return IdentityInfo{
		Display: decodeData(f.Display),
		Legal:   decodeData(f.Legal),
		Web:     decodeData(f.Web),
		Email:   decodeData(f.Email),
		Social:  strings.TrimPrefix(decodeData(f.Twitter), "@"),
		Chat:    chat,
	}
}

// decodeData returns the UTF-8 value of a raw Data field. Hex payloads are
// decoded; plain strings pass through; anything else is treated as unset.
func decodeData(d identityData) string {
	raw, ok := d["raw"]
	if !ok {
		for k, v := range d {
			if strings.HasPrefix(strings.ToLower(k), "raw") {
				raw, ok = v, true
				break
			}
		}
	}
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(decodeHexText(s))
}

func decodeHexText(s string) string {
	if !strings.HasPrefix(s, "0x") {
		return s
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil || !utf8.Valid(b) {
		return s
	}
	return string(b)
}
