// SPDX-License-Identifier: Apache-2.0

// Package qr encodes product labels as JSON QR payloads and reads them
// back from scanned data.
package qr

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/skip2/go-qrcode"
)

// UnknownName is used for products generated without a name.
const UnknownName = "Unknown Product"

// Payload is the content of a product QR code. Scanned data that is not a
// JSON object is kept in Raw.
type Payload struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	Timestamp   string `json:"timestamp"`
	TrackingURL string `json:"trackingUrl,omitempty"`
	Raw         string `json:"raw,omitempty"`
}

// TrackingURL returns the public tracking page of product id.
func TrackingURL(baseURL, id string) string {
	return strings.TrimRight(baseURL, "/") + "/track/" + url.PathEscape(id)
}

// Generate builds the QR payload of product id.
func Generate(id, name, baseURL string, now time.Time) (Payload, error) {
	if strings.TrimSpace(id) == "" {
		return Payload{}, errors.New("empty product id")
	}
	if name == "" {
		name = UnknownName
	}
	return Payload{
		ID:          id,
		Name:        name,
		Timestamp:   now.UTC().Format(time.RFC3339Nano),
		TrackingURL: TrackingURL(baseURL, id),
	}, nil
}

// Encode returns the JSON form of p as stored in the QR code.
func (p Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	return data, errors.WithMessage(err, "encoding qr payload")
}

// Terminal renders p as a QR code made of unicode blocks.
func (p Payload) Terminal() (string, error) {
	data, err := p.Encode()
	if err != nil {
		return "", err
	}
	code, err := qrcode.New(string(data), qrcode.Medium)
	if err != nil {
		return "", errors.WithMessage(err, "rendering qr code")
	}
	return code.ToSmallString(false), nil
}

// Valid reports whether data is a product QR payload: a JSON object with a
// string id and a timestamp.
func Valid(data []byte) bool {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	id, ok := fields["id"].(string)
	if !ok || id == "" {
		return false
	}
	ts, ok := fields["timestamp"]
	return ok && ts != nil && ts != "" && ts != false
}

// Parse reads scanned data. Data that is not a JSON object with a string
// id is returned as Raw with the scan time as timestamp.
func Parse(data []byte, now time.Time) Payload {
	var p Payload
	if err := json.Unmarshal(data, &p); err == nil && strings.TrimSpace(p.ID) != "" {
		p.Raw = ""
		return p
	}
	return Payload{Raw: string(data), Timestamp: now.UTC().Format(time.RFC3339Nano)}
}
