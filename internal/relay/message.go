// Package relay is the cross-device channel between a handheld scanner and
// the register during parcel intake. Messages are broadcast without being
// stored; each sender numbers its messages so receivers can drop stale or
// repeated ones.
package relay

import (
	"errors"
	"fmt"
	"time"
)

// Kind identifies a relay message.
type Kind string

const (
	// KindTracking carries a scanned barcode.
	KindTracking Kind = "tracking"
	// KindUnit carries the unit number as it is typed.
	KindUnit Kind = "unit"
	// KindSubmit asks the register to check a parcel in.
	KindSubmit Kind = "submit"
	// KindResult is the register's answer to a submit.
	KindResult Kind = "result"
	// KindDuplicate reports a parcel that was already checked in.
	KindDuplicate Kind = "duplicate"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindTracking, KindUnit, KindSubmit, KindResult, KindDuplicate:
		return true
	}
	return false
}

// ErrInvalidMessage is wrapped by every message validation failure.
var ErrInvalidMessage = errors.New("invalid relay message")

// Message is one relay broadcast. Which fields are set depends on Kind.
type Message struct {
	Kind   Kind   `json:"kind"`
	Sender string `json:"sender"`
	Seq    int64  `json:"seq"`

	Tracking     string  `json:"tracking,omitempty"`
	Carrier      string  `json:"carrier,omitempty"`
	Unit         string  `json:"unit,omitempty"`
	ResidentName *string `json:"resident_name,omitempty"`
	ResidentID   *string `json:"resident_id,omitempty"`

	Success  bool   `json:"success,omitempty"`
	Error    string `json:"error,omitempty"`
	ParcelID string `json:"parcel_id,omitempty"`

	SentAt time.Time `json:"sent_at"`
}

// Validate checks that the fields a kind needs are present. Sender and Seq
// are stamped by the channel and not checked here.
func (m Message) Validate() error {
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidMessage, m.Kind)
	}
	switch m.Kind {
	case KindTracking:
		if m.Tracking == "" {
			return fmt.Errorf("%w: tracking message needs a tracking number", ErrInvalidMessage)
		}
	case KindSubmit, KindDuplicate:
		if m.Tracking == "" || m.Unit == "" {
			return fmt.Errorf("%w: %s message needs tracking and unit", ErrInvalidMessage, m.Kind)
		}
	case KindResult:
		if !m.Success && m.Error == "" {
			return fmt.Errorf("%w: failed result needs an error", ErrInvalidMessage)
		}
	}
	return nil
}

// Tracking builds a scanned-barcode message.
func Tracking(tracking, carrier string) Message {
	return Message{Kind: KindTracking, Tracking: tracking, Carrier: carrier}
}

// Unit builds a unit-number message.
func Unit(unit string) Message {
	return Message{Kind: KindUnit, Unit: unit}
}

// Submit builds a check-in request. residentName and residentID may be nil
// when the resident is not known yet.
func Submit(tracking, carrier, unit string, residentName, residentID *string) Message {
	return Message{
		Kind:         KindSubmit,
		Tracking:     tracking,
		Carrier:      carrier,
		Unit:         unit,
		ResidentName: residentName,
		ResidentID:   residentID,
	}
}

// Result builds the answer to a submit. A nil err means success.
func Result(parcelID string, err error) Message {
	if err != nil {
		return Message{Kind: KindResult, Success: false, Error: err.Error()}
	}
	return Message{Kind: KindResult, Success: true, ParcelID: parcelID}
}

// Duplicate builds a duplicate-scan notice.
func Duplicate(tracking, carrier, unit string) Message {
	return Message{Kind: KindDuplicate, Tracking: tracking, Carrier: carrier, Unit: unit}
}
