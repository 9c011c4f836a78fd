// Package adt is the boundary to external ADT (admit/discharge/transfer)
// feeds. Inbound HL7v2 ADT messages are parsed into engine operations;
// outbound state changes are rendered back into ADT notifications.
package adt

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bedcast/bedcast/internal/platform/events"
)

const (
	TriggerAdmit     = "A01"
	TriggerTransfer  = "A02"
	TriggerDischarge = "A03"
)

const (
	sendingApp = "BEDCAST"
	hl7Version = "2.5.1"
	hl7TimeFmt = "20060102150405"
)

// Message is a parsed HL7v2 ADT message.
type Message struct {
	Trigger    string // MSH-9 trigger event (A01, A02, A03)
	ControlID  string // MSH-10
	Timestamp  time.Time
	SendingFac string // MSH-4
	Segments   []Segment
}

type Segment struct {
	Name   string
	Fields []string
}

// Field returns the segment field at the given 1-based HL7 position, or ""
// when absent.
func (s Segment) Field(n int) string {
	if n < 1 || n > len(s.Fields) {
		return ""
	}
	return s.Fields[n-1]
}

// Component returns component c (1-based) of field n.
func (s Segment) Component(n, c int) string {
	parts := strings.Split(s.Field(n), "^")
	if c < 1 || c > len(parts) {
		return ""
	}
	return parts[c-1]
}

// Segment returns the first segment with the given name, if any.
func (m *Message) Segment(name string) (Segment, bool) {
	for _, seg := range m.Segments {
		if seg.Name == name {
			return seg, true
		}
	}
	return Segment{}, false
}

// Parse parses raw HL7v2 bytes into a Message. \r, \n and \r\n segment
// separators are all accepted.
func Parse(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("adt: message is empty")
	}

	text := strings.ReplaceAll(string(raw), "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	var lines []string
	for _, line := range strings.Split(text, "\r") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("adt: no segments found")
	}
	if !strings.HasPrefix(lines[0], "MSH|") {
		return nil, fmt.Errorf("adt: first segment must be MSH")
	}

	msg := &Message{}
	for _, line := range lines {
		parts := strings.Split(line, "|")
		seg := Segment{Name: parts[0]}
		if seg.Name == "MSH" {
			// MSH-1 is the separator itself; keep field numbering aligned
			// with the HL7 positions used below.
			seg.Fields = append([]string{"|"}, parts[1:]...)
		} else {
			seg.Fields = parts[1:]
		}
		msg.Segments = append(msg.Segments, seg)
	}

	msh, _ := msg.Segment("MSH")
	msgType := msh.Field(9)
	typeParts := strings.Split(msgType, "^")
	if len(typeParts) < 2 || typeParts[0] != "ADT" {
		return nil, fmt.Errorf("adt: unsupported message type %q", msgType)
	}
	msg.Trigger = typeParts[1]
	msg.ControlID = msh.Field(10)
	msg.SendingFac = msh.Field(4)

	if ts := msh.Field(7); ts != "" {
		t, err := time.Parse(hl7TimeFmt, ts)
		if err != nil {
			return nil, fmt.Errorf("adt: invalid MSH-7 timestamp %q", ts)
		}
		msg.Timestamp = t.UTC()
	}

	return msg, nil
}

// Generate renders an outbound ADT notification for an engine state change.
// Assignment opens become A01, transfers A02, closes A03.
func Generate(e events.StateChange) ([]byte, error) {
	trigger, err := triggerFor(e)
	if err != nil {
		return nil, err
	}

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	segments := []string{
		buildMSH(trigger, e.FacilityID, ts),
		buildEVN(trigger, ts),
		buildPID(e.PatientID),
		buildPV1(e, ts),
	}
	return []byte(strings.Join(segments, "\r")), nil
}

func triggerFor(e events.StateChange) (string, error) {
	switch e.Type {
	case events.TypeAssignmentOpened:
		if e.Reason == "transfer-in" {
			return TriggerTransfer, nil
		}
		return TriggerAdmit, nil
	case events.TypeAssignmentClosed:
		if e.Disposition == "transfer-out" {
			return TriggerTransfer, nil
		}
		return TriggerDischarge, nil
	default:
		return "", fmt.Errorf("adt: no ADT trigger for event type %q", e.Type)
	}
}

func buildMSH(trigger, facility string, ts time.Time) string {
	return strings.Join([]string{
		"MSH", "^~\\&", sendingApp, facility, "", "",
		ts.Format(hl7TimeFmt), "",
		"ADT^" + trigger,
		uuid.NewString(),
		"P", hl7Version,
	}, "|")
}

func buildEVN(trigger string, ts time.Time) string {
	return strings.Join([]string{"EVN", trigger, ts.Format(hl7TimeFmt)}, "|")
}

func buildPID(patientID string) string {
	return strings.Join([]string{"PID", "1", "", patientID}, "|")
}

func buildPV1(e events.StateChange, ts time.Time) string {
	location := ""
	if e.UnitID != nil {
		location = e.UnitID.String() + "^^" + e.BedLabel
	}
	return strings.Join([]string{
		"PV1", "1", "I", location, "", "", "", "", "", "", "", "", "", "", "", "", "", "", "",
		ts.Format(hl7TimeFmt),
	}, "|")
}
