package services

import (
	"bytes"
	"encoding/json"

	"github.com/pion/webrtc/v4"
)

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalOpaque    SignalKind = "opaque"
)

// ClassifySignal labels a negotiation payload for logging and for the
// receiving client. The payload itself is always forwarded unchanged.
func ClassifySignal(raw json.RawMessage) SignalKind {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return SignalOpaque
	}

	var desc webrtc.SessionDescription
	if err := json.Unmarshal(raw, &desc); err == nil && desc.SDP != "" {
		if _, err := desc.Unmarshal(); err == nil {
			switch desc.Type {
			case webrtc.SDPTypeOffer:
				return SignalOffer
			case webrtc.SDPTypeAnswer, webrtc.SDPTypePranswer:
				return SignalAnswer
			}
		}
	}

	if isCandidate(raw) {
		return SignalCandidate
	}

	// simple-peer style wrapper: {"type":"candidate","candidate":{...}}
	var wrapped struct {
		Type      string          `json:"type"`
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Type == "candidate" && isCandidate(wrapped.Candidate) {
		return SignalCandidate
	}

	return SignalOpaque
}

func isCandidate(raw json.RawMessage) bool {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		return false
	}
	return cand.Candidate != ""
}
