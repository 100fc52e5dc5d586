package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// AirtimeRequest is the structured form of a fully-specified airtime message
// such as "airtime 5000 for 0700123456 mtn". Parsed once at classification
// time and carried through the confirmation step so the details survive
// without re-parsing.
type AirtimeRequest struct {
	Provider  string `json:"provider,omitempty"`
	AmountUGX int64  `json:"amount_ugx,omitempty"`
	Target    string `json:"target,omitempty"`
}

// TransferRequest is the structured form of a transfer message such as
// "send 20000 to mukasa".
type TransferRequest struct {
	AmountUGX int64  `json:"amount_ugx,omitempty"`
	Recipient string `json:"recipient,omitempty"`
}

var (
	amountPattern   = regexp.MustCompile(`\b(\d{3,9})\b`)
	msisdnPattern   = regexp.MustCompile(`\b(0\d{9}|256\d{9})\b`)
	providerPattern = regexp.MustCompile(`(?i)\b(mtn|airtel)\b`)
	recipientSplit  = regexp.MustCompile(`(?i)\bto\s+(\S+)`)
)

// ParseAirtime extracts whatever airtime details the message carries. All
// fields are optional; an empty struct means the user gave no specifics and
// the reply should prompt for them after confirmation.
func ParseAirtime(text string) AirtimeRequest {
	var req AirtimeRequest

	if m := providerPattern.FindString(text); m != "" {
		req.Provider = strings.ToUpper(m)
	}
	if m := msisdnPattern.FindString(text); m != "" {
		req.Target = m
	}
	// The amount must not swallow the phone number, so strip any MSISDN
	// before scanning for digits.
	scrubbed := msisdnPattern.ReplaceAllString(text, "")
	if m := amountPattern.FindString(scrubbed); m != "" {
		if n, err := strconv.ParseInt(m, 10, 64); err == nil {
			req.AmountUGX = n
		}
	}
	return req
}

// ParseTransfer extracts the amount and recipient from a transfer message.
func ParseTransfer(text string) TransferRequest {
	var req TransferRequest

	if m := recipientSplit.FindStringSubmatch(text); len(m) == 2 {
		req.Recipient = m[1]
	}
	if m := amountPattern.FindString(text); m != "" {
		if n, err := strconv.ParseInt(m, 10, 64); err == nil {
			req.AmountUGX = n
		}
	}
	return req
}
