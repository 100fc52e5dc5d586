// Package intent turns free-form user text into one of a closed set of
// commands the bot can act on.
//
// Resolution is a cascade of progressively more expensive tiers:
//
//  1. Pattern tier — pure, zero-I/O: literal OTP shape, greeting vocabulary,
//     ordered domain rule table. Handles the bulk of traffic at zero latency.
//  2. Remote tier — a zero-shot classifier call with a confidence threshold.
//     Buys generalisation for free-form phrasing; fails soft.
//  3. Keyword tier — a reduced deterministic vocabulary that keeps the bot
//     partially functional during a total remote outage.
//
// A message no tier can place resolves to CommandUnresolved.
package intent

// Command is one of the recognised user intents.
type Command string

const (
	CommandBalance        Command = "balance"
	CommandPayWater       Command = "pay_water"
	CommandPayElectricity Command = "pay_electricity"
	CommandPayTV          Command = "pay_tv"
	CommandAirtime        Command = "airtime"
	CommandTopUp          Command = "top_up"
	CommandTransfer       Command = "transfer"
	CommandLoans          Command = "loans"
	CommandHelp           Command = "help"
	CommandGreeting       Command = "greeting"
	CommandOtp            Command = "otp"
	CommandUnresolved     Command = "unresolved"
)

// Sensitive reports whether the command mutates financial state and therefore
// requires OTP confirmation before a transaction is committed.
func (c Command) Sensitive() bool {
	switch c {
	case CommandPayWater, CommandPayElectricity, CommandPayTV,
		CommandAirtime, CommandTopUp, CommandTransfer:
		return true
	}
	return false
}

// Valid reports whether c is a member of the enumeration.
func (c Command) Valid() bool {
	switch c {
	case CommandBalance, CommandPayWater, CommandPayElectricity, CommandPayTV,
		CommandAirtime, CommandTopUp, CommandTransfer, CommandLoans,
		CommandHelp, CommandGreeting, CommandOtp, CommandUnresolved:
		return true
	}
	return false
}

// Source identifies which cascade tier produced a classification.
type Source string

const (
	SourcePattern Source = "pattern"
	SourceRemote  Source = "remote"
	SourceKeyword Source = "keyword"
)

// Classification is the output of a single tier (or of the whole cascade).
// Confidence is meaningful only when Source == SourceRemote; the local tiers
// report 1.0 by convention.
type Classification struct {
	Command    Command
	Confidence float64
	Source     Source
}

// remoteLabels maps the natural-language candidate labels submitted to the
// remote classifier onto commands. The phrasing is deliberately verbose —
// zero-shot models score full sentences far better than bare keywords.
var remoteLabels = []struct {
	Label   string
	Command Command
}{
	{"check account balance", CommandBalance},
	{"pay a water bill", CommandPayWater},
	{"pay an electricity bill", CommandPayElectricity},
	{"pay a tv subscription", CommandPayTV},
	{"buy airtime", CommandAirtime},
	{"deposit money into the wallet", CommandTopUp},
	{"send money to someone", CommandTransfer},
	{"ask about loans", CommandLoans},
	{"greet or ask for help", CommandGreeting},
}

// CandidateLabels returns the label set submitted to the remote classifier.
func CandidateLabels() []string {
	labels := make([]string, len(remoteLabels))
	for i, rl := range remoteLabels {
		labels[i] = rl.Label
	}
	return labels
}

// CommandForLabel maps a remote classifier label back to a Command. A label
// the table does not know is treated as unresolved rather than guessed at.
func CommandForLabel(label string) (Command, bool) {
	for _, rl := range remoteLabels {
		if rl.Label == label {
			return rl.Command, true
		}
	}
	return CommandUnresolved, false
}
