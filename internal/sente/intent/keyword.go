package intent

import "strings"

// keywordTable is the last-line-of-defense vocabulary: a reduced substring
// table consulted only when both the pattern rules and the remote classifier
// have failed to place the message. Order matters for the same reason as in
// the rule table — balance phrasing before the generic money verbs.
var keywordTable = []struct {
	words   []string
	command Command
}{
	{[]string{"balance", "how much"}, CommandBalance},
	{[]string{"water", "nwsc"}, CommandPayWater},
	{[]string{"electricity", "power", "umeme", "yaka"}, CommandPayElectricity},
	{[]string{"tv", "dstv", "gotv"}, CommandPayTV},
	{[]string{"airtime", "bundle"}, CommandAirtime},
	{[]string{"top up", "topup", "deposit"}, CommandTopUp},
	{[]string{"send", "transfer"}, CommandTransfer},
	{[]string{"loan", "borrow"}, CommandLoans},
	{[]string{"help", "menu"}, CommandHelp},
}

// classifyKeyword runs the fallback vocabulary over the case-folded text.
// Returns nil when nothing matches.
func classifyKeyword(text string) *Classification {
	lowered := strings.ToLower(text)
	for _, entry := range keywordTable {
		for _, w := range entry.words {
			if strings.Contains(lowered, w) {
				return &Classification{Command: entry.command, Confidence: 1.0, Source: SourceKeyword}
			}
		}
	}
	return nil
}
