package bot

import (
	"fmt"

	"github.com/ssekandi/sente/internal/sente/intent"
)

// Reply text lives here so the controller stays readable and every Command has
// exactly one user-facing voice.

const menuReply = "Hello! I'm Sente, your mobile money assistant. I can help you with:\n" +
	"• Balance — check your account balance\n" +
	"• Airtime — buy MTN or Airtel airtime\n" +
	"• Send money — transfer to another number\n" +
	"• Top up — deposit to your wallet\n" +
	"• Pay bills — NWSC water, UMEME/Yaka power, DStv or GOtv\n" +
	"• Loans — learn about loan offers\n" +
	"Just tell me what you need, e.g. \"send 20000 to 0700123456\"."

const helpReply = menuReply

const loansReply = "Loan offers are coming soon. You'll be able to borrow from " +
	"UGX 50,000 up to UGX 2,000,000 based on your transaction history. " +
	"Keep using Sente to build your profile!"

const unresolvedReply = "Sorry, I didn't catch that. Try something like:\n" +
	"• \"balance\"\n" +
	"• \"buy airtime 5000\"\n" +
	"• \"send 20000 to 0700123456\"\n" +
	"• \"pay water\"\n" +
	"or reply \"help\" to see everything I can do."

const invalidOtpReply = "That code isn't right or has expired. Check the code and try again, " +
	"or reply \"cancel\" to start over."

const cancelledReply = "Okay, cancelled. Nothing was charged."

const nothingToCancelReply = "There's nothing to cancel right now. Reply \"help\" to see what I can do."

const tryAgainReply = "Sorry, something went wrong on our side. Please try again in a moment."

const insufficientFundsReply = "Your balance can't cover that amount. Reply \"balance\" to check it, " +
	"or \"top up\" to add funds."

func otpReply(command intent.Command, code string) string {
	return fmt.Sprintf("To confirm your %s request, reply with this code: %s\n"+
		"It expires in 5 minutes. Reply \"cancel\" to abort.", commandNoun(command), code)
}

func balanceReply(balanceUGX int64) string {
	return fmt.Sprintf("Your balance is UGX %s.", formatUGX(balanceUGX))
}

func committedReply(command intent.Command, amountUGX int64) string {
	if amountUGX > 0 {
		return fmt.Sprintf("Done! Your %s of UGX %s is complete. Thank you for using Sente.",
			commandNoun(command), formatUGX(amountUGX))
	}
	return fmt.Sprintf("Done! Your %s request is confirmed. An agent will complete it shortly.",
		commandNoun(command))
}

// commandNoun renders a Command as the short noun phrase used in replies.
func commandNoun(c intent.Command) string {
	switch c {
	case intent.CommandPayWater:
		return "water bill payment"
	case intent.CommandPayElectricity:
		return "electricity payment"
	case intent.CommandPayTV:
		return "TV subscription payment"
	case intent.CommandAirtime:
		return "airtime purchase"
	case intent.CommandTopUp:
		return "top-up"
	case intent.CommandTransfer:
		return "transfer"
	default:
		return string(c)
	}
}

// formatUGX renders an amount with thousands separators, e.g. 1234567 →
// "1,234,567".
func formatUGX(amount int64) string {
	s := fmt.Sprintf("%d", amount)
	neg := false
	if len(s) > 0 && s[0] == '-' {
		neg = true
		s = s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	if neg {
		return "-" + s
	}
	return s
}
