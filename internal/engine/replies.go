package engine

import (
	"fmt"
	"strings"

	"github.com/punchamoorthee/bettask/internal/domain"
)

const helpText = `Here's what I can do:
- "bet 100 on going to the gym" - stake money on a goal
- "my challenges" - see your active commitments
- "i completed my challenge" - claim a completion, then send a photo as proof
- "balance" - check your wallet
- "add funds" / "withdraw" - move money in or out
- "history" - recent transactions
- "cancel" - stop whatever we're doing`

const infoText = `You stake real money on your own goals. Complete the goal by its deadline and you get the stake back plus a bonus; miss it and the stake is forfeited. Say "bet" to start, or "help" for all commands.`

const unknownText = `Not sure what you meant there. Say "bet" to stake money on a goal, or "help" to see everything I can do.`

func formatHistory(txs []domain.LedgerTransaction) string {
	if len(txs) == 0 {
		return "No transactions yet. Say \"add funds\" to get started."
	}
	var b strings.Builder
	b.WriteString("Your recent transactions:\n")
	for _, t := range txs {
		sign := "+"
		amount := t.Amount
		if amount < 0 {
			sign = "-"
			amount = -amount
		}
		fmt.Fprintf(&b, "%s  %s₹%d  %s\n", t.CreatedAt.Format("2 Jan"), sign, amount, t.Type)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCommitments(cs []domain.Commitment) string {
	if len(cs) == 0 {
		return "No active commitments. Say \"bet\" to start one!"
	}
	var b strings.Builder
	b.WriteString("Your active commitments:\n")
	for i, c := range cs {
		fmt.Fprintf(&b, "%d. \"%s\" - ₹%d at stake, due %s\n", i+1, c.Goal, c.Stake, c.Deadline.Format("Mon 2 Jan"))
	}
	return strings.TrimRight(b.String(), "\n")
}
