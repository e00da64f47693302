package common

import (
	"fmt"
	"strings"
	"time"

	"pep-tipbot-go/internal/models"
)

const (
	// Default separator widths
	DefaultWidth = 80
	WideWidth    = 100
)

// PrintSeparator prints a separator line with the specified character and width
func PrintSeparator(char string, width int) {
	fmt.Println(strings.Repeat(char, width))
}

// PrintHeader prints a formatted header with title and separators
func PrintHeader(title string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(title)
	PrintSeparator("=", width)
}

// PrintFooter prints a formatted footer with message and separators
func PrintFooter(message string, width int) {
	fmt.Println("\n" + strings.Repeat("=", width))
	fmt.Println(message)
	fmt.Println(strings.Repeat("=", width) + "\n")
}

// BoxPrefix returns the appropriate box-drawing prefix for list items
func BoxPrefix(isLast bool) string {
	if isLast {
		return "└  "
	}
	return "│  "
}

// PrintAccount prints one account with its watermark and deposit address.
func PrintAccount(account models.Account, coin string) {
	name := account.Username
	if name == "" {
		name = "-"
	}
	fmt.Printf("\n┌─ Account: %s (@%s)\n", account.Id, name)
	fmt.Println("├" + strings.Repeat("─", WideWidth-2))
	fmt.Printf("%s Balance:         %s\n", BoxPrefix(false), models.FormatCoins(account.Balance, coin))
	fmt.Printf("%s Credited total:  %s\n", BoxPrefix(false), models.FormatCoins(account.CreditedTotal, coin))
	fmt.Printf("%s Deposit address: %s\n", BoxPrefix(false), orDash(account.DepositAddress))
	fmt.Printf("%s Last faucet:     %s\n", BoxPrefix(false), formatTime(account.LastFaucetAt))
	fmt.Printf("%s Last active:     %s\n", BoxPrefix(true), formatTime(account.LastActiveAt))
}

// PrintAudit prints the conservation report.
func PrintAudit(audit *models.LedgerAudit, coin string) {
	PrintHeader("LEDGER AUDIT", WideWidth)
	fmt.Printf("Accounts:          %d\n", audit.Accounts)
	fmt.Printf("Transfers:         %d\n", audit.TransferCount)
	fmt.Printf("Balances:          %s\n", models.FormatCoins(audit.BalanceTotal, coin))
	fmt.Printf("Deposits:          %s (watermarks %s)\n",
		models.FormatCoins(audit.DepositTotal, coin), models.FormatCoins(audit.CreditedTotal, coin))
	fmt.Printf("Faucet issued:     %s\n", models.FormatCoins(audit.FaucetTotal, coin))
	fmt.Printf("Withdrawn:         %s (fees %s)\n",
		models.FormatCoins(audit.WithdrawTotal, coin), models.FormatCoins(audit.FeeTotal, coin))
	fmt.Printf("Tipped:            %s\n", models.FormatCoins(audit.TipTotal, coin))
	fmt.Printf("Negative balances: %d\n", audit.NegativeCount)

	status := "BALANCED"
	if !audit.Balanced() {
		status = fmt.Sprintf("UNBALANCED: expected %s", models.FormatCoins(audit.Expected(), coin))
	}
	PrintFooter(status, WideWidth)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
