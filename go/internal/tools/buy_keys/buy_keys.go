package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"connectrpc.com/connect"

	"github.com/mcdev12/potgame/go/internal/models"
	"github.com/mcdev12/potgame/go/internal/round"
)

// Buys one key per listed account against a running server. Useful for exercising a
// local deployment: the last account in the file ends up holding the round.
func main() {
	server := flag.String("server", "http://localhost:8080", "game server base URL")
	accountsFile := flag.String("accounts", "go/internal/assets/accounts.json", "JSON array of account names")
	pause := flag.Duration("pause", 0, "delay between purchases")
	flag.Parse()

	// 1) Load the accounts
	data, err := os.ReadFile(*accountsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	var accounts []models.Account
	if err := json.Unmarshal(data, &accounts); err != nil {
		fmt.Fprintf(os.Stderr, "unmarshal JSON: %v\n", err)
		os.Exit(1)
	}

	client := round.NewClient(&http.Client{Timeout: 10 * time.Second}, *server)
	ctx := context.Background()

	// 2) Buy and count
	var (
		total    = len(accounts)
		bought   int
		payouts  int
		rejected int
	)

	for _, account := range accounts {
		out, err := client.BuyKey(ctx, account)
		if err != nil {
			fmt.Fprintf(os.Stderr, "buy for %s failed (%s): %v\n", account, connect.CodeOf(err), err)
			rejected++
			continue
		}
		switch out["outcome"] {
		case round.OutcomeRoundEnded:
			fmt.Printf("round ended: %v won %v\n", out["winner"], out["payout"])
			payouts++
		default:
			fmt.Printf("%s bought key at %v, pot %v, %vs left\n", account, out["price"], out["pot"], out["time_left_sec"])
			bought++
		}
		if *pause > 0 {
			time.Sleep(*pause)
		}
	}

	// 3) Print summary
	fmt.Printf(
		"Buy run complete: %d total, %d bought, %d payouts, %d rejected\n",
		total, bought, payouts, rejected,
	)
}
