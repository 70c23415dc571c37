// cmd/swapctl is a one-shot control client for a running cmd/swapd
// process: it builds and signs envelopes, posts them to swapd's REST
// surface, and reads back trade status. It never touches a trade.Manager
// or receipt store directly; everything goes through the same API an
// external bridge service would use (spec §6).
//
// Grounded on cmd/lncli's main.go + cmd_pay.go: a urfave/cli app with
// global connection flags (rpcserver/macaroon there, api-addr/bridge-token
// here) and one cli.Command per RPC the daemon exposes.
package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/interswap/swapd/params"
	"github.com/interswap/swapd/pkg/argrepair"
	"github.com/interswap/swapd/pkg/codec"
	"github.com/interswap/swapd/pkg/envelope"
	"github.com/interswap/swapd/pkg/schema"
	"github.com/interswap/swapd/pkg/swapcrypto"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[swapctl] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "swapctl"
	app.Usage = "control plane for a running swapd peer"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "api-addr", Value: "http://localhost:8080", Usage: "swapd REST base URL"},
		cli.StringFlag{Name: "bridge-token", Usage: "bearer token, if swapd requires one"},
		cli.StringFlag{Name: "seed", Usage: "hex-encoded 32-byte signer seed for commands that sign an envelope"},
	}
	app.Commands = []cli.Command{
		quoteCommand,
		acceptCommand,
		statusCommand,
		cancelCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

var quoteCommand = cli.Command{
	Name:      "quote",
	Usage:     "submit an RFQ envelope requesting a quote",
	ArgsUsage: "trade_id direction btc_sats usdt_amount valid_until_unix",
	Action: func(c *cli.Context) error {
		if c.NArg() != 5 {
			return cli.NewExitError("usage: swapctl quote <trade_id> <direction> <btc_sats> <usdt_amount> <valid_until_unix>", 2)
		}
		tradeID, direction, sats, amount, validUntil := c.Args().Get(0), c.Args().Get(1), c.Args().Get(2), c.Args().Get(3), c.Args().Get(4)

		// A human or an upstream assistant may pass decimal amounts
		// ("0.12") or comma/underscore-formatted integers instead of the
		// atomic decimal strings pkg/schema requires; repair them here,
		// before the envelope is signed, since the signature covers the
		// exact body bytes and can't be patched afterward (spec §4.7).
		opts := argrepair.Options{StripUnitSuffix: params.LoadFromEnv("").Argrepair.StripUnitSuffix}
		body := map[string]any{
			"pair":             schema.PairBTCUSDT,
			"direction":        direction,
			"btc_sats":         jsonNumber(argrepair.CoerceLamports(sats, opts)),
			"usdt_amount":      argrepair.CoerceUSDT(amount, opts),
			"valid_until_unix": jsonNumber(validUntil),
		}
		return signAndSubmit(c, tradeID, envelope.KindRFQ, body)
	},
}

var acceptCommand = cli.Command{
	Name:      "accept",
	Usage:     "submit an ACCEPT envelope for a trade's current terms",
	ArgsUsage: "trade_id terms_hash",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.NewExitError("usage: swapctl accept <trade_id> <terms_hash>", 2)
		}
		tradeID, termsHash := c.Args().Get(0), c.Args().Get(1)
		body := map[string]any{"terms_hash": termsHash}
		return signAndSubmit(c, tradeID, envelope.KindAccept, body)
	},
}

var cancelCommand = cli.Command{
	Name:      "cancel",
	Usage:     "submit a CANCEL envelope for a trade",
	ArgsUsage: "trade_id reason",
	Action: func(c *cli.Context) error {
		if c.NArg() != 2 {
			return cli.NewExitError("usage: swapctl cancel <trade_id> <reason>", 2)
		}
		tradeID, reason := c.Args().Get(0), c.Args().Get(1)
		body := map[string]any{"reason": reason}
		return signAndSubmit(c, tradeID, envelope.KindCancel, body)
	},
}

var statusCommand = cli.Command{
	Name:      "status",
	Usage:     "print a trade's current state",
	ArgsUsage: "trade_id",
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return cli.NewExitError("usage: swapctl status <trade_id>", 2)
		}
		tradeID := c.Args().Get(0)

		req, err := http.NewRequest(http.MethodGet, c.GlobalString("api-addr")+"/api/v1/trades/"+tradeID, nil)
		if err != nil {
			return cli.NewExitError(err.Error(), 3)
		}
		applyAuth(req, c)

		resp, err := httpClient().Do(req)
		if err != nil {
			return cli.NewExitError(err.Error(), 3)
		}
		defer resp.Body.Close()

		data, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			return cli.NewExitError(fmt.Sprintf("swapd returned %s: %s", resp.Status, data), 3)
		}
		fmt.Println(string(data))
		return nil
	},
}

// signAndSubmit builds an unsigned envelope of kind for tradeID with body,
// signs it with the seed-derived (or freshly generated) signer, and POSTs
// it to swapd's envelope endpoint.
func signAndSubmit(c *cli.Context, tradeID string, kind envelope.Kind, body map[string]any) error {
	signer, err := loadOrGenerateSigner(c.GlobalString("seed"))
	if err != nil {
		return cli.NewExitError(err.Error(), 2)
	}

	unsigned := codec.UnsignedEnvelope{V: 1, Kind: string(kind), TradeID: tradeID, Body: body}
	signed, err := envelope.Sign(unsigned, kind, signer)
	if err != nil {
		return cli.NewExitError(err.Error(), 3)
	}

	payload, err := json.Marshal(signed)
	if err != nil {
		return cli.NewExitError(err.Error(), 3)
	}

	req, err := http.NewRequest(http.MethodPost, c.GlobalString("api-addr")+"/api/v1/envelopes", bytes.NewReader(payload))
	if err != nil {
		return cli.NewExitError(err.Error(), 3)
	}
	req.Header.Set("Content-Type", "application/json")
	applyAuth(req, c)

	resp, err := httpClient().Do(req)
	if err != nil {
		return cli.NewExitError(err.Error(), 3)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return cli.NewExitError(fmt.Sprintf("swapd rejected envelope (%s): %s", resp.Status, data), 3)
	}
	fmt.Println(string(data))
	return nil
}

func applyAuth(req *http.Request, c *cli.Context) {
	if token := c.GlobalString("bridge-token"); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

func loadOrGenerateSigner(hexSeed string) (*swapcrypto.Signer, error) {
	if hexSeed == "" {
		return swapcrypto.GenerateSigner()
	}
	seed, err := hex.DecodeString(hexSeed)
	if err != nil || len(seed) != 32 {
		return nil, fmt.Errorf("seed must be 64 hex characters (32 bytes)")
	}
	return swapcrypto.SignerFromSeed(seed)
}

// jsonNumber passes numeric command-line args through as json.Number so
// they survive encoding as bare integers rather than quoted strings.
func jsonNumber(s string) json.Number { return json.Number(s) }
